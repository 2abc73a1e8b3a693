package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	observed []float64
	labels   []Labels
	flushes  int
}

func newRecording() *recordingBackend {
	return &recordingBackend{counters: map[string]float64{}}
}

func (r *recordingBackend) IncCounter(name string, delta float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"/"+l["kind"]+l["status"]] += delta
	r.labels = append(r.labels, l)
}

func (r *recordingBackend) ObserveHistogram(_ string, v float64, _ Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, v)
}

func (r *recordingBackend) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

// Tests in this file swap the global backend and therefore do not run in
// parallel.

func TestRecordHelpers(t *testing.T) {
	rec := newRecording()
	prev := SetBackend(rec)
	t.Cleanup(func() { SetBackend(prev) })

	RecordStep("inv", "dimension", nil, 1500*time.Millisecond)
	RecordStep("inv", "normalize", errors.New("boom"), time.Second)
	RecordRow("inv", "unmatched_date", 3)
	RecordRow("inv", "unmatched_date", 0)
	RecordRow("inv", "unmatched_date", -1)
	RecordBatches("inv", 2)
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := rec.counters[StepTotal+"/success"]; got != 1 {
		t.Fatalf("step success = %v, want 1", got)
	}
	if got := rec.counters[StepTotal+"/failure"]; got != 1 {
		t.Fatalf("step failure = %v, want 1", got)
	}
	if got := rec.counters[RecordsTotal+"/unmatched_date"]; got != 3 {
		t.Fatalf("unmatched_date = %v, want 3", got)
	}
	if got := rec.counters[BatchesTotal+"/"]; got != 2 {
		t.Fatalf("batches = %v, want 2", got)
	}
	if len(rec.observed) != 2 || rec.observed[0] != 1.5 {
		t.Fatalf("observed = %v", rec.observed)
	}
	if rec.flushes != 1 {
		t.Fatalf("flushes = %d", rec.flushes)
	}
	for _, l := range rec.labels {
		if l["job"] != "inv" {
			t.Fatalf("labels missing job: %v", l)
		}
	}
}

func TestSetBackendNilRestoresNop(t *testing.T) {
	prev := SetBackend(nil)
	t.Cleanup(func() { SetBackend(prev) })

	RecordRow("j", "read", 1)
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush: %v", err)
	}
}
