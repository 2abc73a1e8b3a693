package datadog

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/jonboulle/clockwork"

	"stardim/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
	sent     chan struct{}
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{sent: make(chan struct{}, 16)}
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, body)
	err := f.err
	f.mu.Unlock()
	f.sent <- struct{}{}
	return datadogV2.IntakePayloadAccepted{}, nil, err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() datadogV2.MetricPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

func newTestBackend(t *testing.T, sub *fakeSubmitter, clock clockwork.Clock) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:    "inventory",
		Tags:       []string{"service:stardim"},
		FlushEvery: time.Minute,
		clock:      clock,
		submitter:  sub,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

func findSeries(p datadogV2.MetricPayload, metric string, tag string) (datadogV2.MetricSeries, bool) {
	for _, s := range p.Series {
		if s.Metric != metric {
			continue
		}
		for _, tg := range s.Tags {
			if tg == tag {
				return s, true
			}
		}
	}
	return datadogV2.MetricSeries{}, false
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestWrapInitErr(t *testing.T) {
	t.Parallel()

	if got := wrapInitErr(nil); got != nil {
		t.Fatalf("wrapInitErr(nil)=%v, want nil", got)
	}
	in := errors.New("boom")
	got := wrapInitErr(in)
	if !errors.Is(got, in) || !strings.Contains(got.Error(), "datadog metrics init:") {
		t.Fatalf("wrapInitErr(err)=%v", got)
	}
}

func TestNearestRank(t *testing.T) {
	t.Parallel()

	s := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1}, {0.5, 6}, {0.9, 9}, {1, 10}, {1.5, 10}, {-1, 1},
	}
	for _, tc := range tests {
		if got := nearestRank(s, tc.p); got != tc.want {
			t.Fatalf("nearestRank(p=%v)=%v, want %v", tc.p, got, tc.want)
		}
	}
	if got := nearestRank(nil, 0.5); got != 0 {
		t.Fatalf("nearestRank(nil)=%v", got)
	}
}

func TestBuildSeriesOrderedAndTagged(t *testing.T) {
	t.Parallel()

	b := &Backend{baseTags: []string{"env:test", "job:j"}}
	buf := newBuffer()
	buf.steps[stepKey{"normalize", "success"}] = 2
	buf.steps[stepKey{"date_dimension", "error"}] = 1
	buf.durations[stepKey{"normalize", "success"}] = []float64{3, 1, 2}

	series := b.buildSeries(buf, 42)
	for i := 1; i < len(series); i++ {
		if series[i-1].Metric > series[i].Metric {
			t.Fatalf("series not ordered: %q before %q", series[i-1].Metric, series[i].Metric)
		}
	}
	first, ok := findSeries(datadogV2.MetricPayload{Series: series}, "stardim.step.total", "status:error")
	if !ok || first.Tags[2] != "step:date_dimension" || *first.Points[0].Timestamp != 42 {
		t.Fatalf("step series = %+v", first)
	}
	p50, ok := findSeries(datadogV2.MetricPayload{Series: series}, "stardim.step.duration_seconds.p50", "step:normalize")
	if !ok || *p50.Points[0].Value != 2 {
		t.Fatalf("p50 series = %+v", p50)
	}
	if got := buf.durations[stepKey{"normalize", "success"}]; got[0] != 3 {
		t.Fatalf("samples were reordered: %v", got)
	}
	// withTags must not share the base slice between series.
	if len(b.baseTags) != 2 {
		t.Fatalf("base tags mutated: %v", b.baseTags)
	}
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	got := ParseTagsCSV(" env:prod, ,service:stardim ")
	if len(got) != 2 || got[0] != "env:prod" || got[1] != "service:stardim" {
		t.Fatalf("ParseTagsCSV=%v", got)
	}
	if ParseTagsCSV("") != nil {
		t.Fatalf("ParseTagsCSV(\"\") != nil")
	}
}

func TestFlushBuildsSeriesAndResets(t *testing.T) {
	t.Setenv("ENV", "test")

	sub := newFakeSubmitter()
	clock := clockwork.NewFakeClockAt(time.Date(2016, 12, 31, 0, 0, 0, 0, time.UTC))
	b := newTestBackend(t, sub, clock)
	defer b.Close()

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "dimension", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 4, metrics.Labels{"kind": "unmatched_date"})
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{})
	b.IncCounter(metrics.BatchesTotal, 2, nil)
	b.IncCounter("unknown_metric", 1, nil)
	b.ObserveHistogram(metrics.StepDuration, 0.5, metrics.Labels{"step": "dimension", "status": "success"})
	b.ObserveHistogram(metrics.StepDuration, -1, metrics.Labels{"step": "dimension", "status": "success"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	p := sub.last()

	rec, ok := findSeries(p, "stardim.records.total", "kind:unmatched_date")
	if !ok || *rec.Points[0].Value != 4 {
		t.Fatalf("records series missing or wrong: %+v", p.Series)
	}
	if *rec.Points[0].Timestamp != clock.Now().Unix() {
		t.Fatalf("timestamp = %d", *rec.Points[0].Timestamp)
	}
	for _, tag := range []string{"env:test", "job:inventory", "service:stardim"} {
		if _, ok := findSeries(p, "stardim.batches.total", tag); !ok {
			t.Fatalf("batches series missing tag %q", tag)
		}
	}
	if _, ok := findSeries(p, "stardim.step.total", "step:dimension"); !ok {
		t.Fatalf("step series missing")
	}
	if s, ok := findSeries(p, "stardim.step.duration_seconds.samples", "status:success"); !ok || *s.Points[0].Value != 1 {
		t.Fatalf("duration samples series missing or wrong")
	}

	// Buffers were reset: a second flush sends nothing.
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if sub.count() != 1 {
		t.Fatalf("submissions = %d, want 1", sub.count())
	}
}

func TestFlushLoopUsesClock(t *testing.T) {
	t.Parallel()

	sub := newFakeSubmitter()
	clock := clockwork.NewFakeClock()
	b := newTestBackend(t, sub, clock)

	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "read"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker never registered: %v", err)
	}
	clock.Advance(time.Minute)

	select {
	case <-sub.sent:
	case <-ctx.Done():
		t.Fatalf("no flush after advancing the clock")
	}

	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "read"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sub.count() != 2 {
		t.Fatalf("submissions = %d, want 2 (tick + close)", sub.count())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestFlushReturnsSubmitError(t *testing.T) {
	t.Parallel()

	sub := newFakeSubmitter()
	sub.err = errors.New("403")
	b := newTestBackend(t, sub, clockwork.NewFakeClock())
	defer b.Close()

	b.IncCounter(metrics.BatchesTotal, 1, nil)
	if err := b.Flush(); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("Flush err = %v, want submit error", err)
	}
}

func TestNewBackendRequiresAPIKey(t *testing.T) {
	t.Setenv("DD_API_KEY", "")
	if _, err := NewBackend(context.Background(), Options{}); err == nil {
		t.Fatalf("NewBackend without DD_API_KEY: want error")
	}
}
