// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// Metrics are buffered in memory and submitted on a periodic flush (default
// once per minute) plus a final flush on Close, so long runs produce a time
// series rather than a single spike at exit.
//
// Recording only touches an in-memory buffer under a mutex. Flush swaps the
// buffer out and submits it without holding the lock. The flush loop ticks on
// a clockwork clock so tests can drive it.
package datadog

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/jonboulle/clockwork"

	"stardim/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "stardim".
	JobName string

	// Tags are extra Datadog tags (e.g. "service:stardim").
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// Defaults to 60 seconds.
	FlushEvery time.Duration

	// Test seams; production leaves them nil.
	clock     clockwork.Clock
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi used here.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	clock      clockwork.Clock
	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags []string

	mu  sync.Mutex
	buf *buffer
}

var _ metrics.Backend = (*Backend)(nil)

// stepKey identifies one step outcome.
type stepKey struct {
	step, status string
}

func (k stepKey) tags(base []string) []string {
	return withTags(base, "step:"+k.step, "status:"+k.status)
}

// buffer holds everything recorded since the last flush.
type buffer struct {
	steps     map[stepKey]float64
	durations map[stepKey][]float64
	records   map[string]float64
	batches   float64
}

func newBuffer() *buffer {
	return &buffer{
		steps:     map[stepKey]float64{},
		durations: map[stepKey][]float64{},
		records:   map[string]float64{},
	}
}

func (b *buffer) empty() bool {
	return len(b.steps) == 0 && len(b.durations) == 0 && len(b.records) == 0 && b.batches == 0
}

// NewBackend constructs a Datadog backend using the official client, which
// reads DD_API_KEY and DD_SITE from the environment.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "stardim"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	clock := opts.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	submitter := opts.submitter
	if submitter == nil {
		if strings.TrimSpace(os.Getenv("DD_API_KEY")) == "" {
			return nil, wrapInitErr(fmt.Errorf("DD_API_KEY is not set"))
		}
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		clock:      clock,
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   withTags([]string{resolveEnvTag(), "job:" + job}, opts.Tags...),
		buf:        newBuffer(),
	}
	go b.loop()
	return b, nil
}

// resolveEnvTag prefers ENV over DD_ENV.
func resolveEnvTag() string {
	for _, key := range []string{"ENV", "DD_ENV"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	ticker := b.clock.NewTicker(b.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Later calls
// only flush.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown names and non-positive
// deltas are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StepTotal:
		b.buf.steps[stepKey{labels["step"], labels["status"]}] += delta
	case metrics.RecordsTotal:
		if kind := labels["kind"]; kind != "" {
			b.buf.records[kind] += delta
		}
	case metrics.BatchesTotal:
		b.buf.batches += delta
	}
}

// ObserveHistogram implements metrics.Backend. Only step durations are kept.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDuration {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	k := stepKey{labels["step"], labels["status"]}
	b.buf.durations[k] = append(b.buf.durations[k], value)
}

// take swaps in a fresh buffer and returns the old one.
func (b *Backend) take() *buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.buf
	b.buf = newBuffer()
	return out
}

// Flush submits buffered metrics and resets local buffers, even when the
// submission fails. Nothing is sent when nothing was recorded.
func (b *Backend) Flush() error {
	buf := b.take()
	if buf.empty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(buf, b.clock.Now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries renders buf without touching the backend's state. Series are
// ordered by metric name, then tags.
func (b *Backend) buildSeries(buf *buffer, nowUnix int64) []datadogV2.MetricSeries {
	var series []datadogV2.MetricSeries
	add := func(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string) {
		series = append(series, datadogV2.MetricSeries{
			Metric: metric,
			Type:   typ.Ptr(),
			Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)}},
			Tags:   tags,
		})
	}

	for k, v := range buf.steps {
		add("stardim.step.total", datadogV2.METRICINTAKETYPE_COUNT, v, k.tags(b.baseTags))
	}
	for kind, v := range buf.records {
		add("stardim.records.total", datadogV2.METRICINTAKETYPE_COUNT, v, withTags(b.baseTags, "kind:"+kind))
	}
	if buf.batches != 0 {
		add("stardim.batches.total", datadogV2.METRICINTAKETYPE_COUNT, buf.batches, b.baseTags)
	}

	const prefix = "stardim.step.duration_seconds"
	for k, samples := range buf.durations {
		if len(samples) == 0 {
			continue
		}
		sorted := slices.Clone(samples)
		slices.Sort(sorted)
		tags := k.tags(b.baseTags)
		for _, q := range quantiles {
			add(prefix+"."+q.suffix, datadogV2.METRICINTAKETYPE_GAUGE, nearestRank(sorted, q.p), tags)
		}
		add(prefix+".max", datadogV2.METRICINTAKETYPE_GAUGE, sorted[len(sorted)-1], tags)
		add(prefix+".samples", datadogV2.METRICINTAKETYPE_GAUGE, float64(len(sorted)), tags)
	}

	slices.SortStableFunc(series, func(x, y datadogV2.MetricSeries) int {
		if c := cmp.Compare(x.Metric, y.Metric); c != 0 {
			return c
		}
		return slices.Compare(x.Tags, y.Tags)
	})
	return series
}

var quantiles = []struct {
	suffix string
	p      float64
}{
	{"p50", 0.50}, {"p90", 0.90}, {"p95", 0.95}, {"p99", 0.99},
}

func withTags(base []string, extras ...string) []string {
	return append(slices.Clip(base), extras...)
}

// nearestRank reads the p-quantile of sorted, rounding the rank to the
// nearest sample.
func nearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Round(p * float64(n-1)))
	return sorted[min(max(idx, 0), n-1)]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,service:stardim".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
