package observe

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CacheOutcome classifies one cache lookup.
type CacheOutcome string

const (
	CacheHit     CacheOutcome = "hit"     // fresh value served from memory
	CacheMiss    CacheOutcome = "miss"    // lookup started a fetch
	CacheJoin    CacheOutcome = "join"    // lookup joined an in-flight fetch
	CacheFailure CacheOutcome = "failure" // fetch completed with an error
)

// Metrics records client-side API metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordRequest records one transport call. status is 0 when no
	// response was received.
	RecordRequest(ctx context.Context, meta RequestMeta, status int, duration time.Duration, err error)

	// RecordDedup records a caller that joined an identical in-flight read.
	RecordDedup(ctx context.Context, meta RequestMeta)

	// RecordRefresh records one credential refresh execution.
	RecordRefresh(ctx context.Context, duration time.Duration, err error)

	// RecordCache records one cache lookup for the named resource.
	RecordCache(ctx context.Context, resource string, outcome CacheOutcome)
}

// metricsImpl is the OpenTelemetry implementation of Metrics.
type metricsImpl struct {
	requests     metric.Int64Counter
	errors       metric.Int64Counter
	duration     metric.Float64Histogram
	dedupJoins   metric.Int64Counter
	refreshes    metric.Int64Counter
	refreshFails metric.Int64Counter
	cacheLookups metric.Int64Counter
}

// NewMetrics creates a Metrics instance with instruments on the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.requests, err = meter.Int64Counter("http.client.requests",
		metric.WithDescription("Total number of outbound transport calls"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("http.client.errors",
		metric.WithDescription("Transport calls that failed or returned an error status"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("http.client.duration_ms",
		metric.WithDescription("Transport call duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.dedupJoins, err = meter.Int64Counter("apikit.dedup.joins",
		metric.WithDescription("Reads served by joining an identical in-flight request"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.refreshes, err = meter.Int64Counter("apikit.refresh.total",
		metric.WithDescription("Credential refresh executions"),
		metric.WithUnit("{refresh}"),
	); err != nil {
		return nil, err
	}
	if m.refreshFails, err = meter.Int64Counter("apikit.refresh.errors",
		metric.WithDescription("Failed credential refresh executions"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = meter.Int64Counter("apikit.cache.lookups",
		metric.WithDescription("Resource cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRequest records metrics for a transport call.
func (m *metricsImpl) RecordRequest(ctx context.Context, meta RequestMeta, status int, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", meta.Method),
		attribute.String("url.path", meta.Endpoint),
		attribute.String("http.response.status_class", statusClass(status)),
	}
	opt := metric.WithAttributes(attrs...)

	m.requests.Add(ctx, 1, opt)
	if err != nil || status == 0 || status >= 400 {
		m.errors.Add(ctx, 1, opt)
	}
	m.duration.Record(ctx, float64(duration.Milliseconds()), opt)
}

// RecordDedup records a deduplicated read.
func (m *metricsImpl) RecordDedup(ctx context.Context, meta RequestMeta) {
	m.dedupJoins.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.request.method", meta.Method),
		attribute.String("url.path", meta.Endpoint),
	))
}

// RecordRefresh records a credential refresh.
func (m *metricsImpl) RecordRefresh(ctx context.Context, _ time.Duration, err error) {
	m.refreshes.Add(ctx, 1)
	if err != nil {
		m.refreshFails.Add(ctx, 1)
	}
}

// RecordCache records a cache lookup.
func (m *metricsImpl) RecordCache(ctx context.Context, resource string, outcome CacheOutcome) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.resource", resource),
		attribute.String("cache.outcome", string(outcome)),
	))
}

func statusClass(status int) string {
	if status <= 0 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}

// nopMetrics is a metrics implementation that does nothing.
type nopMetrics struct{}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) RecordRequest(context.Context, RequestMeta, int, time.Duration, error) {}
func (nopMetrics) RecordDedup(context.Context, RequestMeta)                             {}
func (nopMetrics) RecordRefresh(context.Context, time.Duration, error)                  {}
func (nopMetrics) RecordCache(context.Context, string, CacheOutcome)                    {}
