package observe

import (
	"context"
	"time"
)

// CallFunc performs one transport call and reports the received HTTP
// status, or 0 when no response arrived.
type CallFunc func(ctx context.Context) (status int, err error)

// Middleware wraps transport calls with observability (tracing, metrics, logging).
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from the wrapped call are recorded and propagated unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability
// components. Nil components are replaced by no-op implementations.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Metrics returns the metrics sink used by the middleware.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the logger used by the middleware.
func (m *Middleware) Logger() Logger { return m.logger }

// Observe runs fn inside a client span and records its duration and outcome.
func (m *Middleware) Observe(ctx context.Context, meta RequestMeta, fn CallFunc) (int, error) {
	ctx, span := m.tracer.StartSpan(ctx, meta)
	start := time.Now()

	status, err := fn(ctx)

	duration := time.Since(start)
	m.tracer.EndSpan(span, status, err)
	m.metrics.RecordRequest(ctx, meta, status, duration, err)

	reqLogger := m.logger.WithRequest(meta)
	fields := []Field{
		F("duration_ms", float64(duration.Milliseconds())),
		F("status", status),
	}
	switch {
	case err != nil:
		fields = append(fields, F("error", err))
		reqLogger.Error(ctx, "request failed", fields...)
	case status >= 400:
		reqLogger.Warn(ctx, "request returned error status", fields...)
	default:
		reqLogger.Debug(ctx, "request completed", fields...)
	}

	return status, err
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
