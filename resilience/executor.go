package resilience

import (
	"context"
	"time"
)

// Executor composes guards around a call.
type Executor struct {
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	circuitBreaker *CircuitBreaker
	deadline       *Deadline
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new executor. With no options it runs calls unguarded.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithRateLimiter adds rate limiting to the executor.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) { e.rateLimiter = rl }
}

// WithBulkhead adds a concurrency cap to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) { e.bulkhead = b }
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.circuitBreaker = cb }
}

// WithDeadline bounds each call.
func WithDeadline(timeout time.Duration) ExecutorOption {
	return func(e *Executor) { e.deadline = NewDeadline(timeout) }
}

// CircuitBreaker returns the configured breaker, or nil.
func (e *Executor) CircuitBreaker() *CircuitBreaker { return e.circuitBreaker }

// Execute runs op through the configured guards, outermost first:
// rate limiter, bulkhead, circuit breaker, deadline. op runs at most once.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	call := op
	if e.deadline != nil {
		call = wrap(e.deadline.Execute, call)
	}
	if e.circuitBreaker != nil {
		call = wrap(e.circuitBreaker.Execute, call)
	}
	if e.bulkhead != nil {
		call = wrap(e.bulkhead.Execute, call)
	}
	if e.rateLimiter != nil {
		call = wrap(e.rateLimiter.Execute, call)
	}
	return call(ctx)
}

type guardFunc func(context.Context, func(context.Context) error) error

func wrap(guard guardFunc, inner func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return guard(ctx, inner)
	}
}
