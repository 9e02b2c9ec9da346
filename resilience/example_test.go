package resilience_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/apikit/resilience"
)

func ExampleNewCircuitBreaker() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 2})
	ctx := context.Background()
	failing := func(context.Context) error { return errors.New("upstream unavailable") }

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)

	err := cb.Execute(ctx, failing)
	fmt.Println(cb.State(), errors.Is(err, resilience.ErrCircuitOpen))
	// Output:
	// open true
}

func ExampleExecutor_Execute() {
	exec := resilience.NewExecutor(
		resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 4})),
		resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 10, Burst: 1})),
	)
	ctx := context.Background()

	first := exec.Execute(ctx, func(context.Context) error { return nil })
	second := exec.Execute(ctx, func(context.Context) error { return nil })

	fmt.Println(first, resilience.IsRejection(second))
	// Output:
	// <nil> true
}
