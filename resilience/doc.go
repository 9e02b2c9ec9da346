// Package resilience provides guards for outbound transport calls.
//
// The guards reject or bound work before it reaches a remote service.
// None of them retries: a rejected or failed call is reported to the
// caller exactly once.
//
// # Guards
//
//   - CircuitBreaker: stops calling a failing endpoint after a run of
//     failures and probes it again after a cool-down.
//
//   - RateLimiter: token bucket limiting calls per second, either failing
//     fast or waiting up to a bound for a token.
//
//   - Bulkhead: caps the number of concurrent calls.
//
//   - Deadline: bounds a single call with a context deadline.
//
// WaitWithTimeout bounds how long a caller waits on a shared result
// without cancelling the work that produces it.
//
// # Usage
//
//	exec := resilience.NewExecutor(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 20, Burst: 5})),
//	    resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 8})),
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//	)
//
//	err := exec.Execute(ctx, func(ctx context.Context) error {
//	    return callRemote(ctx)
//	})
//	if resilience.IsRejection(err) {
//	    // the call never reached the remote service
//	}
package resilience
