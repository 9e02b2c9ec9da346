// Package apiclient executes request descriptors against an HTTP API.
//
// Every request goes through a single pipeline:
//
//	Attempt -> (401) Refresh -> Retry -> Done
//
// A request that requires a credential carries the current access token
// as a bearer header. A 401 triggers exactly one credential refresh and
// one retry; if authorization still fails the unauthorized hook fires
// once and the request ends Unauthenticated. There are no other retries.
//
// Identical reads in flight are deduplicated: they share one transport
// call and one Result. Failures never surface as Go errors from Execute;
// they are classified into Result.Err as Network, Unauthenticated, HTTP
// or Parse errors.
//
// Transports compose. ObserveTransport adds tracing, metrics and logging
// to each attempt, and GuardTransport runs attempts through a
// resilience.Executor.
package apiclient
