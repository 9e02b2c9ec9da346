// Package health reports whether a session's dependencies are usable.
//
// A Checker reports Healthy, Degraded or Unhealthy. The Aggregator runs a
// set of checkers in parallel under one timeout and folds their results
// into an overall status. StorageCheck, CredentialCheck and CircuitCheck
// cover the storage backend, the current credential and the transport
// circuit breaker.
package health
