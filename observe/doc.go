// Package observe provides observability primitives for outbound API calls.
//
// It is a pure instrumentation library: a JSON structured logger with
// credential redaction, OpenTelemetry tracing and metrics for transport
// calls, refreshes and cache lookups, and exporter setup. The apiclient,
// credential and cache packages accept its Logger and Metrics.
package observe
