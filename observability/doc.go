// Package observability provides an OpenTelemetry metrics extension for
// orchestra. The MetricsExtension implements lifecycle hooks to record
// engine-wide counters for run outcomes, step completion, failure, retry
// and skip events, and circuit breaker openings.
//
// For per-invocation tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
