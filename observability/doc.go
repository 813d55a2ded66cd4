// Package observability provides OpenTelemetry-based lifecycle metrics for
// jobq. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for job enqueue, start, completion, failure,
// timeout, retry, dead-letter, cancellation, and cron events.
//
// For per-execution tracing and duration histograms, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
