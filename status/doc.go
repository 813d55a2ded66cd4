// Package status is the read-only query surface for dashboards and the
// operator CLI.
//
// A [Tracker] reads through the [Reader] contract every store backend
// implements. It reports per-queue sizes and counters, worker health,
// dead-letter counts, job search, throughput over fixed periods and a feed
// of recent completions and dead-letters.
//
// [Tracker.SearchJobs] accepts an optional CEL expression evaluated
// against each job:
//
//	job.type == "send_email" && job.attempts > 1
//	job.queue == "media" && job.payload.width > 1024.0
//
// The job variable exposes type, queue, state, priority, attempts,
// max_attempts, created_ms and payload (the decoded JSON payload).
package status
