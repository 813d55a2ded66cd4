// Package queue implements the queue core: enqueue with deduplication,
// priority-tiered dequeue with anti-starvation, acknowledgement, failure
// handling through the retry policy table, delayed promotion and recovery
// of jobs held by dead workers.
//
// # Tiers and Fairness
//
// Every queue is split into four priority tiers (critical, high, normal,
// low). [Core.Dequeue] serves the highest non-empty tier. Each time a lower
// tier holds a ready job while a higher tier is served, its skip counter
// grows; once the counter reaches the starvation limit (default 8) that
// tier is served next, regardless of higher-tier work. Counters live in
// process memory and are per queue.
//
// Within one tier jobs are served FIFO by their ready time.
//
// # Per-Queue Limits
//
// Use [Limits] to set per-queue rate limits and concurrency caps:
//
//	queue.Limits{
//	    Name:           "email",
//	    MaxConcurrency: 5,
//	    RateLimit:      10, // jobs/s
//	    RateBurst:      20,
//	}
//
// [Manager] enforces them at dequeue time with a token-bucket limiter
// (golang.org/x/time/rate) and an active-count gate.
//
//	m := queue.NewManager(limits...)
//	if permit := m.Acquire(queueName); permit != nil {
//	    qj, _ := core.Dequeue(ctx, queueName, workerID)
//	    if qj == nil {
//	        permit.Refund() // an empty poll does not spend the rate
//	    } else {
//	        // process the job
//	        permit.Release()
//	    }
//	}
//
// Queues without [Limits] have no limits beyond the pool-wide concurrency.
package queue
