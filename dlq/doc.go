// Package dlq provides the dead letter queue for jobs that failed
// permanently: their attempts ran out, or the failure kind is terminal
// (serialization, configuration).
//
// Dead-lettering is terminal. The job envelope stays in the job table with
// its full failure history; the dead-letter set orders it by the time it
// failed. [Entry] is the read view an operator sees.
//
// # Service
//
//	svc := dlq.NewService(store, dlq.WithLimits(cfg.DLQ))
//
//	entries, _ := svc.List(ctx, dlq.ListOpts{Limit: 50})
//	j, _ := svc.Retry(ctx, entries[0].JobID) // pending again, attempts 0
//	n, _ := svc.Purge(ctx)                   // 0 on an empty DLQ
//
// Retry re-takes the job's unique key for the service's unique TTL. When a
// newer job already holds the key, Retry fails with jobq.ErrInvalidState
// and the job stays dead-lettered.
//
// Trim enforces [jobq.DLQConfig] retention and size bounds and is called
// by the worker pool's maintenance loop.
package dlq
