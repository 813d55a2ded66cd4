// Package cron fires recurring jobs.
//
// Entries are stored in the backend and fired only by the holder of the
// scheduler lock, a single lease key with a TTL. The holder renews it every
// TTL/2; if it dies the lease expires and another scheduler takes over.
//
// # Entry
//
// An [Entry] is a recurring job definition:
//   - Schedule: standard 5-field cron expression (e.g., "0 9 * * 1-5") or a
//     descriptor such as "@hourly" or "@every 30s"
//   - Interval: a fixed period, used instead of Schedule
//   - JobName: the registered job definition to enqueue when fired
//   - Queue, Priority, MaxRetries: enqueue overrides
//   - Payload: static JSON payload passed to every triggered job
//   - Enabled: whether the entry fires
//
// # Firing
//
// On every tick the lock holder lists due entries and advances each
// entry's next fire time with a compare-and-set before enqueueing. A due
// time therefore produces one job even when a lock hand-over races a tick.
// If the enqueue fails, the next fire time is restored and the entry fires
// on the following tick. Fires missed while no scheduler was running
// collapse into one.
//
// # Operator Actions
//
// [Scheduler.Enable], [Scheduler.Disable] and [Scheduler.Trigger] work from
// any process; none of them needs the lock. Trigger enqueues immediately
// and leaves the regular schedule unchanged. The [ext.CronFired] hook fires
// after every enqueue.
package cron
