// Package ext defines the extension system for jobq.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, writing audit logs, forwarding alerts. Each lifecycle
// hook is a separate interface so extensions opt in only to the events
// they care about.
//
// # Implementing an Extension
//
//	type SlowJobAlert struct{ threshold time.Duration }
//
//	func (e *SlowJobAlert) Name() string { return "slow-job-alert" }
//
//	func (e *SlowJobAlert) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    if elapsed > e.threshold {
//	        slog.WarnContext(ctx, "slow job", slog.String("job_id", j.ID.String()))
//	    }
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: a new job was accepted into its queue
//   - [JobStarted]: a worker slot began executing the job
//   - [JobCompleted]: the job finished successfully
//   - [JobFailed]: an attempt failed (fires before the retry decision)
//   - [JobRetrying]: the job was requeued for another attempt
//   - [JobDLQ]: the job was moved to the dead letter queue
//   - [JobCancelled]: the job was cancelled
//
// # Other Hooks
//
//   - [CronFired]: a schedule fired and a job was enqueued
//   - [Shutdown]: the dispatcher is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never interrupt job processing.
package ext
