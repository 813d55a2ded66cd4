// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware under a deadline, and a
// Pool of slots that claim jobs from the queue core and report outcomes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/ext"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/middleware"
	"github.com/xraph/jobq/queue"
	"github.com/xraph/jobq/retry"
)

// DefaultGrace is the grace period used when Timeouts.Grace is not set.
const DefaultGrace = 5 * time.Second

// Timeouts bounds a single attempt.
type Timeouts struct {
	// Default applies to job types that set no timeout.
	Default time.Duration
	// Grace is how long the executor keeps waiting for a handler after its
	// deadline before it abandons the attempt. Zero means DefaultGrace.
	Grace time.Duration
}

// Result describes how one attempt ended.
type Result struct {
	// Err is nil when the job completed.
	Err error
	// Outcome is the retry decision for a failed attempt.
	Outcome retry.Outcome
	// Elapsed is the handler's running time.
	Elapsed time.Duration
	// Abandoned is set when the handler did not return within the grace
	// period. Its goroutine is left behind and its result discarded.
	Abandoned bool
}

// Executor runs a claimed job through middleware and its registered
// handler, then settles it through the queue core and emits lifecycle
// events.
type Executor struct {
	registry   *job.Registry
	core       *queue.Core
	extensions *ext.Registry
	mw         middleware.Middleware
	timeouts   Timeouts
	logger     *slog.Logger
}

// NewExecutor creates an Executor. Attempts that outlive their deadline
// are always reported as timeouts; mws wrap that classification.
func NewExecutor(
	registry *job.Registry,
	core *queue.Core,
	extensions *ext.Registry,
	timeouts Timeouts,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if timeouts.Default <= 0 {
		timeouts.Default = job.DefaultOptions().Timeout
	}
	if timeouts.Grace <= 0 {
		timeouts.Grace = DefaultGrace
	}
	chain := append(append([]middleware.Middleware(nil), mws...), middleware.Timeout(logger))
	return &Executor{
		registry:   registry,
		core:       core,
		extensions: extensions,
		mw:         middleware.Chain(chain...),
		timeouts:   timeouts,
		logger:     logger,
	}
}

// Execute runs one attempt of qj on behalf of workerID and settles it:
// Ack on success, Fail otherwise. Cancelling ctx interrupts the handler;
// an attempt interrupted that way is failed as a worker crash so it is
// retried. Settlement itself is not cancelled with ctx.
func (e *Executor) Execute(ctx context.Context, qj *queue.QueuedJob, workerID id.WorkerID) Result {
	j := qj.Job
	settleCtx := context.WithoutCancel(ctx)

	entry, ok := e.registry.Lookup(j.Name)
	if !ok {
		err := jobq.Configuration(fmt.Errorf("%w: %q", jobq.ErrHandlerNotFound, j.Name))
		return e.fail(settleCtx, j, workerID, err, 0)
	}

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = entry.Opts.Timeout
	}
	if timeout <= 0 {
		timeout = e.timeouts.Default
	}

	e.extensions.EmitJobStarted(ctx, j)

	start := time.Now()
	abandoned, err := e.run(ctx, j, entry.Handler, timeout)
	elapsed := time.Since(start)

	if err != nil && ctx.Err() != nil {
		err = jobq.WorkerCrashed(fmt.Errorf("attempt interrupted by shutdown: %w", err))
	}
	if err != nil {
		res := e.fail(settleCtx, j, workerID, err, elapsed)
		res.Abandoned = abandoned
		return res
	}

	if ackErr := e.core.Ack(settleCtx, j.ID, workerID); ackErr != nil {
		e.logger.Error("failed to settle completed job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", ackErr.Error()),
		)
		return Result{Err: ackErr, Elapsed: elapsed}
	}
	e.extensions.EmitJobCompleted(settleCtx, j, elapsed)
	return Result{Elapsed: elapsed}
}

// run calls the middleware chain under the attempt deadline. It returns
// once the handler returns, or Grace after the deadline if it does not.
func (e *Executor) run(ctx context.Context, j *job.Job, h job.HandlerFunc, timeout time.Duration) (bool, error) {
	hctx, cancel := context.WithTimeout(middleware.WithAttemptTimeout(ctx, timeout), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("job %s panicked: %v", j.Name, r)
			}
		}()
		done <- e.mw(hctx, j, func(ctx context.Context) error {
			return h(ctx, j.Payload)
		})
	}()

	select {
	case err := <-done:
		return false, err
	case <-hctx.Done():
	}

	grace := time.NewTimer(e.timeouts.Grace)
	defer grace.Stop()
	select {
	case err := <-done:
		return false, err
	case <-grace.C:
		e.logger.Error("handler ignored cancellation, abandoning attempt",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Duration("timeout", timeout),
			slog.Duration("grace", e.timeouts.Grace),
		)
		return true, jobq.Timeout(fmt.Errorf("job %s did not return within %s of its %s deadline",
			j.Name, e.timeouts.Grace, timeout))
	}
}

// fail reports a failed attempt and emits the events matching the
// retry decision.
func (e *Executor) fail(ctx context.Context, j *job.Job, workerID id.WorkerID, cause error, elapsed time.Duration) Result {
	e.extensions.EmitJobFailed(ctx, j, cause)

	out, err := e.core.Fail(ctx, j.ID, workerID, cause)
	if err != nil {
		if errors.Is(err, jobq.ErrInvalidState) {
			e.logger.Warn("claim lost before the attempt was settled",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
			)
		} else {
			e.logger.Error("failed to settle failed job",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.String("error", err.Error()),
			)
		}
		return Result{Err: cause, Outcome: out, Elapsed: elapsed}
	}

	switch out.Action {
	case retry.Retry:
		e.extensions.EmitJobRetrying(ctx, j, j.Attempts, time.Now().UTC().Add(out.Delay))
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("attempt", j.Attempts),
			slog.Int("max_retries", j.MaxRetries),
			slog.Duration("delay", out.Delay),
		)
	case retry.DeadLetter:
		e.extensions.EmitJobDLQ(ctx, j, cause)
		e.logger.Warn("job moved to DLQ",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("attempts", j.Attempts),
			slog.String("kind", string(out.Kind)),
			slog.String("error", cause.Error()),
		)
	case retry.Cancel:
		e.extensions.EmitJobCancelled(ctx, j)
	}
	return Result{Err: cause, Outcome: out, Elapsed: elapsed}
}
