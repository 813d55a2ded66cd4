package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/job"
)

type attemptTimeoutKey struct{}

// WithAttemptTimeout records the timeout the executor applied to an
// attempt, after resolving job, type and pool defaults.
func WithAttemptTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, attemptTimeoutKey{}, d)
}

// AttemptTimeout returns the timeout recorded by WithAttemptTimeout.
func AttemptTimeout(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(attemptTimeoutKey{}).(time.Duration)
	return d, ok
}

// Timeout returns middleware that reports an attempt which outlived its
// deadline as a timeout failure. A handler that ignores cancellation and
// returns late, with any result, is still a timeout.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		timeout, ok := AttemptTimeout(ctx)
		if !ok {
			// Without a recorded value, the budget left at entry.
			if deadline, has := ctx.Deadline(); has {
				timeout = time.Until(deadline).Round(time.Millisecond)
			}
		}

		err := next(ctx)
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return err
		}
		logger.Debug("job exceeded its deadline",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Duration("timeout", timeout),
		)
		if err == nil {
			err = ctx.Err()
		}
		return jobq.Timeout(fmt.Errorf("job %s exceeded its %s deadline: %w", j.Name, timeout, err))
	}
}
