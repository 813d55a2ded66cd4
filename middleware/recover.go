package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/jobq/job"
)

// PanicError is the failure recorded for an attempt whose handler panicked.
// It classifies as an execution failure, so the job's retry policy applies.
type PanicError struct {
	JobType string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.JobType, e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Recover returns middleware that turns a handler panic into a *PanicError.
// The stack is logged at Error and kept on the returned error.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			pe := &PanicError{JobType: j.Name, Value: r, Stack: debug.Stack()}
			logger.ErrorContext(ctx, "job handler panicked",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.String("queue", j.Queue),
				slog.Int("attempt", j.Attempts),
				slog.Any("panic", r),
				slog.String("stack", string(pe.Stack)),
			)
			err = pe
		}()
		return next(ctx)
	}
}
