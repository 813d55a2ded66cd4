package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/job"
)

// Logging returns middleware that logs each attempt. Starts and successes
// go to Debug. A failed attempt goes to Warn, or to Error when its kind
// dead-letters the job outright.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []slog.Attr{
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.Attempts),
		}
		logger.LogAttrs(ctx, slog.LevelDebug, "job started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err == nil {
			logger.LogAttrs(ctx, slog.LevelDebug, "job completed", attrs...)
			return nil
		}

		kind := jobq.KindOf(err)
		level := slog.LevelWarn
		if kind.DeadLetters() {
			level = slog.LevelError
		}
		attrs = append(attrs,
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		logger.LogAttrs(ctx, level, "job attempt failed", attrs...)
		return err
	}
}
