// Package middleware provides composable middleware for job execution.
//
// A [Middleware] is a function that wraps a job handler. Middleware are
// composed into a chain using [Chain] and applied before each attempt runs.
// They are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging, then recover, then handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs the job name, queue, duration and outcome of each attempt.
//   - [Recover] catches panics and converts them to execution errors.
//   - [Timeout] classifies an attempt that outlived its deadline as a timeout.
//   - [Tracing] wraps execution in an OpenTelemetry span.
//   - [Metrics] records per-job duration and outcome counters.
//
// The worker sets the attempt deadline on the context; [Timeout] only
// reports it. A handler that returns after the deadline has passed fails
// with [jobq.KindTimeout] even if it returned nil.
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware must call next to continue the chain unless intentionally
// short-circuiting.
package middleware
