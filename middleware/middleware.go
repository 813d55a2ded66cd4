// Package middleware provides composable middleware for job execution.
// Middleware wraps handler calls synchronously and can modify execution:
// recover from panics, classify overruns as timeouts, log, trace, measure.
package middleware

import (
	"context"

	"github.com/xraph/jobq/job"
)

// Handler runs one attempt of a job.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler. It must call next to run the rest of the
// chain unless it deliberately short-circuits the attempt.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes mws into one Middleware. The first element is the
// outermost wrapper, so Chain(logging, recover, timeout) runs
//
//	logging -> recover -> timeout -> handler
//
// A nil element is skipped.
func Chain(mws ...Middleware) Middleware {
	links := make([]Middleware, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			links = append(links, mw)
		}
	}
	return func(ctx context.Context, j *job.Job, final Handler) error {
		var step func(i int) Handler
		step = func(i int) Handler {
			if i == len(links) {
				return final
			}
			return func(ctx context.Context) error {
				return links[i](ctx, j, step(i+1))
			}
		}
		return step(0)(ctx)
	}
}
