package ext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// hooks is the list of extensions implementing hook interface H, each
// paired with the name captured when it was registered.
type hooks[H any] []named[H]

type named[H any] struct {
	name string
	hook H
}

func collect[H any](list hooks[H], e Extension) hooks[H] {
	if h, ok := e.(H); ok {
		return append(list, named[H]{name: e.Name(), hook: h})
	}
	return list
}

// Registry holds registered extensions and fans lifecycle events out to
// the ones implementing each hook. Hook errors and panics are logged and
// never reach the caller.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued  hooks[JobEnqueued]
	jobStarted   hooks[JobStarted]
	jobCompleted hooks[JobCompleted]
	jobFailed    hooks[JobFailed]
	jobRetrying  hooks[JobRetrying]
	jobDLQ       hooks[JobDLQ]
	jobCancelled hooks[JobCancelled]
	cronFired    hooks[CronFired]
	shutdown     hooks[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration
// order. Register is not safe to call once events are flowing.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)

	r.jobEnqueued = collect(r.jobEnqueued, e)
	r.jobStarted = collect(r.jobStarted, e)
	r.jobCompleted = collect(r.jobCompleted, e)
	r.jobFailed = collect(r.jobFailed, e)
	r.jobRetrying = collect(r.jobRetrying, e)
	r.jobDLQ = collect(r.jobDLQ, e)
	r.jobCancelled = collect(r.jobCancelled, e)
	r.cronFired = collect(r.cronFired, e)
	r.shutdown = collect(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

func fire[H any](ctx context.Context, r *Registry, op string, list hooks[H], call func(H) error) {
	for _, e := range list {
		r.invoke(ctx, op, e.name, func() error { return call(e.hook) })
	}
}

func (r *Registry) invoke(ctx context.Context, op, extName string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logHookError(ctx, op, extName, fmt.Errorf("panic: %v", p))
		}
	}()
	if err := fn(); err != nil {
		r.logHookError(ctx, op, extName, err)
	}
}

func (r *Registry) logHookError(ctx context.Context, op, extName string, err error) {
	r.logger.WarnContext(ctx, "extension hook error",
		slog.String("hook", op),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}

// ── Job events ──────────────────────────────────────

// EmitJobEnqueued notifies every JobEnqueued extension.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	fire(ctx, r, "OnJobEnqueued", r.jobEnqueued, func(h JobEnqueued) error {
		return h.OnJobEnqueued(ctx, j)
	})
}

// EmitJobStarted notifies every JobStarted extension.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	fire(ctx, r, "OnJobStarted", r.jobStarted, func(h JobStarted) error {
		return h.OnJobStarted(ctx, j)
	})
}

// EmitJobCompleted notifies every JobCompleted extension.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	fire(ctx, r, "OnJobCompleted", r.jobCompleted, func(h JobCompleted) error {
		return h.OnJobCompleted(ctx, j, elapsed)
	})
}

// EmitJobFailed notifies every JobFailed extension.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	fire(ctx, r, "OnJobFailed", r.jobFailed, func(h JobFailed) error {
		return h.OnJobFailed(ctx, j, jobErr)
	})
}

// EmitJobRetrying notifies every JobRetrying extension.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	fire(ctx, r, "OnJobRetrying", r.jobRetrying, func(h JobRetrying) error {
		return h.OnJobRetrying(ctx, j, attempt, nextRunAt)
	})
}

// EmitJobDLQ notifies every JobDLQ extension.
func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, jobErr error) {
	fire(ctx, r, "OnJobDLQ", r.jobDLQ, func(h JobDLQ) error {
		return h.OnJobDLQ(ctx, j, jobErr)
	})
}

// EmitJobCancelled notifies every JobCancelled extension.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	fire(ctx, r, "OnJobCancelled", r.jobCancelled, func(h JobCancelled) error {
		return h.OnJobCancelled(ctx, j)
	})
}

// ── Other events ────────────────────────────────────

// EmitCronFired notifies every CronFired extension.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, jobID id.JobID) {
	fire(ctx, r, "OnCronFired", r.cronFired, func(h CronFired) error {
		return h.OnCronFired(ctx, entryName, jobID)
	})
}

// EmitShutdown notifies every Shutdown extension.
func (r *Registry) EmitShutdown(ctx context.Context) {
	fire(ctx, r, "OnShutdown", r.shutdown, func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}
