package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/ext"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobEnqueued  = (*Extension)(nil)
	_ ext.JobStarted   = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobRetrying  = (*Extension)(nil)
	_ ext.JobDLQ       = (*Extension)(nil)
	_ ext.JobCancelled = (*Extension)(nil)
	_ ext.CronFired    = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	At         time.Time      `json:"at"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges jobq lifecycle events to a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	meta := jobMeta(j)
	meta["priority"] = j.Priority.String()
	if !j.ScheduledAt.IsZero() && j.ScheduledAt.After(j.CreatedAt) {
		meta["scheduled_at"] = j.ScheduledAt.Format(time.RFC3339)
	}
	if j.UniqueKey != "" {
		meta["unique_key"] = j.UniqueKey
	}
	return e.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j, nil, meta)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	meta := jobMeta(j)
	meta["worker_id"] = j.WorkerID.String()
	meta["attempt"] = j.Attempts
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j, nil, meta)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	meta := jobMeta(j)
	meta["elapsed_ms"] = elapsed.Milliseconds()
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess, j, nil, meta)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	meta := jobMeta(j)
	meta["attempt"] = j.Attempts
	meta["max_retries"] = j.MaxRetries
	meta["error_kind"] = string(jobq.KindOf(jobErr))
	return e.record(ctx, ActionJobFailed, SeverityWarning, OutcomeFailure, j, jobErr, meta)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	meta := jobMeta(j)
	meta["attempt"] = attempt
	meta["next_run_at"] = nextRunAt.Format(time.RFC3339)
	return e.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j, nil, meta)
}

// OnJobDLQ implements ext.JobDLQ.
func (e *Extension) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	meta := jobMeta(j)
	meta["attempts"] = j.Attempts
	meta["error_kind"] = string(jobq.KindOf(jobErr))
	return e.record(ctx, ActionJobDeadLettered, SeverityCritical, OutcomeFailure, j, jobErr, meta)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCancelled, SeverityWarning, OutcomeSuccess, j, nil, jobMeta(j))
}

// ── Schedule hooks ──────────────────────────────────

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error {
	return e.emit(ctx, &AuditEvent{
		Action:     ActionCronFired,
		Resource:   ResourceSchedule,
		Category:   CategoryCron,
		ResourceID: entryName,
		Metadata:   map[string]any{"job_id": jobID.String()},
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
	})
}

// ── Internal helpers ────────────────────────────────

func jobMeta(j *job.Job) map[string]any {
	return map[string]any{
		"job_name": j.Name,
		"queue":    j.Queue,
	}
}

func (e *Extension) record(ctx context.Context, action, severity, outcome string, j *job.Job, err error, meta map[string]any) error {
	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID.String(),
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
	}
	if err != nil {
		evt.Reason = err.Error()
	}
	return e.emit(ctx, evt)
}

// emit sends evt if its action is enabled. Recorder failures are logged,
// never returned, so auditing cannot fail a job.
func (e *Extension) emit(ctx context.Context, evt *AuditEvent) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}
	evt.At = e.now().UTC()
	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
