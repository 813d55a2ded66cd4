package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/ext"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobDLQ       = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
	_ ext.CronFired    = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/xraph/jobq/observability"

// MetricsExtension records system-wide lifecycle counters through OTel.
// Register it as an extension to track enqueue rates, completions,
// failures, retries, dead-letters, cancellations, timeouts, and cron fires.
type MetricsExtension struct {
	JobEnqueued  metric.Int64Counter
	JobStarted   metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobTimedOut  metric.Int64Counter
	JobRetried   metric.Int64Counter
	JobDLQ       metric.Int64Counter
	JobCancelled metric.Int64Counter
	CronFired    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider. Without a configured provider the counters are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on the given
// meter. Tests pass a meter backed by an sdkmetric.ManualReader.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	return &MetricsExtension{
		JobEnqueued:  counter(meter, "jobq.job.enqueued", "Jobs accepted into a queue"),
		JobStarted:   counter(meter, "jobq.job.started", "Job attempts started"),
		JobCompleted: counter(meter, "jobq.job.completed", "Jobs completed successfully"),
		JobFailed:    counter(meter, "jobq.job.failed", "Job attempts that failed"),
		JobTimedOut:  counter(meter, "jobq.job.timed_out", "Job attempts that exceeded their timeout"),
		JobRetried:   counter(meter, "jobq.job.retried", "Jobs requeued for another attempt"),
		JobDLQ:       counter(meter, "jobq.job.dead_lettered", "Jobs moved to the dead letter queue"),
		JobCancelled: counter(meter, "jobq.job.cancelled", "Jobs cancelled"),
		CronFired:    counter(meter, "jobq.cron.fired", "Schedules fired"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	_ = err // noop fallback guaranteed by OTel API contract
	return c
}

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("job_name", j.Name),
		attribute.String("queue", j.Queue),
	)
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.JobStarted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed. Timeouts are also counted on
// their own.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	if jobq.KindOf(err) == jobq.KindTimeout {
		m.JobTimedOut.Add(ctx, 1, jobAttrs(j))
	}
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.JobDLQ.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.JobCancelled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("schedule", entryName)))
	return nil
}
