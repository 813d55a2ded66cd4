package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/job"
)

const meterName = "github.com/xraph/jobq"

// Metrics returns execution metrics middleware bound to the global
// MeterProvider. With no provider installed the instruments are noops.
//
// Instruments:
//   - jobq.job.duration (Float64Histogram, seconds): job_name, queue, status
//   - jobq.job.executions (Int64Counter): the same plus error_kind on failure
//   - jobq.job.active (Int64UpDownCounter): attempts currently running, by queue
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument constructors return usable noops alongside any error.
	duration, _ := meter.Float64Histogram(
		"jobq.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"jobq.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)
	active, _ := meter.Int64UpDownCounter(
		"jobq.job.active",
		metric.WithDescription("Job attempts currently executing"),
		metric.WithUnit("{job}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		queueAttr := metric.WithAttributes(attribute.String("queue", j.Queue))
		active.Add(ctx, 1, queueAttr)
		defer active.Add(ctx, -1, queueAttr)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := []attribute.KeyValue{
			attribute.String("job_name", j.Name),
			attribute.String("queue", j.Queue),
			attribute.String("status", status),
		}
		duration.Record(ctx, elapsed, metric.WithAttributes(attrs...))
		if err != nil {
			attrs = append(attrs, attribute.String("error_kind", string(jobq.KindOf(err))))
		}
		executions.Add(ctx, 1, metric.WithAttributes(attrs...))
		return err
	}
}
