package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/job"
)

const tracerName = "github.com/xraph/jobq"

// Tracing returns middleware that runs each attempt inside a
// "jobq.job.execute" span from the global TracerProvider.
//
// The span carries jobq.job.id, jobq.job.name, jobq.queue, jobq.priority,
// jobq.attempt and jobq.max_retries. A failed attempt records the error,
// sets jobq.error_kind and marks the span status Error.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "jobq.job.execute",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("jobq.job.id", j.ID.String()),
				attribute.String("jobq.job.name", j.Name),
				attribute.String("jobq.queue", j.Queue),
				attribute.String("jobq.priority", j.Priority.String()),
				attribute.Int("jobq.attempt", j.Attempts),
				attribute.Int("jobq.max_retries", j.MaxRetries),
			),
		)
		defer span.End()

		err := next(ctx)
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return nil
		}

		kind := jobq.KindOf(err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("jobq.error_kind", string(kind)))
		if kind == jobq.KindTimeout {
			span.AddEvent("jobq.deadline_exceeded", trace.WithAttributes(
				attribute.String("jobq.timeout", j.Timeout.String()),
			))
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}
