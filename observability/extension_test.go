package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/ext"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:    id.NewJobID(),
		Name:  "send_email",
		Queue: "default",
	}
}

// counterValue sums every data point of the named counter.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_JobEnqueued(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "jobq.job.enqueued"); got != 1 {
		t.Errorf("jobq.job.enqueued: want 1, got %d", got)
	}
}

func TestMetricsExtension_TimeoutCountedTwice(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()

	_ = e.OnJobFailed(ctx, newTestJob(), jobq.Timeout(context.DeadlineExceeded))
	_ = e.OnJobFailed(ctx, newTestJob(), errors.New("plain"))

	if got := counterValue(t, reader, "jobq.job.failed"); got != 2 {
		t.Errorf("jobq.job.failed: want 2, got %d", got)
	}
	if got := counterValue(t, reader, "jobq.job.timed_out"); got != 1 {
		t.Errorf("jobq.job.timed_out: want 1, got %d", got)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()

	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobDLQ(ctx, j, errors.New("dead"))
	reg.EmitJobCancelled(ctx, j)
	reg.EmitCronFired(ctx, "hourly", id.NewJobID())

	for _, name := range []string{
		"jobq.job.enqueued",
		"jobq.job.started",
		"jobq.job.completed",
		"jobq.job.failed",
		"jobq.job.retried",
		"jobq.job.dead_lettered",
		"jobq.job.cancelled",
		"jobq.cron.fired",
	} {
		if got := counterValue(t, reader, name); got != 1 {
			t.Errorf("%s: want 1, got %d", name, got)
		}
	}
}
