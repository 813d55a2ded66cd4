package status_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/queue"
	"github.com/xraph/jobq/retry"
	"github.com/xraph/jobq/status"
	"github.com/xraph/jobq/store/memory"
)

type fixture struct {
	store   *memory.Store
	core    *queue.Core
	tracker *status.Tracker
	now     time.Time
	worker  id.WorkerID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		worker: id.NewWorkerID(),
	}
	clock := func() time.Time { return f.now }
	f.store = memory.New(memory.WithClock(clock))
	f.core = queue.NewCore(f.store, retry.NewTable(retry.Policy{MaxRetries: 3, Backoff: backoff.None{}}),
		queue.WithClock(clock))
	f.tracker = status.NewTracker(f.store, f.store,
		status.WithClock(clock),
		status.WithHeartbeatTimeout(30*time.Second),
	)
	return f
}

func (f *fixture) enqueue(t *testing.T, name, q, payload string) id.JobID {
	t.Helper()
	jobID, err := f.core.Enqueue(context.Background(), &job.Job{Name: name, Queue: q, Payload: []byte(payload), MaxRetries: 3})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return jobID
}

func (f *fixture) complete(t *testing.T, q string) {
	t.Helper()
	ctx := context.Background()
	qj, err := f.core.Dequeue(ctx, q, f.worker)
	if err != nil || qj == nil {
		t.Fatalf("Dequeue: %v, %v", qj, err)
	}
	if err := f.core.Ack(ctx, qj.Job.ID, f.worker); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func (f *fixture) deadLetter(t *testing.T, q string) {
	t.Helper()
	ctx := context.Background()
	qj, err := f.core.Dequeue(ctx, q, f.worker)
	if err != nil || qj == nil {
		t.Fatalf("Dequeue: %v, %v", qj, err)
	}
	if _, err := f.core.Fail(ctx, qj.Job.ID, f.worker, jobq.Configuration(errors.New("no handler config"))); err != nil {
		t.Fatalf("Fail: %v", err)
	}
}

func TestTracker_QueueStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 3 {
		f.enqueue(t, "send_email", "email", `{}`)
	}
	f.complete(t, "email")
	f.deadLetter(t, "email")

	s, err := f.tracker.QueueStats(ctx, "email")
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if s.Pending != 1 || s.Enqueued != 3 || s.Completed != 1 || s.Failed != 1 || s.DeadLettered != 1 {
		t.Errorf("stats = %+v", s)
	}

	queues, _ := f.tracker.Queues(ctx)
	if len(queues) != 1 || queues[0] != "email" {
		t.Errorf("Queues = %v", queues)
	}
	if n, _ := f.tracker.DeadLetterCount(ctx); n != 1 {
		t.Errorf("DeadLetterCount = %d, want 1", n)
	}
}

func TestTracker_WorkerHealth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fresh := &cluster.Worker{ID: id.NewWorkerID(), State: cluster.WorkerActive, StartedAt: f.now, LastSeen: f.now}
	old := &cluster.Worker{ID: id.NewWorkerID(), State: cluster.WorkerActive, StartedAt: f.now.Add(-time.Hour), LastSeen: f.now.Add(-time.Minute)}
	draining := &cluster.Worker{ID: id.NewWorkerID(), State: cluster.WorkerDraining, StartedAt: f.now.Add(time.Second), LastSeen: f.now}
	for _, w := range []*cluster.Worker{fresh, old, draining} {
		if err := f.store.RegisterWorker(ctx, w); err != nil {
			t.Fatalf("RegisterWorker: %v", err)
		}
	}

	ws, err := f.tracker.Workers(ctx)
	if err != nil {
		t.Fatalf("Workers: %v", err)
	}
	health := make(map[id.WorkerID]status.WorkerHealth)
	for _, w := range ws {
		health[w.ID] = w.Health
	}
	if health[fresh.ID] != status.HealthActive {
		t.Errorf("fresh worker = %s, want active", health[fresh.ID])
	}
	if health[old.ID] != status.HealthStale {
		t.Errorf("silent worker = %s, want stale", health[old.ID])
	}
	if health[draining.ID] != status.HealthDraining {
		t.Errorf("draining worker = %s, want draining", health[draining.ID])
	}
}

func TestTracker_SearchJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enqueue(t, "send_email", "email", `{"to":"alice@example.com"}`)
	f.now = f.now.Add(time.Second)
	f.enqueue(t, "send_email", "email", `{"to":"bob@example.com"}`)
	f.now = f.now.Add(time.Second)
	f.enqueue(t, "resize_image", "media", `{"width":2048}`)
	f.now = f.now.Add(time.Second)
	f.enqueue(t, "resize_image", "media", `{"width":640}`)

	tests := []struct {
		name  string
		query status.SearchQuery
		want  int
	}{
		{"all", status.SearchQuery{}, 4},
		{"by type", status.SearchQuery{Type: "send_email"}, 2},
		{"by queue", status.SearchQuery{Queue: "media"}, 2},
		{"by state", status.SearchQuery{State: job.StateCompleted}, 0},
		{"by window", status.SearchQuery{From: f.now.Add(-1500 * time.Millisecond)}, 2},
		{"cel payload", status.SearchQuery{Filter: `job.queue == "media" && job.payload.width > 1024.0`}, 1},
		{"cel string", status.SearchQuery{Filter: `job.payload.to.startsWith("bob")`}, 1},
		{"cel attempts", status.SearchQuery{Filter: `job.attempts == 0 && job.max_attempts == 3`}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.tracker.SearchJobs(ctx, tt.query)
			if err != nil {
				t.Fatalf("SearchJobs: %v", err)
			}
			if res.Total != tt.want || len(res.Jobs) != tt.want {
				t.Errorf("total %d, page %d; want %d", res.Total, len(res.Jobs), tt.want)
			}
		})
	}
}

func TestTracker_SearchJobsPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []id.JobID
	for range 5 {
		ids = append(ids, f.enqueue(t, "n", "default", `{}`))
		f.now = f.now.Add(time.Second)
	}

	res, err := f.tracker.SearchJobs(ctx, status.SearchQuery{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("SearchJobs: %v", err)
	}
	if res.Total != 5 || len(res.Jobs) != 2 {
		t.Fatalf("total %d, page %d; want 5, 2", res.Total, len(res.Jobs))
	}
	if res.Jobs[0].ID != ids[3] || res.Jobs[1].ID != ids[2] {
		t.Error("page should hold the second and third newest jobs")
	}
}

func TestTracker_SearchJobsInvalidFilter(t *testing.T) {
	f := newFixture(t)

	for _, expr := range []string{`job.type ==`, `"not a predicate"`} {
		_, err := f.tracker.SearchJobs(context.Background(), status.SearchQuery{Filter: expr})
		if jobq.KindOf(err) != jobq.KindConfiguration {
			t.Errorf("filter %q: expected configuration error, got %v", expr, err)
		}
	}
}

func TestTracker_Job(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.enqueue(t, "send_email", "email", `{}`)
	qj, _ := f.core.Dequeue(ctx, "email", f.worker)
	if _, err := f.core.Fail(ctx, qj.Job.ID, f.worker, errors.New("smtp timeout")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	j, err := f.tracker.Job(ctx, jobID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if len(j.Failures) != 1 || j.Failures[0].Attempt != 1 {
		t.Errorf("failures = %+v", j.Failures)
	}
	if _, err := f.tracker.Job(ctx, id.NewJobID()); !errors.Is(err, jobq.ErrJobNotFound) {
		t.Errorf("unknown job = %v, want ErrJobNotFound", err)
	}
}

func TestTracker_Throughput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.tracker.Throughput(ctx, status.LastHour)
	if err != nil {
		t.Fatalf("Throughput: %v", err)
	}
	if empty.Processed != 0 || empty.SuccessRate != 100 {
		t.Errorf("empty throughput = %+v", empty)
	}

	for range 4 {
		f.enqueue(t, "n", "default", `{}`)
	}
	for range 3 {
		f.complete(t, "default")
	}
	f.deadLetter(t, "default")

	tp, _ := f.tracker.Throughput(ctx, status.LastHour)
	if tp.Completed != 3 || tp.DeadLettered != 1 || tp.Processed != 4 {
		t.Errorf("throughput = %+v", tp)
	}
	if tp.SuccessRate != 75 {
		t.Errorf("SuccessRate = %v, want 75", tp.SuccessRate)
	}
	if want := 4.0 / 3600; tp.PerSecond != want {
		t.Errorf("PerSecond = %v, want %v", tp.PerSecond, want)
	}

	f.now = f.now.Add(2 * time.Hour)
	if tp, _ := f.tracker.Throughput(ctx, status.LastHour); tp.Processed != 0 {
		t.Errorf("last hour after 2h = %d, want 0", tp.Processed)
	}
	if tp, _ := f.tracker.Throughput(ctx, status.Last24Hours); tp.Processed != 4 {
		t.Errorf("last 24h = %d, want 4", tp.Processed)
	}
}

func TestTracker_DashboardAndActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enqueue(t, "send_email", "email", `{}`)
	f.enqueue(t, "resize_image", "media", `{}`)
	f.enqueue(t, "resize_image", "media", `{}`)
	f.complete(t, "email")
	f.now = f.now.Add(time.Second)
	f.deadLetter(t, "media")
	_ = f.store.RegisterWorker(ctx, &cluster.Worker{ID: f.worker, StartedAt: f.now, LastSeen: f.now})

	d, err := f.tracker.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if len(d.Queues) != 2 {
		t.Fatalf("queues = %d, want 2", len(d.Queues))
	}
	if d.Totals.Enqueued != 3 || d.Totals.Pending != 1 || d.Totals.Completed != 1 || d.Totals.DeadLettered != 1 {
		t.Errorf("totals = %+v", d.Totals)
	}
	if d.DeadLetters != 1 || d.Workers != 1 || d.ActiveWorkers != 1 {
		t.Errorf("dashboard = dlq %d workers %d/%d", d.DeadLetters, d.ActiveWorkers, d.Workers)
	}
	if d.LastHour.Processed != 2 {
		t.Errorf("last hour processed = %d, want 2", d.LastHour.Processed)
	}

	acts, err := f.tracker.RecentActivity(ctx, 10)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("activity entries = %d, want 2", len(acts))
	}
	if acts[0].Kind != status.ActivityDeadLettered || acts[0].Error == "" {
		t.Errorf("newest entry = %+v, want the dead-letter", acts[0])
	}
	if acts[1].Kind != status.ActivityCompleted || acts[1].JobName != "send_email" {
		t.Errorf("second entry = %+v, want the completion", acts[1])
	}
	if one, _ := f.tracker.RecentActivity(ctx, 1); len(one) != 1 {
		t.Errorf("limit 1 returned %d entries", len(one))
	}
}
