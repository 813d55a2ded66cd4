package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/dlq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/queue"
	"github.com/xraph/jobq/retry"
	"github.com/xraph/jobq/store/memory"
)

type env struct {
	store  *memory.Store
	core   *queue.Core
	svc    *dlq.Service
	now    time.Time
	worker id.WorkerID
}

func newEnv(t *testing.T, opts ...dlq.ServiceOption) *env {
	t.Helper()
	e := &env{
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		worker: id.NewWorkerID(),
	}
	clock := func() time.Time { return e.now }
	e.store = memory.New(memory.WithClock(clock))
	e.core = queue.NewCore(e.store, retry.NewTable(retry.Policy{
		MaxRetries: 3,
		Backoff:    backoff.None{},
	}), queue.WithClock(clock))
	e.svc = dlq.NewService(e.store, append([]dlq.ServiceOption{dlq.WithClock(clock)}, opts...)...)
	return e
}

// deadLetter enqueues a job and fails it with a non-retryable error.
func (e *env) deadLetter(t *testing.T, name, q string) *job.Job {
	t.Helper()
	ctx := context.Background()

	j := &job.Job{Name: name, Queue: q, Payload: []byte(`{"to":"alice@example.com"}`), MaxRetries: 3}
	if _, err := e.core.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	qj, err := e.core.Dequeue(ctx, q, e.worker)
	if err != nil || qj == nil {
		t.Fatalf("Dequeue: %v, %v", qj, err)
	}
	out, err := e.core.Fail(ctx, qj.Job.ID, e.worker, jobq.Serialization(errors.New("bad payload")))
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if out.Action != retry.DeadLetter {
		t.Fatalf("action = %s, want dead_letter", out.Action)
	}
	return qj.Job
}

func TestService_ListAndGet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.deadLetter(t, "send_email", "default")
	e.now = e.now.Add(time.Second)
	second := e.deadLetter(t, "resize_image", "media")

	entries, err := e.svc.List(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].JobID != second.ID || entries[1].JobID != first.ID {
		t.Error("entries should be newest first")
	}

	media, _ := e.svc.List(ctx, dlq.ListOpts{Queue: "media"})
	if len(media) != 1 || media[0].JobName != "resize_image" {
		t.Errorf("queue filter returned %+v", media)
	}

	entry, err := e.svc.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.ErrorKind != string(jobq.KindSerialization) {
		t.Errorf("ErrorKind = %q, want serialization", entry.ErrorKind)
	}
	if entry.Attempts != 1 || len(entry.Failures) != 1 {
		t.Errorf("attempts = %d, failures = %d; want 1, 1", entry.Attempts, len(entry.Failures))
	}
	if string(entry.Payload) != `{"to":"alice@example.com"}` {
		t.Errorf("payload = %s", entry.Payload)
	}
}

func TestService_GetMissing(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Get(context.Background(), id.NewJobID())
	if !errors.Is(err, jobq.ErrDLQEntryNotFound) {
		t.Fatalf("expected ErrDLQEntryNotFound, got %v", err)
	}
}

func TestService_RetryResetsAttempts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dead := e.deadLetter(t, "send_email", "default")
	e.now = e.now.Add(time.Minute)

	j, err := e.svc.Retry(ctx, dead.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if j.State != job.StatePending {
		t.Errorf("State = %s, want pending", j.State)
	}
	if j.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", j.Attempts)
	}
	if !j.ScheduledAt.Equal(e.now) {
		t.Errorf("ScheduledAt = %v, want %v", j.ScheduledAt, e.now)
	}
	if len(j.Failures) != 1 {
		t.Errorf("failure history should survive a retry, got %d", len(j.Failures))
	}

	if n, _ := e.svc.Count(ctx); n != 0 {
		t.Errorf("Count after retry = %d, want 0", n)
	}

	qj, err := e.core.Dequeue(ctx, "default", e.worker)
	if err != nil || qj == nil || qj.Job.ID != dead.ID {
		t.Fatalf("retried job should be claimable, got %v, %v", qj, err)
	}
	if qj.Job.Attempts != 1 {
		t.Errorf("Attempts after claim = %d, want 1", qj.Job.Attempts)
	}
}

func TestService_RetryMissing(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Retry(context.Background(), id.NewJobID())
	if !errors.Is(err, jobq.ErrDLQEntryNotFound) {
		t.Fatalf("expected ErrDLQEntryNotFound, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dead := e.deadLetter(t, "send_email", "default")
	if err := e.svc.Delete(ctx, dead.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.svc.Get(ctx, dead.ID); !errors.Is(err, jobq.ErrDLQEntryNotFound) {
		t.Errorf("expected entry gone, got %v", err)
	}
	if _, err := e.store.GetJob(ctx, dead.ID); !errors.Is(err, jobq.ErrJobNotFound) {
		t.Errorf("expected job record gone, got %v", err)
	}
}

func TestService_PurgeEmpty(t *testing.T) {
	e := newEnv(t)

	n, err := e.svc.Purge(context.Background())
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 0 {
		t.Errorf("Purge of empty DLQ = %d, want 0", n)
	}
}

func TestService_Purge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for range 3 {
		e.deadLetter(t, "send_email", "default")
	}

	n, err := e.svc.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 3 {
		t.Errorf("Purge = %d, want 3", n)
	}
	if c, _ := e.svc.Count(ctx); c != 0 {
		t.Errorf("Count after purge = %d, want 0", c)
	}
}

func TestService_TrimBySizeAndAge(t *testing.T) {
	e := newEnv(t, dlq.WithLimits(jobq.DLQConfig{MaxSize: 2, Retention: time.Hour}))
	ctx := context.Background()

	old := e.deadLetter(t, "send_email", "default")
	e.now = e.now.Add(2 * time.Hour)
	for range 3 {
		e.now = e.now.Add(time.Second)
		e.deadLetter(t, "send_email", "default")
	}

	n, err := e.svc.Trim(ctx)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if n != 2 {
		t.Errorf("Trim removed %d, want 2", n)
	}
	if c, _ := e.svc.Count(ctx); c != 2 {
		t.Errorf("Count after trim = %d, want 2", c)
	}
	if _, err := e.svc.Get(ctx, old.ID); !errors.Is(err, jobq.ErrDLQEntryNotFound) {
		t.Error("entry past retention should be trimmed")
	}
}

func TestService_TrimWithoutLimits(t *testing.T) {
	e := newEnv(t)
	e.deadLetter(t, "send_email", "default")

	n, err := e.svc.Trim(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Trim without limits = %d, %v; want 0, nil", n, err)
	}
}
