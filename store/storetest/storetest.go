// Package storetest is the behaviour suite shared by every store backend.
// A backend test builds a [Harness] and calls [Run].
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/cron"
	"github.com/xraph/jobq/dlq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/status"
	"github.com/xraph/jobq/store"
)

// Harness wraps a fresh, empty backend and the clock it runs on.
type Harness struct {
	Store store.Store
	// Now is the backend's current time.
	Now func() time.Time
	// Advance moves the backend's clock forward, including server-side
	// key expiry.
	Advance func(d time.Duration)
}

// Factory builds a fresh harness for one subtest.
type Factory func(t *testing.T) *Harness

// Run executes the whole suite against the backend built by newHarness.
func Run(t *testing.T, newHarness Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, h *Harness)
	}{
		{"EnqueueClaimFinish", testEnqueueClaimFinish},
		{"ClaimEmpty", testClaimEmpty},
		{"ClaimFollowsOrder", testClaimFollowsOrder},
		{"FIFOWithinTier", testFIFOWithinTier},
		{"UniqueKey", testUniqueKey},
		{"UniqueKeyExpires", testUniqueKeyExpires},
		{"UniqueKeyOutlivesDelay", testUniqueKeyOutlivesDelay},
		{"DLQRetryRetakesUniqueKey", testDLQRetryRetakesUniqueKey},
		{"DuplicateID", testDuplicateID},
		{"MaxPending", testMaxPending},
		{"DelayedPromotion", testDelayedPromotion},
		{"Requeue", testRequeue},
		{"WrongWorker", testWrongWorker},
		{"DeadLetterAndRetry", testDeadLetterAndRetry},
		{"DLQMaintenance", testDLQMaintenance},
		{"Cancel", testCancel},
		{"PurgeQueue", testPurgeQueue},
		{"TrimCompleted", testTrimCompleted},
		{"TrimCancelled", testTrimCancelled},
		{"Reader", testReader},
		{"Schedules", testSchedules},
		{"Workers", testWorkers},
		{"Leadership", testLeadership},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			t.Cleanup(func() { _ = h.Store.Close() })
			tt.fn(t, h)
		})
	}
}

func newJob(h *Harness, queue string, p job.Priority) *job.Job {
	now := h.Now().UTC()
	return &job.Job{
		ID:          id.NewJobID(),
		Name:        "send_email",
		Queue:       queue,
		Payload:     []byte(`{"to":"alice@example.com"}`),
		Priority:    p,
		State:       job.StatePending,
		MaxRetries:  3,
		CreatedAt:   now,
		UpdatedAt:   now,
		ScheduledAt: now,
	}
}

func enqueue(t *testing.T, h *Harness, j *job.Job) {
	t.Helper()
	got, err := h.Store.EnqueueJob(context.Background(), j, job.EnqueueOpts{Now: h.Now().UTC()})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if got != j.ID {
		t.Fatalf("EnqueueJob returned %s, want %s", got, j.ID)
	}
}

func claim(t *testing.T, h *Harness, queue string, worker id.WorkerID) *job.Claim {
	t.Helper()
	c, err := h.Store.ClaimJob(context.Background(), job.ClaimRequest{
		Queue:    queue,
		WorkerID: worker,
		Order:    job.Tiers,
		Now:      h.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	return c
}

func settle(t *testing.T, h *Harness, j *job.Job, worker id.WorkerID, state job.State) {
	t.Helper()
	now := h.Now().UTC()
	j.State = state
	j.UpdatedAt = now
	j.CompletedAt = &now
	if err := h.Store.FinishJob(context.Background(), j, worker); err != nil {
		t.Fatalf("FinishJob(%s): %v", state, err)
	}
}

func counters(t *testing.T, h *Harness, queue string) map[string]int64 {
	t.Helper()
	c, err := h.Store.QueueCounters(context.Background(), queue)
	if err != nil {
		t.Fatalf("QueueCounters: %v", err)
	}
	return c
}

func testEnqueueClaimFinish(t *testing.T, h *Harness) {
	ctx := context.Background()
	worker := id.NewWorkerID()
	j := newJob(h, "default", job.PriorityNormal)
	enqueue(t, h, j)

	counts, _ := h.Store.QueueCounts(ctx, "default")
	if counts.Pending != 1 {
		t.Fatalf("Pending = %d, want 1", counts.Pending)
	}

	c := claim(t, h, "default", worker)
	if c == nil || c.Job.ID != j.ID {
		t.Fatalf("claimed %v, want %s", c, j.ID)
	}
	if c.Job.State != job.StateActive || c.Job.Attempts != 1 || c.Job.WorkerID != worker {
		t.Errorf("claimed job = state %s attempts %d worker %s", c.Job.State, c.Job.Attempts, c.Job.WorkerID)
	}
	if c.Tier != job.PriorityNormal {
		t.Errorf("Tier = %v, want normal", c.Tier)
	}

	stored, err := h.Store.GetJob(ctx, j.ID)
	if err != nil || stored.State != job.StateActive {
		t.Fatalf("GetJob = %v, %v; want active", stored, err)
	}
	counts, _ = h.Store.QueueCounts(ctx, "default")
	if counts.Pending != 0 || counts.Active != 1 {
		t.Errorf("counts after claim = %+v", counts)
	}

	settle(t, h, c.Job, worker, job.StateCompleted)

	counts, _ = h.Store.QueueCounts(ctx, "default")
	if counts != (status.Counts{}) {
		t.Errorf("counts after finish = %+v, want zero", counts)
	}
	got := counters(t, h, "default")
	if got[job.CounterEnqueued] != 1 || got[job.CounterCompleted] != 1 {
		t.Errorf("counters = %v", got)
	}
	if n, _ := h.Store.CountCompletedSince(ctx, h.Now().Add(-time.Minute)); n != 1 {
		t.Errorf("CountCompletedSince = %d, want 1", n)
	}
	recent, _ := h.Store.RecentCompleted(ctx, 10)
	if len(recent) != 1 || recent[0].ID != j.ID || recent[0].State != job.StateCompleted {
		t.Errorf("RecentCompleted = %v", recent)
	}
	if active, _ := h.Store.ActiveJobs(ctx); len(active) != 0 {
		t.Errorf("ActiveJobs after finish = %v", active)
	}
}

func testClaimEmpty(t *testing.T, h *Harness) {
	if c := claim(t, h, "default", id.NewWorkerID()); c != nil {
		t.Fatalf("claim on empty queue = %v, want nil", c)
	}
}

func testClaimFollowsOrder(t *testing.T, h *Harness) {
	low := newJob(h, "default", job.PriorityLow)
	high := newJob(h, "default", job.PriorityHigh)
	enqueue(t, h, low)
	enqueue(t, h, high)

	c := claim(t, h, "default", id.NewWorkerID())
	if c == nil || c.Job.ID != high.ID {
		t.Fatalf("claimed %v, want the high job", c)
	}
	if len(c.Waiting) != 2 {
		t.Errorf("Waiting = %v, want high and low", c.Waiting)
	}

	// An explicit order puts low first.
	enqueue(t, h, newJob(h, "default", job.PriorityHigh))
	c, err := h.Store.ClaimJob(context.Background(), job.ClaimRequest{
		Queue:    "default",
		WorkerID: id.NewWorkerID(),
		Order:    []job.Priority{job.PriorityLow, job.PriorityCritical, job.PriorityHigh, job.PriorityNormal},
		Now:      h.Now().UTC(),
	})
	if err != nil || c == nil || c.Job.ID != low.ID || c.Tier != job.PriorityLow {
		t.Fatalf("ordered claim = %v, %v; want the low job", c, err)
	}
}

func testFIFOWithinTier(t *testing.T, h *Harness) {
	var want []id.JobID
	for range 5 {
		j := newJob(h, "default", job.PriorityNormal)
		enqueue(t, h, j)
		want = append(want, j.ID)
		h.Advance(time.Millisecond)
	}
	for i, w := range want {
		c := claim(t, h, "default", id.NewWorkerID())
		if c == nil || c.Job.ID != w {
			t.Fatalf("claim %d = %v, want %s", i, c, w)
		}
	}
}

func testUniqueKey(t *testing.T, h *Harness) {
	ctx := context.Background()
	opts := job.EnqueueOpts{Now: h.Now().UTC(), UniqueTTL: time.Hour}

	first := newJob(h, "default", job.PriorityNormal)
	first.UniqueKey = "invoice:42"
	if got, err := h.Store.EnqueueJob(ctx, first, opts); err != nil || got != first.ID {
		t.Fatalf("first enqueue = %s, %v", got, err)
	}

	dup := newJob(h, "default", job.PriorityNormal)
	dup.UniqueKey = "invoice:42"
	got, err := h.Store.EnqueueJob(ctx, dup, opts)
	if err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	if got != first.ID {
		t.Errorf("duplicate enqueue returned %s, want holder %s", got, first.ID)
	}
	if _, err := h.Store.GetJob(ctx, dup.ID); !errors.Is(err, jobq.ErrJobNotFound) {
		t.Errorf("duplicate must not be stored, GetJob err = %v", err)
	}
	if counts, _ := h.Store.QueueCounts(ctx, "default"); counts.Pending != 1 {
		t.Errorf("Pending = %d, want 1", counts.Pending)
	}

	worker := id.NewWorkerID()
	c := claim(t, h, "default", worker)
	settle(t, h, c.Job, worker, job.StateCompleted)

	again := newJob(h, "default", job.PriorityNormal)
	again.UniqueKey = "invoice:42"
	got, err = h.Store.EnqueueJob(ctx, again, opts)
	if err != nil || got != again.ID {
		t.Errorf("enqueue after completion = %s, %v; want new id %s", got, err, again.ID)
	}
}

func testUniqueKeyExpires(t *testing.T, h *Harness) {
	ctx := context.Background()

	first := newJob(h, "default", job.PriorityNormal)
	first.UniqueKey = "report:daily"
	if _, err := h.Store.EnqueueJob(ctx, first, job.EnqueueOpts{Now: h.Now().UTC(), UniqueTTL: time.Minute}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	h.Advance(2 * time.Minute)
	second := newJob(h, "default", job.PriorityNormal)
	second.UniqueKey = "report:daily"
	got, err := h.Store.EnqueueJob(ctx, second, job.EnqueueOpts{Now: h.Now().UTC(), UniqueTTL: time.Minute})
	if err != nil || got != second.ID {
		t.Errorf("enqueue after key expiry = %s, %v; want %s", got, err, second.ID)
	}
}

func testUniqueKeyOutlivesDelay(t *testing.T, h *Harness) {
	ctx := context.Background()
	opts := func() job.EnqueueOpts { return job.EnqueueOpts{Now: h.Now().UTC(), UniqueTTL: time.Hour} }

	delayed := newJob(h, "default", job.PriorityNormal)
	delayed.UniqueKey = "digest:weekly"
	delayed.ScheduledAt = h.Now().Add(3 * time.Hour)
	if _, err := h.Store.EnqueueJob(ctx, delayed, opts()); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	// Past UniqueTTL but before the job is due: still deduplicated.
	h.Advance(2 * time.Hour)
	dup := newJob(h, "default", job.PriorityNormal)
	dup.UniqueKey = "digest:weekly"
	if got, err := h.Store.EnqueueJob(ctx, dup, opts()); err != nil || got != delayed.ID {
		t.Errorf("enqueue while delayed = %s, %v; want holder %s", got, err, delayed.ID)
	}

	// UniqueTTL after the due time the key lapses.
	h.Advance(2*time.Hour + time.Minute)
	late := newJob(h, "default", job.PriorityNormal)
	late.UniqueKey = "digest:weekly"
	if got, err := h.Store.EnqueueJob(ctx, late, opts()); err != nil || got != late.ID {
		t.Errorf("enqueue after hold = %s, %v; want %s", got, err, late.ID)
	}
}

func testDLQRetryRetakesUniqueKey(t *testing.T, h *Harness) {
	ctx := context.Background()
	opts := job.EnqueueOpts{Now: h.Now().UTC(), UniqueTTL: time.Hour}
	worker := id.NewWorkerID()

	dead := newJob(h, "default", job.PriorityNormal)
	dead.UniqueKey = "refund:7"
	if _, err := h.Store.EnqueueJob(ctx, dead, opts); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	c := claim(t, h, "default", worker)
	settle(t, h, c.Job, worker, job.StateDeadLettered)

	if _, err := h.Store.RetryDLQ(ctx, dead.ID, h.Now().UTC(), time.Hour); err != nil {
		t.Fatalf("RetryDLQ: %v", err)
	}
	dup := newJob(h, "default", job.PriorityNormal)
	dup.UniqueKey = "refund:7"
	if got, err := h.Store.EnqueueJob(ctx, dup, opts); err != nil || got != dead.ID {
		t.Errorf("enqueue after retry = %s, %v; want retried job %s", got, err, dead.ID)
	}

	// Dead-letter it again and let a new job take the key meanwhile.
	c = claim(t, h, "default", worker)
	settle(t, h, c.Job, worker, job.StateDeadLettered)
	holder := newJob(h, "default", job.PriorityNormal)
	holder.UniqueKey = "refund:7"
	if got, err := h.Store.EnqueueJob(ctx, holder, opts); err != nil || got != holder.ID {
		t.Fatalf("enqueue new holder = %s, %v", got, err)
	}
	if _, err := h.Store.RetryDLQ(ctx, dead.ID, h.Now().UTC(), time.Hour); !errors.Is(err, jobq.ErrInvalidState) {
		t.Errorf("RetryDLQ with key held = %v, want ErrInvalidState", err)
	}
	if _, err := h.Store.GetDLQ(ctx, dead.ID); err != nil {
		t.Errorf("job should stay dead-lettered: %v", err)
	}
}

func testDuplicateID(t *testing.T, h *Harness) {
	j := newJob(h, "default", job.PriorityNormal)
	enqueue(t, h, j)

	_, err := h.Store.EnqueueJob(context.Background(), j, job.EnqueueOpts{Now: h.Now().UTC()})
	if !errors.Is(err, jobq.ErrJobAlreadyExists) {
		t.Fatalf("expected ErrJobAlreadyExists, got %v", err)
	}
}

func testMaxPending(t *testing.T, h *Harness) {
	ctx := context.Background()
	opts := job.EnqueueOpts{Now: h.Now().UTC(), MaxPending: 2}
	for range 2 {
		if _, err := h.Store.EnqueueJob(ctx, newJob(h, "bulk", job.PriorityNormal), opts); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	_, err := h.Store.EnqueueJob(ctx, newJob(h, "bulk", job.PriorityNormal), opts)
	if !errors.Is(err, jobq.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if _, err := h.Store.EnqueueJob(ctx, newJob(h, "other", job.PriorityNormal), opts); err != nil {
		t.Errorf("bound must be per queue: %v", err)
	}
}

func testDelayedPromotion(t *testing.T, h *Harness) {
	ctx := context.Background()

	late := newJob(h, "default", job.PriorityHigh)
	late.ScheduledAt = h.Now().Add(10 * time.Second)
	early := newJob(h, "default", job.PriorityLow)
	early.ScheduledAt = h.Now().Add(5 * time.Second)
	enqueue(t, h, late)
	enqueue(t, h, early)

	counts, _ := h.Store.QueueCounts(ctx, "default")
	if counts.Delayed != 2 || counts.Pending != 0 {
		t.Fatalf("counts = %+v, want 2 delayed", counts)
	}
	if c := claim(t, h, "default", id.NewWorkerID()); c != nil {
		t.Fatalf("claimed %s before it was due", c.Job.ID)
	}

	if n, _ := h.Store.PromoteDueJobs(ctx, h.Now().Add(4*time.Second), 100); n != 0 {
		t.Errorf("promoted %d before due", n)
	}

	h.Advance(10 * time.Second)
	n, err := h.Store.PromoteDueJobs(ctx, h.Now().UTC(), 1)
	if err != nil || n != 1 {
		t.Fatalf("PromoteDueJobs(limit 1) = %d, %v", n, err)
	}
	c := claim(t, h, "default", id.NewWorkerID())
	if c == nil || c.Job.ID != early.ID {
		t.Fatalf("oldest due job should be promoted first, got %v", c)
	}

	if n, _ := h.Store.PromoteDueJobs(ctx, h.Now().UTC(), 100); n != 1 {
		t.Errorf("second promotion moved %d, want 1", n)
	}
	c = claim(t, h, "default", id.NewWorkerID())
	if c == nil || c.Job.ID != late.ID || c.Tier != job.PriorityHigh {
		t.Fatalf("promoted job should land in its own tier, got %v", c)
	}
	if n, _ := h.Store.PromoteDueJobs(ctx, h.Now().UTC(), 100); n != 0 {
		t.Errorf("promotion must not repeat, moved %d", n)
	}
}

func testRequeue(t *testing.T, h *Harness) {
	ctx := context.Background()
	worker := id.NewWorkerID()
	j := newJob(h, "default", job.PriorityNormal)
	enqueue(t, h, j)
	c := claim(t, h, "default", worker)

	now := h.Now().UTC()
	c.Job.State = job.StatePending
	c.Job.WorkerID = id.WorkerID{}
	c.Job.ScheduledAt = now.Add(30 * time.Second)
	c.Job.RecordFailure(string(jobq.KindExecution), "smtp timeout", now)
	if err := h.Store.RequeueJob(ctx, c.Job, worker, now, job.CounterFailed, job.CounterRetried); err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}

	stored, _ := h.Store.GetJob(ctx, j.ID)
	if stored.State != job.StatePending || stored.Attempts != 1 || len(stored.Failures) != 1 {
		t.Errorf("requeued job = state %s attempts %d failures %d", stored.State, stored.Attempts, len(stored.Failures))
	}
	counts, _ := h.Store.QueueCounts(ctx, "default")
	if counts.Delayed != 1 || counts.Active != 0 {
		t.Errorf("counts after requeue = %+v", counts)
	}
	got := counters(t, h, "default")
	if got[job.CounterFailed] != 1 || got[job.CounterRetried] != 1 {
		t.Errorf("counters = %v", got)
	}

	h.Advance(30 * time.Second)
	_, _ = h.Store.PromoteDueJobs(ctx, h.Now().UTC(), 100)
	c = claim(t, h, "default", worker)
	if c == nil || c.Job.Attempts != 2 {
		t.Fatalf("reclaim = %v, want attempt 2", c)
	}
}

func testWrongWorker(t *testing.T, h *Harness) {
	ctx := context.Background()
	owner := id.NewWorkerID()
	j := newJob(h, "default", job.PriorityNormal)
	enqueue(t, h, j)
	c := claim(t, h, "default", owner)

	c.Job.State = job.StateCompleted
	if err := h.Store.FinishJob(ctx, c.Job, id.NewWorkerID()); !errors.Is(err, jobq.ErrInvalidState) {
		t.Errorf("FinishJob by another worker = %v, want ErrInvalidState", err)
	}
	c.Job.State = job.StatePending
	if err := h.Store.RequeueJob(ctx, c.Job, id.NewWorkerID(), h.Now().UTC()); !errors.Is(err, jobq.ErrInvalidState) {
		t.Errorf("RequeueJob by another worker = %v, want ErrInvalidState", err)
	}

	active, _ := h.Store.ActiveJobs(ctx)
	if len(active) != 1 || active[0].JobID != j.ID || active[0].WorkerID != owner {
		t.Errorf("ActiveJobs = %v", active)
	}
}

func testDeadLetterAndRetry(t *testing.T, h *Harness) {
	ctx := context.Background()
	worker := id.NewWorkerID()
	j := newJob(h, "default", job.PriorityHigh)
	enqueue(t, h, j)
	c := claim(t, h, "default", worker)
	c.Job.RecordFailure(string(jobq.KindMaxRetriesExceeded), "gave up", h.Now().UTC())
	settle(t, h, c.Job, worker, job.StateDeadLettered)

	if n, _ := h.Store.CountDLQ(ctx); n != 1 {
		t.Fatalf("CountDLQ = %d, want 1", n)
	}
	entries, err := h.Store.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListDLQ = %v, %v", entries, err)
	}
	if entries[0].JobID != j.ID || entries[0].ErrorKind != string(jobq.KindMaxRetriesExceeded) {
		t.Errorf("entry = %+v", entries[0])
	}
	got := counters(t, h, "default")
	if got[job.CounterFailed] != 1 || got[job.CounterDeadLettered] != 1 {
		t.Errorf("counters = %v", got)
	}
	if n, _ := h.Store.CountDeadLetteredSince(ctx, h.Now().Add(-time.Minute)); n != 1 {
		t.Errorf("CountDeadLetteredSince = %d, want 1", n)
	}
	if recent, _ := h.Store.RecentDeadLettered(ctx, 5); len(recent) != 1 {
		t.Errorf("RecentDeadLettered = %v", recent)
	}

	retried, err := h.Store.RetryDLQ(ctx, j.ID, h.Now().UTC(), time.Hour)
	if err != nil {
		t.Fatalf("RetryDLQ: %v", err)
	}
	if retried.State != job.StatePending || retried.Attempts != 0 || !retried.WorkerID.IsNil() {
		t.Errorf("retried = state %s attempts %d worker %s", retried.State, retried.Attempts, retried.WorkerID)
	}
	if _, err := h.Store.GetDLQ(ctx, j.ID); !errors.Is(err, jobq.ErrDLQEntryNotFound) {
		t.Errorf("GetDLQ after retry = %v, want ErrDLQEntryNotFound", err)
	}
	c = claim(t, h, "default", worker)
	if c == nil || c.Job.ID != j.ID || c.Tier != job.PriorityHigh {
		t.Fatalf("retried job should be claimable from its tier, got %v", c)
	}

	if _, err := h.Store.RetryDLQ(ctx, id.NewJobID(), h.Now().UTC(), time.Hour); !errors.Is(err, jobq.ErrDLQEntryNotFound) {
		t.Errorf("RetryDLQ unknown = %v, want ErrDLQEntryNotFound", err)
	}
}

func testDLQMaintenance(t *testing.T, h *Harness) {
	ctx := context.Background()

	if n, err := h.Store.PurgeDLQ(ctx); err != nil || n != 0 {
		t.Fatalf("PurgeDLQ on empty = %d, %v; want 0", n, err)
	}

	worker := id.NewWorkerID()
	var ids []id.JobID
	for range 4 {
		j := newJob(h, "default", job.PriorityNormal)
		enqueue(t, h, j)
		c := claim(t, h, "default", worker)
		settle(t, h, c.Job, worker, job.StateDeadLettered)
		ids = append(ids, j.ID)
		h.Advance(time.Second)
	}

	if n, _ := h.Store.PurgeDLQBefore(ctx, h.Now().Add(-3500*time.Millisecond)); n != 1 {
		t.Errorf("PurgeDLQBefore removed %d, want 1", n)
	}
	if n, _ := h.Store.TrimDLQ(ctx, 2); n != 1 {
		t.Errorf("TrimDLQ removed %d, want 1", n)
	}
	entries, _ := h.Store.ListDLQ(ctx, dlq.ListOpts{Limit: 10})
	if len(entries) != 2 || entries[0].JobID != ids[3] || entries[1].JobID != ids[2] {
		t.Errorf("remaining entries should be the two newest, newest first")
	}
	if page, _ := h.Store.ListDLQ(ctx, dlq.ListOpts{Limit: 1, Offset: 1}); len(page) != 1 || page[0].JobID != ids[2] {
		t.Errorf("paged ListDLQ = %v", page)
	}

	if err := h.Store.DeleteDLQ(ctx, ids[3]); err != nil {
		t.Fatalf("DeleteDLQ: %v", err)
	}
	if _, err := h.Store.GetJob(ctx, ids[3]); !errors.Is(err, jobq.ErrJobNotFound) {
		t.Errorf("deleted job still stored: %v", err)
	}
	if n, _ := h.Store.PurgeDLQ(ctx); n != 1 {
		t.Errorf("PurgeDLQ = %d, want 1", n)
	}
}

func testCancel(t *testing.T, h *Harness) {
	ctx := context.Background()

	pending := newJob(h, "default", job.PriorityNormal)
	pending.UniqueKey = "cancel-me"
	if _, err := h.Store.EnqueueJob(ctx, pending, job.EnqueueOpts{Now: h.Now().UTC(), UniqueTTL: time.Hour}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	delayed := newJob(h, "default", job.PriorityNormal)
	delayed.ScheduledAt = h.Now().Add(time.Hour)
	enqueue(t, h, delayed)

	for _, j := range []*job.Job{pending, delayed} {
		ok, err := h.Store.CancelJob(ctx, j.ID, h.Now().UTC())
		if err != nil || !ok {
			t.Fatalf("CancelJob = %v, %v", ok, err)
		}
	}
	if ok, err := h.Store.CancelJob(ctx, pending.ID, h.Now().UTC()); err != nil || ok {
		t.Errorf("second cancel = %v, %v; want false, nil", ok, err)
	}

	stored, _ := h.Store.GetJob(ctx, pending.ID)
	if stored.State != job.StateCancelled {
		t.Errorf("State = %s, want cancelled", stored.State)
	}
	counts, _ := h.Store.QueueCounts(ctx, "default")
	if counts.Pending != 0 || counts.Delayed != 0 {
		t.Errorf("counts after cancel = %+v", counts)
	}
	if got := counters(t, h, "default"); got[job.CounterCancelled] != 2 {
		t.Errorf("cancelled counter = %d, want 2", got[job.CounterCancelled])
	}

	// Cancelling released the unique key.
	again := newJob(h, "default", job.PriorityNormal)
	again.UniqueKey = "cancel-me"
	if got, _ := h.Store.EnqueueJob(ctx, again, job.EnqueueOpts{Now: h.Now().UTC(), UniqueTTL: time.Hour}); got != again.ID {
		t.Errorf("enqueue after cancel returned %s, want %s", got, again.ID)
	}

	c := claim(t, h, "default", id.NewWorkerID())
	if _, err := h.Store.CancelJob(ctx, c.Job.ID, h.Now().UTC()); !errors.Is(err, jobq.ErrInvalidState) {
		t.Errorf("cancel active = %v, want ErrInvalidState", err)
	}
	if _, err := h.Store.CancelJob(ctx, id.NewJobID(), h.Now().UTC()); !errors.Is(err, jobq.ErrJobNotFound) {
		t.Errorf("cancel unknown = %v, want ErrJobNotFound", err)
	}
}

func testPurgeQueue(t *testing.T, h *Harness) {
	ctx := context.Background()
	enqueue(t, h, newJob(h, "email", job.PriorityHigh))
	enqueue(t, h, newJob(h, "email", job.PriorityLow))
	d := newJob(h, "email", job.PriorityNormal)
	d.ScheduledAt = h.Now().Add(time.Hour)
	enqueue(t, h, d)
	enqueue(t, h, newJob(h, "email", job.PriorityNormal))
	keep := newJob(h, "media", job.PriorityNormal)
	enqueue(t, h, keep)

	c := claim(t, h, "email", id.NewWorkerID())

	n, err := h.Store.PurgeQueue(ctx, "email")
	if err != nil || n != 3 {
		t.Fatalf("PurgeQueue = %d, %v; want 3", n, err)
	}
	counts, _ := h.Store.QueueCounts(ctx, "email")
	if counts.Pending != 0 || counts.Delayed != 0 || counts.Active != 1 {
		t.Errorf("email counts = %+v, want only the active job", counts)
	}
	if _, err := h.Store.GetJob(ctx, c.Job.ID); err != nil {
		t.Errorf("active job must survive a purge: %v", err)
	}
	if _, err := h.Store.GetJob(ctx, keep.ID); err != nil {
		t.Errorf("other queue must survive a purge: %v", err)
	}
	if n, _ := h.Store.PurgeQueue(ctx, "empty"); n != 0 {
		t.Errorf("purge of unknown queue = %d, want 0", n)
	}
}

func testTrimCompleted(t *testing.T, h *Harness) {
	ctx := context.Background()
	worker := id.NewWorkerID()
	for range 5 {
		enqueue(t, h, newJob(h, "default", job.PriorityNormal))
		c := claim(t, h, "default", worker)
		settle(t, h, c.Job, worker, job.StateCompleted)
		h.Advance(time.Second)
	}

	n, err := h.Store.TrimCompleted(ctx, h.Now().Add(-4500*time.Millisecond), 3)
	if err != nil {
		t.Fatalf("TrimCompleted: %v", err)
	}
	if n != 2 {
		t.Errorf("TrimCompleted removed %d, want 2", n)
	}
	if recent, _ := h.Store.RecentCompleted(ctx, 0); len(recent) != 3 {
		t.Errorf("completed log holds %d, want 3", len(recent))
	}
}

func testTrimCancelled(t *testing.T, h *Harness) {
	ctx := context.Background()
	worker := id.NewWorkerID()

	pending := newJob(h, "default", job.PriorityNormal)
	enqueue(t, h, pending)
	if ok, err := h.Store.CancelJob(ctx, pending.ID, h.Now().UTC()); err != nil || !ok {
		t.Fatalf("CancelJob = %v, %v", ok, err)
	}
	active := newJob(h, "default", job.PriorityNormal)
	enqueue(t, h, active)
	c := claim(t, h, "default", worker)
	settle(t, h, c.Job, worker, job.StateCancelled)

	h.Advance(time.Minute)
	kept := newJob(h, "default", job.PriorityNormal)
	enqueue(t, h, kept)
	c = claim(t, h, "default", worker)
	settle(t, h, c.Job, worker, job.StateCompleted)

	n, err := h.Store.TrimCompleted(ctx, h.Now().Add(-30*time.Second), 0)
	if err != nil {
		t.Fatalf("TrimCompleted: %v", err)
	}
	if n != 2 {
		t.Errorf("TrimCompleted removed %d, want 2", n)
	}
	for _, j := range []*job.Job{pending, active} {
		if _, err := h.Store.GetJob(ctx, j.ID); !errors.Is(err, jobq.ErrJobNotFound) {
			t.Errorf("cancelled job %s survived trim: %v", j.ID, err)
		}
	}
	if _, err := h.Store.GetJob(ctx, kept.ID); err != nil {
		t.Errorf("recent completed job trimmed: %v", err)
	}
}

func testReader(t *testing.T, h *Harness) {
	ctx := context.Background()
	enqueue(t, h, newJob(h, "email", job.PriorityNormal))
	enqueue(t, h, newJob(h, "media", job.PriorityNormal))

	queues, err := h.Store.ListQueues(ctx)
	if err != nil || len(queues) != 2 || queues[0] != "email" || queues[1] != "media" {
		t.Fatalf("ListQueues = %v, %v", queues, err)
	}

	seen := 0
	err = h.Store.ScanJobs(ctx, func(j *job.Job) bool {
		seen++
		return true
	})
	if err != nil || seen != 2 {
		t.Errorf("ScanJobs visited %d, %v; want 2", seen, err)
	}

	seen = 0
	_ = h.Store.ScanJobs(ctx, func(*job.Job) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Errorf("ScanJobs should stop when fn returns false, visited %d", seen)
	}
}

func testSchedules(t *testing.T, h *Harness) {
	ctx := context.Background()
	now := h.Now().UTC().Truncate(time.Second)
	next := now.Add(time.Minute)

	e := &cron.Entry{
		Name:      "report",
		Schedule:  "* * * * *",
		JobName:   "build_report",
		Payload:   []byte(`{"format":"pdf"}`),
		Enabled:   true,
		NextRunAt: &next,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.CreateSchedule(ctx, e); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if err := h.Store.CreateSchedule(ctx, e); !errors.Is(err, jobq.ErrDuplicateSchedule) {
		t.Errorf("duplicate CreateSchedule = %v, want ErrDuplicateSchedule", err)
	}
	if err := h.Store.CreateSchedule(ctx, &cron.Entry{Name: "alpha", Interval: time.Hour, JobName: "noop", NextRunAt: &next}); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	got, err := h.Store.GetSchedule(ctx, "report")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.JobName != "build_report" || string(got.Payload) != `{"format":"pdf"}` || !got.Enabled {
		t.Errorf("GetSchedule = %+v", got)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) || got.LastRunAt != nil {
		t.Errorf("fire times = next %v last %v", got.NextRunAt, got.LastRunAt)
	}

	list, _ := h.Store.ListSchedules(ctx)
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "report" {
		t.Errorf("ListSchedules should be sorted by name, got %d entries", len(list))
	}

	later := next.Add(time.Minute)
	ok, err := h.Store.AdvanceSchedule(ctx, "report", next, later, &next)
	if err != nil || !ok {
		t.Fatalf("AdvanceSchedule = %v, %v", ok, err)
	}
	if ok, _ := h.Store.AdvanceSchedule(ctx, "report", next, later.Add(time.Minute), &next); ok {
		t.Error("AdvanceSchedule with a stale expected time must fail")
	}
	got, _ = h.Store.GetSchedule(ctx, "report")
	if !got.NextRunAt.Equal(later) || got.LastRunAt == nil || !got.LastRunAt.Equal(next) {
		t.Errorf("after advance: next %v last %v", got.NextRunAt, got.LastRunAt)
	}

	if ok, _ := h.Store.AdvanceSchedule(ctx, "report", later, next, nil); !ok {
		t.Error("rollback advance should succeed")
	}
	got, _ = h.Store.GetSchedule(ctx, "report")
	if got.LastRunAt != nil {
		t.Errorf("rollback should clear LastRunAt, got %v", got.LastRunAt)
	}

	if err := h.Store.SetScheduleEnabled(ctx, "report", false, later); err != nil {
		t.Fatalf("SetScheduleEnabled: %v", err)
	}
	got, _ = h.Store.GetSchedule(ctx, "report")
	if got.Enabled || !got.NextRunAt.Equal(later) {
		t.Errorf("after disable: enabled %v next %v", got.Enabled, got.NextRunAt)
	}

	if err := h.Store.DeleteSchedule(ctx, "report"); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}
	if _, err := h.Store.GetSchedule(ctx, "report"); !errors.Is(err, jobq.ErrScheduleNotFound) {
		t.Errorf("GetSchedule after delete = %v", err)
	}
	if err := h.Store.DeleteSchedule(ctx, "report"); !errors.Is(err, jobq.ErrScheduleNotFound) {
		t.Errorf("DeleteSchedule twice = %v", err)
	}
}

func testWorkers(t *testing.T, h *Harness) {
	ctx := context.Background()
	now := h.Now().UTC()
	w := &cluster.Worker{
		ID:          id.NewWorkerID(),
		Hostname:    "node-1",
		Queues:      []string{"default", "email"},
		Concurrency: 4,
		State:       cluster.WorkerActive,
		StartedAt:   now,
		LastSeen:    now,
	}
	if err := h.Store.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	jobID := id.NewJobID()
	w.ActiveJobs = []id.JobID{jobID}
	if err := h.Store.HeartbeatWorker(ctx, w, 30*time.Second); err != nil {
		t.Fatalf("HeartbeatWorker: %v", err)
	}

	got, err := h.Store.GetWorker(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if got.Hostname != "node-1" || len(got.Queues) != 2 || len(got.ActiveJobs) != 1 || got.ActiveJobs[0] != jobID {
		t.Errorf("GetWorker = %+v", got)
	}
	if alive, _ := h.Store.WorkerAlive(ctx, w.ID, 30*time.Second); !alive {
		t.Error("worker should be alive right after a heartbeat")
	}
	if alive, _ := h.Store.WorkerAlive(ctx, id.NewWorkerID(), 30*time.Second); alive {
		t.Error("unknown worker must not be alive")
	}

	h.Advance(31 * time.Second)
	if alive, _ := h.Store.WorkerAlive(ctx, w.ID, 30*time.Second); alive {
		t.Error("worker should be dead after its heartbeat lapsed")
	}

	other := &cluster.Worker{ID: id.NewWorkerID(), Hostname: "node-2", StartedAt: h.Now().UTC(), LastSeen: h.Now().UTC()}
	_ = h.Store.RegisterWorker(ctx, other)
	list, _ := h.Store.ListWorkers(ctx)
	if len(list) != 2 || list[0].ID != w.ID {
		t.Errorf("ListWorkers should be oldest first, got %d", len(list))
	}

	n, err := h.Store.PruneWorkers(ctx, h.Now().Add(-10*time.Second))
	if err != nil || n != 1 {
		t.Errorf("PruneWorkers = %d, %v; want 1", n, err)
	}
	if err := h.Store.DeregisterWorker(ctx, other.ID); err != nil {
		t.Fatalf("DeregisterWorker: %v", err)
	}
	if _, err := h.Store.GetWorker(ctx, other.ID); !errors.Is(err, jobq.ErrWorkerNotFound) {
		t.Errorf("GetWorker after deregister = %v", err)
	}
	if err := h.Store.DeregisterWorker(ctx, other.ID); !errors.Is(err, jobq.ErrWorkerNotFound) {
		t.Errorf("DeregisterWorker twice = %v", err)
	}
}

func testLeadership(t *testing.T, h *Harness) {
	ctx := context.Background()
	a, b := id.NewWorkerID(), id.NewWorkerID()
	ttl := 10 * time.Second

	if ok, err := h.Store.AcquireLeadership(ctx, a, ttl); err != nil || !ok {
		t.Fatalf("AcquireLeadership(a) = %v, %v", ok, err)
	}
	if ok, _ := h.Store.AcquireLeadership(ctx, b, ttl); ok {
		t.Fatal("b must not take a held lock")
	}
	if ok, _ := h.Store.RenewLeadership(ctx, b, ttl); ok {
		t.Fatal("b must not renew a lock it does not hold")
	}
	if leader, _ := h.Store.GetLeader(ctx); leader != a {
		t.Errorf("GetLeader = %s, want %s", leader, a)
	}

	h.Advance(6 * time.Second)
	if ok, _ := h.Store.RenewLeadership(ctx, a, ttl); !ok {
		t.Fatal("holder should renew")
	}
	h.Advance(6 * time.Second)
	if ok, _ := h.Store.AcquireLeadership(ctx, b, ttl); ok {
		t.Fatal("renewed lock must not expire at the original deadline")
	}

	if err := h.Store.ReleaseLeadership(ctx, b); err != nil {
		t.Fatalf("ReleaseLeadership by non-holder: %v", err)
	}
	if leader, _ := h.Store.GetLeader(ctx); leader != a {
		t.Errorf("release by non-holder dropped the lock")
	}

	h.Advance(11 * time.Second)
	if leader, _ := h.Store.GetLeader(ctx); !leader.IsNil() {
		t.Errorf("expired lock still reports %s", leader)
	}
	if ok, _ := h.Store.AcquireLeadership(ctx, b, ttl); !ok {
		t.Fatal("b should take an expired lock")
	}
	if err := h.Store.ReleaseLeadership(ctx, b); err != nil {
		t.Fatalf("ReleaseLeadership: %v", err)
	}
	if leader, _ := h.Store.GetLeader(ctx); !leader.IsNil() {
		t.Errorf("released lock still reports %s", leader)
	}
}
