package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/queue"
	"github.com/xraph/jobq/retry"
	"github.com/xraph/jobq/store/redis"
	"github.com/xraph/jobq/store/storetest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T, opts ...redis.Option) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return redis.New(client, opts...), mr
}

func harness(opts ...redis.Option) storetest.Factory {
	return func(t *testing.T) *storetest.Harness {
		s, mr := newStore(t, opts...)
		c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		return &storetest.Harness{
			Store: s,
			Now:   c.Now,
			Advance: func(d time.Duration) {
				c.Advance(d)
				mr.FastForward(d)
			},
		}
	}
}

func TestStore(t *testing.T) {
	storetest.Run(t, harness())
}

func TestStore_JSONCodec(t *testing.T) {
	storetest.Run(t, harness(redis.WithCodec(redis.JSONCodec{}), redis.WithKeyPrefix("jobq-json")))
}

func newJob(queue string, now time.Time) *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Name:        "send_email",
		Queue:       queue,
		Payload:     []byte(`{"to":"alice@example.com"}`),
		State:       job.StatePending,
		MaxRetries:  3,
		CreatedAt:   now,
		UpdatedAt:   now,
		ScheduledAt: now,
	}
}

func TestStore_KeyLayout(t *testing.T) {
	s, _ := newStore(t, redis.WithKeyPrefix("acme"))
	ctx := context.Background()
	rdb := s.Client()
	now := time.Now().UTC()

	j := newJob("email", now)
	j.Priority = job.PriorityHigh
	if _, err := s.EnqueueJob(ctx, j, job.EnqueueOpts{Now: now}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	if got := rdb.HGet(ctx, "acme:job:"+j.ID.String(), "state").Val(); got != "pending" {
		t.Errorf("job hash state = %q, want pending", got)
	}
	members, err := rdb.ZRange(ctx, "acme:queue:email:10", 0, -1).Result()
	if err != nil || len(members) != 1 || members[0] != j.ID.String() {
		t.Errorf("high tier = %v, %v", members, err)
	}
	if !rdb.SIsMember(ctx, "acme:queues", "email").Val() {
		t.Error("queue should be registered")
	}
	for _, k := range rdb.Keys(ctx, "*").Val() {
		if len(k) < 5 || k[:5] != "acme:" {
			t.Errorf("key %q escapes the prefix", k)
		}
	}
}

func TestStore_ClaimMarksHashActive(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := newJob("default", now)
	if _, err := s.EnqueueJob(ctx, j, job.EnqueueOpts{Now: now}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	worker := id.NewWorkerID()
	c, err := s.ClaimJob(ctx, job.ClaimRequest{Queue: "default", WorkerID: worker, Order: job.Tiers, Now: now})
	if err != nil || c == nil {
		t.Fatalf("ClaimJob = %v, %v", c, err)
	}
	if c.Job.Attempts != 1 || c.Job.State != job.StateActive || c.Job.WorkerID != worker {
		t.Errorf("claimed job = %+v", c.Job)
	}
	if got := s.Client().HGet(ctx, "jobq:active", j.ID.String()).Val(); got != worker.String() {
		t.Errorf("active entry = %q, want %s", got, worker)
	}
	if c.EnqueuedAt.UnixMilli() != now.UnixMilli() {
		t.Errorf("EnqueuedAt = %v, want %v", c.EnqueuedAt, now)
	}
}

func TestStore_FailureHistoryRoundTrips(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := newJob("default", now)
	if _, err := s.EnqueueJob(ctx, j, job.EnqueueOpts{Now: now}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	worker := id.NewWorkerID()
	c, err := s.ClaimJob(ctx, job.ClaimRequest{Queue: "default", WorkerID: worker, Order: job.Tiers, Now: now})
	if err != nil || c == nil {
		t.Fatalf("ClaimJob = %v, %v", c, err)
	}

	claimed := c.Job
	claimed.RecordFailure(string(jobq.KindExecution), "smtp: connection refused", now)
	claimed.State = job.StatePending
	claimed.WorkerID = id.Nil
	claimed.StartedAt = nil
	claimed.ScheduledAt = now.Add(time.Minute)
	if err := s.RequeueJob(ctx, claimed, worker, now, job.CounterRetried); err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if len(got.Failures) != 1 || got.Failures[0].Message != "smtp: connection refused" || got.Failures[0].Attempt != 1 {
		t.Errorf("failures = %+v", got.Failures)
	}
	if !got.WorkerID.IsNil() || got.StartedAt != nil {
		t.Errorf("requeue should clear the claimant, got worker %s started %v", got.WorkerID, got.StartedAt)
	}
	counts, _ := s.QueueCounts(ctx, "default")
	if counts.Delayed != 1 || counts.Pending != 0 || counts.Active != 0 {
		t.Errorf("counts = %+v, want one delayed", counts)
	}
}

func TestStore_TransientErrorsAreRetriedThenSurfaced(t *testing.T) {
	s, mr := newStore(t, redis.WithRetry(3, backoff.None{}))
	ctx := context.Background()

	mr.SetError("LOADING Redis is loading the dataset in memory")
	err := s.Ping(ctx)
	if err == nil {
		t.Fatal("Ping should fail while the server is loading")
	}
	if jobq.KindOf(err) != jobq.KindBackend {
		t.Errorf("KindOf = %s, want backend", jobq.KindOf(err))
	}

	mr.SetError("")
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping after recovery: %v", err)
	}
}

func TestStore_RegisteredWorkerIsAliveUntilTTL(t *testing.T) {
	s, mr := newStore(t, redis.WithWorkerTTL(10*time.Second))
	ctx := context.Background()
	now := time.Now().UTC()

	w := &cluster.Worker{ID: id.NewWorkerID(), Hostname: "node-1", PID: 4242, StartedAt: now, LastSeen: now}
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	if alive, _ := s.WorkerAlive(ctx, w.ID, time.Second); !alive {
		t.Error("worker should be alive after registering")
	}
	got, err := s.GetWorker(ctx, w.ID)
	if err != nil || got.PID != 4242 {
		t.Errorf("GetWorker = %+v, %v", got, err)
	}

	mr.FastForward(11 * time.Second)
	if alive, _ := s.WorkerAlive(ctx, w.ID, time.Second); alive {
		t.Error("worker should be dead once its liveness key expires")
	}
	if leader, err := s.GetLeader(ctx); err != nil || !leader.IsNil() {
		t.Errorf("GetLeader = %s, %v; want none", leader, err)
	}
}

func TestOpen_RejectsBadURL(t *testing.T) {
	_, err := redis.Open(context.Background(), "not a url")
	if jobq.KindOf(err) != jobq.KindConfiguration {
		t.Errorf("Open = %v, want configuration error", err)
	}
}

func TestOpen_OwnsClient(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := redis.Open(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Client().Ping(context.Background()).Err(); !errors.Is(err, goredis.ErrClosed) {
		t.Errorf("client should be closed, got %v", err)
	}
}

// A delayed job goes through the whole core on Redis: invisible until
// due, then promoted and claimed.
func TestCore_DelayedJobOnRedis(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	core := queue.NewCore(s, retry.NewTable(retry.Policy{MaxRetries: 3, Backoff: backoff.None{}}), queue.WithClock(c.Now))

	j := &job.Job{Name: "send_email", Queue: "default", Payload: []byte(`{}`), MaxRetries: 3,
		ScheduledAt: c.Now().Add(5 * time.Second)}
	jobID, err := core.Enqueue(ctx, j)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	worker := id.NewWorkerID()
	if qj, err := core.Dequeue(ctx, "default", worker); err != nil || qj != nil {
		t.Fatalf("Dequeue before due = %v, %v", qj, err)
	}

	c.Advance(5 * time.Second)
	mr.FastForward(5 * time.Second)
	if _, err := core.PromoteDue(ctx); err != nil {
		t.Fatalf("PromoteDue: %v", err)
	}
	qj, err := core.Dequeue(ctx, "default", worker)
	if err != nil || qj == nil || qj.Job.ID != jobID {
		t.Fatalf("Dequeue after due = %v, %v", qj, err)
	}
	if err := core.Ack(ctx, jobID, worker); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	got, _ := s.GetJob(ctx, jobID)
	if got.State != job.StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
}

func TestCore_FailedSettleIsRecoveredOnRedis(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	core := queue.NewCore(s, retry.NewTable(retry.Policy{MaxRetries: 3, Backoff: backoff.None{}}),
		queue.WithClock(c.Now), queue.WithLiveness(s), queue.WithClaimGrace(30*time.Second))

	w := &cluster.Worker{ID: id.NewWorkerID(), StartedAt: c.Now(), LastSeen: c.Now()}
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	jobID, err := core.Enqueue(ctx, &job.Job{Name: "send_email", Queue: "default", Payload: []byte(`{}`), MaxRetries: 3})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	qj, err := core.Dequeue(ctx, "default", w.ID)
	if err != nil || qj == nil || qj.Job.ID != jobID {
		t.Fatalf("Dequeue = %v, %v", qj, err)
	}
	if qj.Job.State != job.StateActive || qj.Job.Attempts != 1 || qj.Job.WorkerID != w.ID {
		t.Errorf("claimed job = state %s attempts %d worker %s", qj.Job.State, qj.Job.Attempts, qj.Job.WorkerID)
	}

	// The handler succeeded but the settle never reached Redis; the
	// worker drops the job from its next heartbeat.
	mr.SetError("ERR connection reset by peer")
	if err := core.Ack(ctx, jobID, w.ID); err == nil {
		t.Fatal("Ack succeeded with Redis failing")
	}
	mr.SetError("")

	c.Advance(time.Minute)
	w.LastSeen = c.Now()
	w.ActiveJobs = nil
	if err := s.HeartbeatWorker(ctx, w, jobq.DefaultHeartbeatTimeout); err != nil {
		t.Fatalf("HeartbeatWorker: %v", err)
	}

	n, err := core.RecoverStale(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RecoverStale = %d, %v; want 1", n, err)
	}
	got, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending || got.LastErrorKind != string(jobq.KindWorkerCrashed) {
		t.Errorf("state = %s kind %q, want pending/worker_crashed", got.State, got.LastErrorKind)
	}
	if entries, _ := s.ActiveJobs(ctx); len(entries) != 0 {
		t.Errorf("active entries = %v, want none", entries)
	}
	if qj, err := core.Dequeue(ctx, "default", w.ID); err != nil || qj == nil || qj.Job.ID != jobID {
		t.Fatalf("re-claim = %v, %v", qj, err)
	}
}
