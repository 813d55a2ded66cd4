package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/retry"
)

// Liveness reports whether a worker is still heartbeating and which jobs
// its last heartbeat listed.
type Liveness interface {
	WorkerAlive(ctx context.Context, workerID id.WorkerID, timeout time.Duration) (bool, error)
	GetWorker(ctx context.Context, workerID id.WorkerID) (*cluster.Worker, error)
}

// DefaultClaimGrace is how long a claim may be missing from its live
// claimant's heartbeat before RecoverStale treats it as dropped.
const DefaultClaimGrace = 30 * time.Second

// QueuedJob is a claimed job handed to a worker slot.
type QueuedJob struct {
	Job        *job.Job
	Queue      string
	Tier       job.Priority
	EnqueuedAt time.Time
}

// Core is the queue engine shared by producers and workers. All
// coordination between processes goes through the store's atomic
// operations; Core itself only keeps the per-queue fairness counters.
type Core struct {
	store    job.Store
	policies *retry.Table
	liveness Liveness
	logger   *slog.Logger
	now      func() time.Time

	starvationLimit  int
	uniqueTTL        time.Duration
	maxPending       int64
	promoteBatch     int
	heartbeatTimeout time.Duration
	claimGrace       time.Duration

	completedRetention time.Duration
	completedMaxSize   int64

	mu   sync.Mutex
	fair map[string]*fairness
}

// CoreOption configures a Core.
type CoreOption func(*Core)

// WithClock replaces the wall clock. Tests use it to step through delays.
func WithClock(now func() time.Time) CoreOption {
	return func(c *Core) { c.now = now }
}

// WithLogger sets the logger for the core.
func WithLogger(l *slog.Logger) CoreOption {
	return func(c *Core) { c.logger = l }
}

// WithLiveness sets the heartbeat source RecoverStale consults.
func WithLiveness(l Liveness) CoreOption {
	return func(c *Core) { c.liveness = l }
}

// WithQueueConfig applies the queue section of the configuration.
func WithQueueConfig(cfg jobq.QueueConfig) CoreOption {
	return func(c *Core) {
		if cfg.StarvationLimit > 0 {
			c.starvationLimit = cfg.StarvationLimit
		}
		if cfg.UniqueTTL > 0 {
			c.uniqueTTL = cfg.UniqueTTL
		}
		if cfg.PromoteBatch > 0 {
			c.promoteBatch = cfg.PromoteBatch
		}
		c.maxPending = cfg.MaxPending
		c.completedRetention = cfg.CompletedRetention
		c.completedMaxSize = cfg.CompletedMaxSize
	}
}

// WithHeartbeatTimeout sets how long a worker may stay silent before its
// claims are recovered.
func WithHeartbeatTimeout(d time.Duration) CoreOption {
	return func(c *Core) { c.heartbeatTimeout = d }
}

// WithClaimGrace sets how long after a claim a live worker's heartbeat
// may omit the job before the claim counts as dropped.
func WithClaimGrace(d time.Duration) CoreOption {
	return func(c *Core) {
		if d > 0 {
			c.claimGrace = d
		}
	}
}

// NewCore creates a queue core over store. policies resolves the retry
// policy of each job type.
func NewCore(store job.Store, policies *retry.Table, opts ...CoreOption) *Core {
	c := &Core{
		store:            store,
		policies:         policies,
		logger:           slog.Default(),
		now:              time.Now,
		starvationLimit:  jobq.DefaultStarvationLimit,
		uniqueTTL:        time.Hour,
		promoteBatch:     100,
		heartbeatTimeout: jobq.DefaultHeartbeatTimeout,
		claimGrace:       DefaultClaimGrace,
		fair:             make(map[string]*fairness),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policies returns the retry policy table.
func (c *Core) Policies() *retry.Table { return c.policies }

// Enqueue persists j as pending. When j carries a unique key held by a
// pending or active job, nothing is written and the holder's ID is
// returned instead of j.ID.
func (c *Core) Enqueue(ctx context.Context, j *job.Job) (id.JobID, error) {
	now := c.now().UTC()
	if j.ID.IsNil() {
		j.ID = id.NewJobID()
	}
	if j.Queue == "" {
		j.Queue = "default"
	}
	j.Priority = j.Priority.Tier()
	j.State = job.StatePending
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if j.ScheduledAt.IsZero() {
		j.ScheduledAt = now
	}

	return c.store.EnqueueJob(ctx, j, job.EnqueueOpts{
		Now:        now,
		UniqueTTL:  c.uniqueTTL,
		MaxPending: c.maxPending,
	})
}

// Dequeue claims the next job of queue for workerID. Tiers are tried from
// Critical down to Low, except that a tier passed over StarvationLimit
// times in a row while holding work is tried first. Returns nil when the
// queue is empty.
func (c *Core) Dequeue(ctx context.Context, queue string, workerID id.WorkerID) (*QueuedJob, error) {
	f := c.fairnessFor(queue)

	claim, err := c.store.ClaimJob(ctx, job.ClaimRequest{
		Queue:    queue,
		WorkerID: workerID,
		Order:    f.order(c.starvationLimit),
		Now:      c.now().UTC(),
	})
	if err != nil || claim == nil {
		return nil, err
	}
	f.record(claim.Tier, claim.Waiting)

	return &QueuedJob{
		Job:        claim.Job,
		Queue:      queue,
		Tier:       claim.Tier,
		EnqueuedAt: claim.EnqueuedAt,
	}, nil
}

// Ack settles a claimed job as completed.
func (c *Core) Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	j, err := c.claimed(ctx, jobID, workerID)
	if err != nil {
		return err
	}
	now := c.now().UTC()
	j.State = job.StateCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	return c.store.FinishJob(ctx, j, workerID)
}

// Nack returns a claimed job to pending after delay without consulting
// the retry policy.
func (c *Core) Nack(ctx context.Context, jobID id.JobID, workerID id.WorkerID, delay time.Duration) error {
	j, err := c.claimed(ctx, jobID, workerID)
	if err != nil {
		return err
	}
	now := c.now().UTC()
	j.State = job.StatePending
	j.WorkerID = id.WorkerID{}
	j.UpdatedAt = now
	j.ScheduledAt = now.Add(delay)
	return c.store.RequeueJob(ctx, j, workerID, now)
}

// Fail records a failed attempt and applies the job type's retry policy:
// the job is requeued after the backoff delay, dead-lettered, or settled
// as cancelled.
func (c *Core) Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, cause error) (retry.Outcome, error) {
	j, err := c.claimed(ctx, jobID, workerID)
	if err != nil {
		return retry.Outcome{}, err
	}

	out := c.policies.PolicyFor(j.Name).OnFailure(j, cause)
	now := c.now().UTC()
	j.RecordFailure(string(out.Kind), out.Reason, now)
	j.UpdatedAt = now

	switch out.Action {
	case retry.Retry:
		j.State = job.StatePending
		j.WorkerID = id.WorkerID{}
		j.ScheduledAt = now.Add(out.Delay)
		err = c.store.RequeueJob(ctx, j, workerID, now, job.CounterFailed, job.CounterRetried)
	case retry.DeadLetter:
		j.State = job.StateDeadLettered
		j.CompletedAt = &now
		err = c.store.FinishJob(ctx, j, workerID)
	case retry.Cancel:
		j.State = job.StateCancelled
		j.CompletedAt = &now
		err = c.store.FinishJob(ctx, j, workerID)
	}
	return out, err
}

// Cancel cancels a pending job. It returns false for a job already in a
// terminal state and jobq.ErrInvalidState for a job being executed.
func (c *Core) Cancel(ctx context.Context, jobID id.JobID) (bool, error) {
	return c.store.CancelJob(ctx, jobID, c.now().UTC())
}

// PromoteDue moves delayed jobs whose due time has passed into their
// tiers. Any number of processes may run it concurrently.
func (c *Core) PromoteDue(ctx context.Context) (int, error) {
	return c.store.PromoteDueJobs(ctx, c.now().UTC(), c.promoteBatch)
}

// RecoverStale fails, as a worker crash, every claimed job whose
// claimant stopped heartbeating or whose live claimant no longer lists it
// in its heartbeat. The latter happens when the worker lost track of the
// job, for example because settling the attempt failed. A claim younger
// than the claim grace at the claimant's last heartbeat is left alone.
// The retry policy then requeues or dead-letters each recovered job.
// Returns the number of jobs recovered.
func (c *Core) RecoverStale(ctx context.Context) (int, error) {
	if c.liveness == nil {
		return 0, nil
	}
	entries, err := c.store.ActiveJobs(ctx)
	if err != nil {
		return 0, err
	}

	claimants := make(map[id.WorkerID]*claimant)
	recovered := 0
	for _, e := range entries {
		cl, ok := claimants[e.WorkerID]
		if !ok {
			cl, err = c.lookupClaimant(ctx, e.WorkerID)
			if err != nil {
				return recovered, err
			}
			claimants[e.WorkerID] = cl
		}

		var cause error
		if !cl.alive {
			cause = fmt.Errorf("worker %s stopped heartbeating", e.WorkerID)
		} else {
			dropped, err := c.claimDropped(ctx, e, cl)
			if err != nil {
				return recovered, err
			}
			if !dropped {
				continue
			}
			cause = fmt.Errorf("worker %s no longer holds the claim", e.WorkerID)
		}

		out, err := c.Fail(ctx, e.JobID, e.WorkerID, jobq.WorkerCrashed(cause))
		if err != nil {
			// The claimant or another reaper settled it first.
			if errors.Is(err, jobq.ErrInvalidState) || errors.Is(err, jobq.ErrJobNotFound) {
				continue
			}
			return recovered, err
		}
		recovered++
		c.logger.Warn("recovered orphaned job",
			slog.String("job_id", e.JobID.String()),
			slog.String("worker_id", e.WorkerID.String()),
			slog.String("reason", cause.Error()),
			slog.String("action", out.Action.String()),
		)
	}
	return recovered, nil
}

// claimant is a claim holder as seen by RecoverStale.
type claimant struct {
	alive  bool
	record *cluster.Worker
	holds  map[id.JobID]bool
}

func (c *Core) lookupClaimant(ctx context.Context, workerID id.WorkerID) (*claimant, error) {
	alive, err := c.liveness.WorkerAlive(ctx, workerID, c.heartbeatTimeout)
	if err != nil || !alive {
		return &claimant{alive: alive}, err
	}
	w, err := c.liveness.GetWorker(ctx, workerID)
	if errors.Is(err, jobq.ErrWorkerNotFound) {
		return &claimant{alive: true}, nil
	}
	if err != nil {
		return nil, err
	}
	cl := &claimant{alive: true, record: w, holds: make(map[id.JobID]bool, len(w.ActiveJobs))}
	for _, jobID := range w.ActiveJobs {
		cl.holds[jobID] = true
	}
	return cl, nil
}

// claimDropped reports whether a live claimant's heartbeat, taken at
// least claimGrace after the claim, omits the job.
func (c *Core) claimDropped(ctx context.Context, e job.ActiveEntry, cl *claimant) (bool, error) {
	if cl.record == nil || cl.holds[e.JobID] {
		return false, nil
	}
	j, err := c.store.GetJob(ctx, e.JobID)
	if errors.Is(err, jobq.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if j.State != job.StateActive || j.WorkerID != e.WorkerID || j.StartedAt == nil {
		return false, nil
	}
	return j.StartedAt.Before(cl.record.LastSeen.Add(-c.claimGrace)), nil
}

// PurgeQueue deletes every pending and delayed job of queue.
func (c *Core) PurgeQueue(ctx context.Context, queue string) (int64, error) {
	return c.store.PurgeQueue(ctx, queue)
}

// TrimCompleted enforces the completed log's retention age and size
// bound. A zero retention keeps entries of any age.
func (c *Core) TrimCompleted(ctx context.Context) (int64, error) {
	var before time.Time
	if c.completedRetention > 0 {
		before = c.now().UTC().Add(-c.completedRetention)
	}
	return c.store.TrimCompleted(ctx, before, c.completedMaxSize)
}

// claimed loads a job and checks that workerID holds its claim.
func (c *Core) claimed(ctx context.Context, jobID id.JobID, workerID id.WorkerID) (*job.Job, error) {
	j, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State != job.StateActive || j.WorkerID != workerID {
		return nil, fmt.Errorf("%w: job %s is %s", jobq.ErrInvalidState, jobID, j.State)
	}
	return j, nil
}

func (c *Core) fairnessFor(queue string) *fairness {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.fair[queue]
	if !ok {
		f = &fairness{skipped: make(map[job.Priority]int, len(job.Tiers))}
		c.fair[queue] = f
	}
	return f
}

// ──────────────────────────────────────────────────
// Fairness
// ──────────────────────────────────────────────────

// fairness counts, per tier, the consecutive claims served from a higher
// tier while this tier held work.
type fairness struct {
	mu      sync.Mutex
	skipped map[job.Priority]int
}

// order returns the claim order: starved tiers first (most skipped
// first), then the rest from Critical down.
func (f *fairness) order(limit int) []job.Priority {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]job.Priority, 0, len(job.Tiers))
	var rest []job.Priority
	for _, t := range job.Tiers {
		if f.skipped[t] >= limit {
			out = append(out, t)
		} else {
			rest = append(rest, t)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return f.skipped[out[a]] > f.skipped[out[b]]
	})
	return append(out, rest...)
}

// record updates the counters after a claim served from tier served while
// the tiers in waiting held work.
func (f *fairness) record(served job.Priority, waiting []job.Priority) {
	f.mu.Lock()
	defer f.mu.Unlock()

	held := make(map[job.Priority]bool, len(waiting))
	for _, t := range waiting {
		held[t] = true
	}
	for _, t := range job.Tiers {
		if t != served && t < served && held[t] {
			f.skipped[t]++
		} else {
			f.skipped[t] = 0
		}
	}
}
