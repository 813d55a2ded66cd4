package job

import (
	"context"
	"time"

	"github.com/xraph/jobq/id"
)

// Queue stat counter names.
const (
	CounterEnqueued     = "enqueued"
	CounterCompleted    = "completed"
	CounterFailed       = "failed"
	CounterRetried      = "retried"
	CounterDeadLettered = "dead_lettered"
	CounterCancelled    = "cancelled"
)

// FinishCounters returns the counters FinishJob increments for a job
// settled in state s.
func FinishCounters(s State) []string {
	switch s {
	case StateCompleted:
		return []string{CounterCompleted}
	case StateDeadLettered:
		return []string{CounterFailed, CounterDeadLettered}
	case StateCancelled:
		return []string{CounterCancelled}
	default:
		return nil
	}
}

// EnqueueOpts carries the queue-level limits an enqueue is checked against.
type EnqueueOpts struct {
	// Now decides whether the job goes to its tier or the delayed set.
	Now time.Time
	// UniqueTTL bounds how long the job's unique key may block duplicates
	// once the job is due.
	UniqueTTL time.Duration
	// MaxPending rejects the enqueue with jobq.ErrQueueFull when the queue
	// already holds this many pending jobs. Zero means unbounded.
	MaxPending int64
}

// UniqueHold returns how long a unique key taken now must live for a job
// due at due: UniqueTTL counted from the due time, so a delayed job keeps
// its key until it can run. Zero means the key does not expire.
func (o EnqueueOpts) UniqueHold(due time.Time) time.Duration {
	if o.UniqueTTL <= 0 {
		return 0
	}
	if wait := due.Sub(o.Now); wait > 0 {
		return wait + o.UniqueTTL
	}
	return o.UniqueTTL
}

// ClaimRequest asks the store to claim the next job of a queue.
type ClaimRequest struct {
	Queue    string
	WorkerID id.WorkerID
	// Order lists the tiers to try, first match wins.
	Order []Priority
	Now   time.Time
}

// Claim is the result of a successful ClaimJob.
type Claim struct {
	// Job is the claimed envelope, already active with Attempts incremented.
	Job *Job
	// Tier is the tier the job was taken from.
	Tier Priority
	// Waiting lists every tier that held pending work when the claim ran,
	// including Tier.
	Waiting []Priority
	// EnqueuedAt is the due time the job was ordered by.
	EnqueuedAt time.Time
}

// ActiveEntry maps a claimed job to its claimant.
type ActiveEntry struct {
	JobID    id.JobID
	WorkerID id.WorkerID
}

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// Store is the backend contract for job envelopes. Every method that
// moves a job between structures must do so atomically, because any
// number of processes share one backend.
type Store interface {
	// EnqueueJob persists a pending job into its tier, or into the delayed
	// set when ScheduledAt is after opts.Now. If the job has a unique key
	// already held by a live job, nothing is written and the holder's ID
	// is returned.
	EnqueueJob(ctx context.Context, j *Job, opts EnqueueOpts) (id.JobID, error)

	// ClaimJob takes the first job of the first non-empty tier in
	// req.Order, records req.WorkerID as claimant, increments Attempts,
	// and marks it active. Returns nil when every tier is empty.
	ClaimJob(ctx context.Context, req ClaimRequest) (*Claim, error)

	// RequeueJob returns an active job to pending. The job's ScheduledAt
	// decides between tier and delayed set. counters name the queue stats
	// to increment. Fails with jobq.ErrInvalidState unless workerID still
	// holds the claim.
	RequeueJob(ctx context.Context, j *Job, workerID id.WorkerID, now time.Time, counters ...string) error

	// FinishJob moves an active job into the terminal state set on j
	// (completed, dead_lettered, cancelled), releases its unique key, and
	// records it in the completed log, the dead-letter set or the
	// cancelled set. Counters follow the state: completed; failed and
	// dead_lettered; cancelled. Fails with jobq.ErrInvalidState unless
	// workerID still holds the claim.
	FinishJob(ctx context.Context, j *Job, workerID id.WorkerID) error

	// CancelJob cancels a pending job and records it in the cancelled set.
	// Returns false for a job already in a terminal state and
	// jobq.ErrInvalidState for an active one.
	CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (bool, error)

	// PromoteDueJobs moves up to limit delayed jobs whose due time is at
	// or before now into their tiers. A job is promoted by at most one
	// caller.
	PromoteDueJobs(ctx context.Context, now time.Time, limit int) (int, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ActiveJobs lists every claimed job and its claimant.
	ActiveJobs(ctx context.Context) ([]ActiveEntry, error)

	// PurgeQueue deletes every pending and delayed job of a queue.
	PurgeQueue(ctx context.Context, queue string) (int64, error)

	// TrimCompleted removes completed-log and cancelled-set entries
	// finished before the cutoff and then, per set, the oldest entries
	// beyond maxSize (zero disables the size bound).
	TrimCompleted(ctx context.Context, before time.Time, maxSize int64) (int64, error)
}
