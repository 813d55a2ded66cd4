package status

import (
	"context"
	"time"

	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/job"
)

// Counts is the live size of a queue's structures.
type Counts struct {
	Pending int64 `json:"pending"`
	Delayed int64 `json:"delayed"`
	Active  int64 `json:"active"`
}

// Reader is the read-only backend surface the tracker needs. Every store
// backend implements it.
type Reader interface {
	ListQueues(ctx context.Context) ([]string, error)
	QueueCounts(ctx context.Context, queue string) (Counts, error)
	// QueueCounters returns the cumulative counters of a queue, keyed by
	// the job.Counter* names.
	QueueCounters(ctx context.Context, queue string) (map[string]int64, error)

	// ScanJobs calls fn for every stored job until fn returns false.
	ScanJobs(ctx context.Context, fn func(*job.Job) bool) error

	CountCompletedSince(ctx context.Context, since time.Time) (int64, error)
	CountDeadLetteredSince(ctx context.Context, since time.Time) (int64, error)
	// RecentCompleted and RecentDeadLettered return jobs newest first.
	RecentCompleted(ctx context.Context, limit int) ([]*job.Job, error)
	RecentDeadLettered(ctx context.Context, limit int) ([]*job.Job, error)

	ListWorkers(ctx context.Context) ([]*cluster.Worker, error)
	CountDLQ(ctx context.Context) (int64, error)
}
