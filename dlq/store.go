package dlq

import (
	"context"
	"time"

	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// ListDLQ returns entries newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves the entry of a dead-lettered job.
	GetDLQ(ctx context.Context, jobID id.JobID) (*Entry, error)

	// RetryDLQ atomically moves a dead-lettered job back to pending in its
	// tier with zero attempts and no claimant, and returns it. A job with a
	// unique key takes the key again for uniqueTTL; when another pending or
	// active job holds it, the job stays dead-lettered and
	// jobq.ErrInvalidState is returned.
	RetryDLQ(ctx context.Context, jobID id.JobID, now time.Time, uniqueTTL time.Duration) (*job.Job, error)

	// DeleteDLQ removes a dead-lettered job entirely.
	DeleteDLQ(ctx context.Context, jobID id.JobID) error

	// PurgeDLQ removes every dead-lettered job. Returns the number removed.
	PurgeDLQ(ctx context.Context) (int64, error)

	// PurgeDLQBefore removes entries dead-lettered before the cutoff.
	PurgeDLQBefore(ctx context.Context, before time.Time) (int64, error)

	// TrimDLQ removes the oldest entries beyond maxSize.
	TrimDLQ(ctx context.Context, maxSize int64) (int64, error)

	// CountDLQ returns the number of dead-lettered jobs.
	CountDLQ(ctx context.Context) (int64, error)
}
