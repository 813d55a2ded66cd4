package cluster

import (
	"context"
	"time"

	"github.com/xraph/jobq/id"
)

// Store defines the persistence contract for worker heartbeats and the
// scheduler lease.
type Store interface {
	// RegisterWorker adds or replaces a worker record.
	RegisterWorker(ctx context.Context, w *Worker) error

	// HeartbeatWorker refreshes the worker record and its liveness, which
	// lapses after ttl without another heartbeat.
	HeartbeatWorker(ctx context.Context, w *Worker, ttl time.Duration) error

	// DeregisterWorker removes a worker.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// GetWorker retrieves a worker record.
	GetWorker(ctx context.Context, workerID id.WorkerID) (*Worker, error)

	// ListWorkers returns every registered worker.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// WorkerAlive reports whether the worker heartbeated within timeout.
	WorkerAlive(ctx context.Context, workerID id.WorkerID, timeout time.Duration) (bool, error)

	// PruneWorkers removes records last seen before the cutoff.
	PruneWorkers(ctx context.Context, before time.Time) (int64, error)

	// AcquireLeadership takes the scheduler lease if nobody holds it.
	AcquireLeadership(ctx context.Context, owner id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the lease if owner still holds it.
	RenewLeadership(ctx context.Context, owner id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseLeadership drops the lease if owner holds it.
	ReleaseLeadership(ctx context.Context, owner id.WorkerID) error

	// GetLeader returns the current lease holder, or the nil ID.
	GetLeader(ctx context.Context) (id.WorkerID, error)
}
