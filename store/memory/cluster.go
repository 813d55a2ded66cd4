package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/id"
)

func cloneWorker(w *cluster.Worker) *cluster.Worker {
	cp := *w
	cp.Queues = append([]string(nil), w.Queues...)
	cp.ActiveJobs = append([]id.JobID(nil), w.ActiveJobs...)
	return &cp
}

// RegisterWorker adds or replaces a worker record.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers[w.ID] = cloneWorker(w)
	return nil
}

// HeartbeatWorker refreshes a worker record. Liveness is derived from
// LastSeen, so ttl is not stored.
func (m *Store) HeartbeatWorker(_ context.Context, w *cluster.Worker, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers[w.ID] = cloneWorker(w)
	return nil
}

// DeregisterWorker removes a worker.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workers[workerID]; !ok {
		return jobq.ErrWorkerNotFound
	}
	delete(m.workers, workerID)
	return nil
}

// GetWorker retrieves a worker record.
func (m *Store) GetWorker(_ context.Context, workerID id.WorkerID) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workers[workerID]
	if !ok {
		return nil, jobq.ErrWorkerNotFound
	}
	return cloneWorker(w), nil
}

// ListWorkers returns every registered worker, oldest first.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		result = append(result, cloneWorker(w))
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].StartedAt.Before(result[k].StartedAt)
	})
	return result, nil
}

// WorkerAlive reports whether the worker heartbeated within timeout.
func (m *Store) WorkerAlive(_ context.Context, workerID id.WorkerID, timeout time.Duration) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workers[workerID]
	if !ok {
		return false, nil
	}
	return w.Alive(m.now(), timeout), nil
}

// PruneWorkers removes records last seen before the cutoff.
func (m *Store) PruneWorkers(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, w := range m.workers {
		if w.LastSeen.Before(before) {
			delete(m.workers, k)
			n++
		}
	}
	return n, nil
}

// AcquireLeadership takes the lease if it is free or expired.
func (m *Store) AcquireLeadership(_ context.Context, owner id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.leader.IsNil() && now.Before(m.leaderUntil) {
		return false, nil
	}
	m.leader = owner
	m.leaderUntil = now.Add(ttl)
	return true, nil
}

// RenewLeadership extends the lease if owner holds it.
func (m *Store) RenewLeadership(_ context.Context, owner id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.leader != owner || !now.Before(m.leaderUntil) {
		return false, nil
	}
	m.leaderUntil = now.Add(ttl)
	return true, nil
}

// ReleaseLeadership drops the lease if owner holds it.
func (m *Store) ReleaseLeadership(_ context.Context, owner id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.leader == owner {
		m.leader = id.WorkerID{}
		m.leaderUntil = time.Time{}
	}
	return nil
}

// GetLeader returns the current lease holder, or the nil ID.
func (m *Store) GetLeader(_ context.Context) (id.WorkerID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader.IsNil() || !m.now().Before(m.leaderUntil) {
		return id.WorkerID{}, nil
	}
	return m.leader, nil
}
