package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// EnqueueJob persists a pending job, honouring its unique key and the
// queue's pending bound.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job, opts job.EnqueueOpts) (id.JobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if j.UniqueKey != "" {
		if holder, ok := m.uniqueHolder(j.UniqueKey, now); ok {
			return holder, nil
		}
		delete(m.unique, j.UniqueKey)
	}
	if _, exists := m.jobs[j.ID]; exists {
		return id.JobID{}, jobq.ErrJobAlreadyExists
	}
	if opts.MaxPending > 0 && m.pendingCount(j.Queue) >= opts.MaxPending {
		return id.JobID{}, fmt.Errorf("%w: %s", jobq.ErrQueueFull, j.Queue)
	}

	cp := j.Clone()
	m.jobs[cp.ID] = cp
	m.queues[cp.Queue] = struct{}{}
	m.place(cp, opts.Now)
	if cp.UniqueKey != "" {
		h := uniqueHold{jobID: cp.ID}
		if ttl := opts.UniqueHold(cp.ScheduledAt); ttl > 0 {
			h.expires = now.Add(ttl)
		}
		m.unique[cp.UniqueKey] = h
	}
	m.incr(cp.Queue, job.CounterEnqueued)
	return cp.ID, nil
}

func (m *Store) pendingCount(queue string) int64 {
	var n int64
	for _, list := range m.ready[queue] {
		n += int64(len(list))
	}
	for k := range m.delayed {
		if m.jobs[k].Queue == queue {
			n++
		}
	}
	return n
}

// ClaimJob takes the head of the first non-empty tier in req.Order.
func (m *Store) ClaimJob(_ context.Context, req job.ClaimRequest) (*job.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var waiting []job.Priority
	for _, t := range job.Tiers {
		if len(m.tier(req.Queue, t)) > 0 {
			waiting = append(waiting, t)
		}
	}
	if len(waiting) == 0 {
		return nil, nil
	}

	for _, t := range req.Order {
		list := m.tier(req.Queue, t)
		if len(list) == 0 {
			continue
		}
		head := list[0]
		m.ready[req.Queue][t] = list[1:]

		j := m.jobs[head.id]
		j.State = job.StateActive
		j.Attempts++
		j.WorkerID = req.WorkerID
		started := req.Now
		j.StartedAt = &started
		j.UpdatedAt = req.Now
		m.active[j.ID] = req.WorkerID
		m.incr(j.Queue, "active")

		return &job.Claim{
			Job:        j.Clone(),
			Tier:       t,
			Waiting:    waiting,
			EnqueuedAt: head.score,
		}, nil
	}
	return nil, nil
}

func (m *Store) checkClaim(jobID id.JobID, workerID id.WorkerID) error {
	holder, ok := m.active[jobID]
	if !ok || holder != workerID {
		return fmt.Errorf("%w: job %s is not claimed by %s", jobq.ErrInvalidState, jobID, workerID)
	}
	return nil
}

// RequeueJob returns an active job to pending.
func (m *Store) RequeueJob(_ context.Context, j *job.Job, workerID id.WorkerID, now time.Time, counters ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkClaim(j.ID, workerID); err != nil {
		return err
	}
	delete(m.active, j.ID)
	m.decrActive(j.Queue)

	cp := j.Clone()
	m.jobs[cp.ID] = cp
	m.place(cp, now)
	m.incr(cp.Queue, counters...)
	return nil
}

// FinishJob settles an active job in the terminal state set on j.
func (m *Store) FinishJob(_ context.Context, j *job.Job, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !j.State.Terminal() {
		return fmt.Errorf("%w: cannot finish job in state %s", jobq.ErrInvalidState, j.State)
	}
	if err := m.checkClaim(j.ID, workerID); err != nil {
		return err
	}
	delete(m.active, j.ID)
	m.decrActive(j.Queue)

	cp := j.Clone()
	m.jobs[cp.ID] = cp
	at := cp.UpdatedAt
	if cp.CompletedAt != nil {
		at = *cp.CompletedAt
	}
	switch cp.State {
	case job.StateCompleted:
		m.completed[cp.ID] = at
	case job.StateDeadLettered:
		m.dead[cp.ID] = at
	case job.StateCancelled:
		m.cancelled[cp.ID] = at
	}
	m.releaseUnique(cp)
	m.incr(cp.Queue, job.FinishCounters(cp.State)...)
	return nil
}

// CancelJob cancels a pending job.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return false, jobq.ErrJobNotFound
	}
	switch {
	case j.State.Terminal():
		return false, nil
	case j.State == job.StateActive:
		return false, fmt.Errorf("%w: job %s is being executed", jobq.ErrInvalidState, jobID)
	}

	m.removeReady(j)
	delete(m.delayed, jobID)
	j.State = job.StateCancelled
	j.UpdatedAt = now
	j.CompletedAt = &now
	m.cancelled[jobID] = now
	m.releaseUnique(j)
	m.incr(j.Queue, job.CounterCancelled)
	return true, nil
}

// PromoteDueJobs moves due delayed jobs into their tiers, oldest first.
func (m *Store) PromoteDueJobs(_ context.Context, now time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]id.JobID, 0)
	for k, at := range m.delayed {
		if !at.After(now) {
			due = append(due, k)
		}
	}
	sort.Slice(due, func(a, b int) bool { return m.delayed[due[a]].Before(m.delayed[due[b]]) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, k := range due {
		at := m.delayed[k]
		delete(m.delayed, k)
		m.pushReady(m.jobs[k], at)
	}
	return len(due), nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, jobq.ErrJobNotFound
	}
	return j.Clone(), nil
}

// ActiveJobs lists every claimed job and its claimant.
func (m *Store) ActiveJobs(_ context.Context) ([]job.ActiveEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]job.ActiveEntry, 0, len(m.active))
	for k, w := range m.active {
		out = append(out, job.ActiveEntry{JobID: k, WorkerID: w})
	}
	return out, nil
}

// PurgeQueue deletes every pending and delayed job of a queue.
func (m *Store) PurgeQueue(_ context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var victims []id.JobID
	for _, list := range m.ready[queue] {
		for _, e := range list {
			victims = append(victims, e.id)
		}
	}
	for k := range m.delayed {
		if m.jobs[k].Queue == queue {
			victims = append(victims, k)
		}
	}
	for _, k := range victims {
		m.dropJob(k)
	}
	return int64(len(victims)), nil
}

// TrimCompleted bounds the completed log and the cancelled set by age
// and size, each on its own.
func (m *Store) TrimCompleted(_ context.Context, before time.Time, maxSize int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.trimSet(m.completed, before, maxSize) + m.trimSet(m.cancelled, before, maxSize), nil
}
