package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/dlq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// ListDLQ returns entries newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dead))
	for _, k := range newestFirst(m.dead) {
		j := m.jobs[k]
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		result = append(result, dlq.FromJob(j.Clone()))
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// GetDLQ retrieves the entry of a dead-lettered job.
func (m *Store) GetDLQ(_ context.Context, jobID id.JobID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.dead[jobID]; !ok {
		return nil, jobq.ErrDLQEntryNotFound
	}
	return dlq.FromJob(m.jobs[jobID].Clone()), nil
}

// RetryDLQ moves a dead-lettered job back to pending and takes its
// unique key back.
func (m *Store) RetryDLQ(_ context.Context, jobID id.JobID, now time.Time, uniqueTTL time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dead[jobID]; !ok {
		return nil, jobq.ErrDLQEntryNotFound
	}
	j := m.jobs[jobID]
	if j.UniqueKey != "" {
		if holder, ok := m.uniqueHolder(j.UniqueKey, m.now()); ok && holder != jobID {
			return nil, fmt.Errorf("%w: unique key %q is held by job %s", jobq.ErrInvalidState, j.UniqueKey, holder)
		}
		h := uniqueHold{jobID: jobID}
		if uniqueTTL > 0 {
			h.expires = m.now().Add(uniqueTTL)
		}
		m.unique[j.UniqueKey] = h
	}
	delete(m.dead, jobID)

	j.State = job.StatePending
	j.Attempts = 0
	j.WorkerID = id.WorkerID{}
	j.StartedAt = nil
	j.CompletedAt = nil
	j.ScheduledAt = now
	j.UpdatedAt = now
	m.pushReady(j, now)
	return j.Clone(), nil
}

// DeleteDLQ removes a dead-lettered job entirely.
func (m *Store) DeleteDLQ(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dead[jobID]; !ok {
		return jobq.ErrDLQEntryNotFound
	}
	m.dropJob(jobID)
	return nil
}

// PurgeDLQ removes every dead-lettered job.
func (m *Store) PurgeDLQ(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.dead))
	for k := range m.dead {
		m.dropJob(k)
	}
	return n, nil
}

// PurgeDLQBefore removes entries dead-lettered before the cutoff.
func (m *Store) PurgeDLQBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.trimSet(m.dead, before, 0), nil
}

// TrimDLQ removes the oldest entries beyond maxSize.
func (m *Store) TrimDLQ(_ context.Context, maxSize int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.trimSet(m.dead, time.Time{}, maxSize), nil
}

// CountDLQ returns the number of dead-lettered jobs.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dead)), nil
}
