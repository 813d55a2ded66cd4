package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/status"
)

// ListQueues returns every queue that has seen an enqueue.
func (m *Store) ListQueues(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.queues))
	for q := range m.queues {
		out = append(out, q)
	}
	sort.Strings(out)
	return out, nil
}

// QueueCounts returns the live size of a queue.
func (m *Store) QueueCounts(_ context.Context, queue string) (status.Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var c status.Counts
	for _, list := range m.ready[queue] {
		c.Pending += int64(len(list))
	}
	for k := range m.delayed {
		if m.jobs[k].Queue == queue {
			c.Delayed++
		}
	}
	for k := range m.active {
		if m.jobs[k].Queue == queue {
			c.Active++
		}
	}
	return c, nil
}

// QueueCounters returns a copy of the queue's cumulative counters.
func (m *Store) QueueCounters(_ context.Context, queue string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.stats[queue]))
	for k, v := range m.stats[queue] {
		out[k] = v
	}
	return out, nil
}

// ScanJobs visits every job, newest first.
func (m *Store) ScanJobs(_ context.Context, fn func(*job.Job) bool) error {
	m.mu.RLock()
	jobs := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.After(jobs[b].CreatedAt) })
	for _, j := range jobs {
		if !fn(j) {
			return nil
		}
	}
	return nil
}

func countSince(set map[id.JobID]time.Time, since time.Time) int64 {
	var n int64
	for _, at := range set {
		if !at.Before(since) {
			n++
		}
	}
	return n
}

// CountCompletedSince counts jobs completed at or after since.
func (m *Store) CountCompletedSince(_ context.Context, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countSince(m.completed, since), nil
}

// CountDeadLetteredSince counts jobs dead-lettered at or after since.
func (m *Store) CountDeadLetteredSince(_ context.Context, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countSince(m.dead, since), nil
}

func (m *Store) recent(set map[id.JobID]time.Time, limit int) []*job.Job {
	ids := newestFirst(set)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*job.Job, 0, len(ids))
	for _, k := range ids {
		out = append(out, m.jobs[k].Clone())
	}
	return out
}

// RecentCompleted returns the latest completed jobs.
func (m *Store) RecentCompleted(_ context.Context, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recent(m.completed, limit), nil
}

// RecentDeadLettered returns the latest dead-lettered jobs.
func (m *Store) RecentDeadLettered(_ context.Context, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recent(m.dead, limit), nil
}
