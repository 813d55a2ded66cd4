// Package memory provides a fully in-memory store. Every operation runs
// under one mutex, which gives it the same atomicity the Redis backend
// gets from its scripts. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/cron"
	"github.com/xraph/jobq/dlq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/status"
)

// Ensure Store implements every subsystem contract at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store     = (*Store)(nil)
	_ cron.Store    = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
	_ cluster.Store = (*Store)(nil)
	_ status.Reader = (*Store)(nil)
)

// member is one entry of an ordered set, scored by time.
type member struct {
	id    id.JobID
	score time.Time
	seq   uint64
}

type uniqueHold struct {
	jobID   id.JobID
	expires time.Time // zero means no expiry
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time
	seq uint64

	jobs      map[id.JobID]*job.Job
	queues    map[string]struct{}
	ready     map[string]map[job.Priority][]member // queue -> tier -> FIFO by due time
	delayed   map[id.JobID]time.Time
	active    map[id.JobID]id.WorkerID
	dead      map[id.JobID]time.Time
	completed map[id.JobID]time.Time
	cancelled map[id.JobID]time.Time
	unique    map[string]uniqueHold
	stats     map[string]map[string]int64

	schedules map[string]*cron.Entry
	workers   map[id.WorkerID]*cluster.Worker

	leader      id.WorkerID
	leaderUntil time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the clock used for TTLs and heartbeat checks.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		now:       time.Now,
		jobs:      make(map[id.JobID]*job.Job),
		queues:    make(map[string]struct{}),
		ready:     make(map[string]map[job.Priority][]member),
		delayed:   make(map[id.JobID]time.Time),
		active:    make(map[id.JobID]id.WorkerID),
		dead:      make(map[id.JobID]time.Time),
		completed: make(map[id.JobID]time.Time),
		cancelled: make(map[id.JobID]time.Time),
		unique:    make(map[string]uniqueHold),
		stats:     make(map[string]map[string]int64),
		schedules: make(map[string]*cron.Entry),
		workers:   make(map[id.WorkerID]*cluster.Worker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Internal helpers (callers hold m.mu)
// ──────────────────────────────────────────────────

func (m *Store) tier(queue string, p job.Priority) []member {
	return m.ready[queue][p]
}

func (m *Store) pushReady(j *job.Job, score time.Time) {
	tiers, ok := m.ready[j.Queue]
	if !ok {
		tiers = make(map[job.Priority][]member, len(job.Tiers))
		m.ready[j.Queue] = tiers
	}
	m.seq++
	list := append(tiers[j.Priority], member{id: j.ID, score: score, seq: m.seq})
	sort.SliceStable(list, func(a, b int) bool {
		if !list[a].score.Equal(list[b].score) {
			return list[a].score.Before(list[b].score)
		}
		return list[a].seq < list[b].seq
	})
	tiers[j.Priority] = list
}

func (m *Store) removeReady(j *job.Job) bool {
	list := m.ready[j.Queue][j.Priority]
	for i, e := range list {
		if e.id == j.ID {
			m.ready[j.Queue][j.Priority] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// place puts a pending job into its tier or the delayed set.
func (m *Store) place(j *job.Job, now time.Time) {
	if j.ScheduledAt.After(now) {
		m.delayed[j.ID] = j.ScheduledAt
		return
	}
	m.pushReady(j, j.ScheduledAt)
}

func (m *Store) incr(queue string, counters ...string) {
	s, ok := m.stats[queue]
	if !ok {
		s = make(map[string]int64)
		m.stats[queue] = s
	}
	for _, c := range counters {
		s[c]++
	}
}

func (m *Store) decrActive(queue string) {
	if s := m.stats[queue]; s != nil && s["active"] > 0 {
		s["active"]--
	}
}

// uniqueHolder returns the pending or active job holding key, if the hold
// has not expired.
func (m *Store) uniqueHolder(key string, now time.Time) (id.JobID, bool) {
	h, ok := m.unique[key]
	if !ok {
		return id.JobID{}, false
	}
	holder := m.jobs[h.jobID]
	live := h.expires.IsZero() || now.Before(h.expires)
	if !live || holder == nil || holder.State.Terminal() {
		return id.JobID{}, false
	}
	return h.jobID, true
}

func (m *Store) releaseUnique(j *job.Job) {
	if j.UniqueKey == "" {
		return
	}
	if h, ok := m.unique[j.UniqueKey]; ok && h.jobID == j.ID {
		delete(m.unique, j.UniqueKey)
	}
}

// dropJob removes every trace of a job.
func (m *Store) dropJob(jobID id.JobID) {
	j, ok := m.jobs[jobID]
	if !ok {
		return
	}
	m.removeReady(j)
	m.releaseUnique(j)
	delete(m.delayed, jobID)
	delete(m.dead, jobID)
	delete(m.completed, jobID)
	delete(m.cancelled, jobID)
	delete(m.jobs, jobID)
}

// newestFirst sorts the keys of a scored set newest first.
func newestFirst(set map[id.JobID]time.Time) []id.JobID {
	ids := make([]id.JobID, 0, len(set))
	for k := range set {
		ids = append(ids, k)
	}
	sort.Slice(ids, func(a, b int) bool {
		ta, tb := set[ids[a]], set[ids[b]]
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return ids[a].String() > ids[b].String()
	})
	return ids
}

// trimSet removes set entries scored before the cutoff, then the oldest
// entries beyond maxSize.
func (m *Store) trimSet(set map[id.JobID]time.Time, before time.Time, maxSize int64) int64 {
	var n int64
	if !before.IsZero() {
		for k, at := range set {
			if at.Before(before) {
				m.dropJob(k)
				n++
			}
		}
	}
	if maxSize > 0 && int64(len(set)) > maxSize {
		ids := newestFirst(set)
		for _, k := range ids[maxSize:] {
			m.dropJob(k)
			n++
		}
	}
	return n
}
