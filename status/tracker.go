package status

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// JobReader fetches single jobs. job.Store satisfies it.
type JobReader interface {
	GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error)
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithHeartbeatTimeout sets how long a worker may stay silent before it
// counts as stale.
func WithHeartbeatTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.heartbeatTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// Tracker is the read-only query surface over the backend. It never
// mutates state.
type Tracker struct {
	reader           Reader
	jobs             JobReader
	logger           *slog.Logger
	now              func() time.Time
	heartbeatTimeout time.Duration
}

// NewTracker creates a Tracker.
func NewTracker(reader Reader, jobs JobReader, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		reader:           reader,
		jobs:             jobs,
		logger:           slog.Default(),
		now:              time.Now,
		heartbeatTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Queues lists every known queue.
func (t *Tracker) Queues(ctx context.Context) ([]string, error) {
	return t.reader.ListQueues(ctx)
}

// QueueStats returns the size and counters of one queue.
func (t *Tracker) QueueStats(ctx context.Context, queue string) (QueueStats, error) {
	var (
		counts   Counts
		counters map[string]int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = t.reader.QueueCounts(gctx, queue)
		return err
	})
	g.Go(func() error {
		var err error
		counters, err = t.reader.QueueCounters(gctx, queue)
		return err
	})
	if err := g.Wait(); err != nil {
		return QueueStats{}, fmt.Errorf("queue %s stats: %w", queue, err)
	}

	return QueueStats{
		Queue:        queue,
		Pending:      counts.Pending,
		Delayed:      counts.Delayed,
		Active:       counts.Active,
		Enqueued:     counters[job.CounterEnqueued],
		Completed:    counters[job.CounterCompleted],
		Failed:       counters[job.CounterFailed],
		Retried:      counters[job.CounterRetried],
		DeadLettered: counters[job.CounterDeadLettered],
		Cancelled:    counters[job.CounterCancelled],
	}, nil
}

// AllQueueStats returns stats for every queue, sorted by name.
func (t *Tracker) AllQueueStats(ctx context.Context) ([]QueueStats, error) {
	queues, err := t.reader.ListQueues(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]QueueStats, len(queues))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, q := range queues {
		g.Go(func() error {
			s, err := t.QueueStats(gctx, q)
			out[i] = s
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Workers returns every registered worker with its health.
func (t *Tracker) Workers(ctx context.Context) ([]WorkerStatus, error) {
	workers, err := t.reader.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	now := t.now().UTC()
	out := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		st := WorkerStatus{
			Worker:         w,
			Health:         t.health(w, now),
			SinceHeartbeat: now.Sub(w.LastSeen),
		}
		if st.Health == HealthStale {
			t.logger.Debug("stale worker",
				slog.String("worker_id", w.ID.String()),
				slog.Duration("since_heartbeat", st.SinceHeartbeat),
			)
		}
		out = append(out, st)
	}
	return out, nil
}

func (t *Tracker) health(w *cluster.Worker, now time.Time) WorkerHealth {
	switch {
	case !w.Alive(now, t.heartbeatTimeout):
		return HealthStale
	case w.State == cluster.WorkerDraining:
		return HealthDraining
	default:
		return HealthActive
	}
}

// DeadLetterCount returns the size of the dead-letter queue.
func (t *Tracker) DeadLetterCount(ctx context.Context) (int64, error) {
	return t.reader.CountDLQ(ctx)
}

// SearchJobs returns the page of jobs matching q, newest first, with the
// total number of matches.
func (t *Tracker) SearchJobs(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	filter, err := compileFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	if q.Offset < 0 || q.Limit < 0 {
		return nil, jobq.Configuration(fmt.Errorf("negative offset or limit"))
	}

	res := &SearchResult{Offset: q.Offset, Limit: q.Limit}
	err = t.reader.ScanJobs(ctx, func(j *job.Job) bool {
		if !matches(j, q) || !filter.Match(j) {
			return true
		}
		res.Total++
		if res.Total > q.Offset && (q.Limit == 0 || len(res.Jobs) < q.Limit) {
			res.Jobs = append(res.Jobs, j)
		}
		return ctx.Err() == nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func matches(j *job.Job, q SearchQuery) bool {
	switch {
	case q.State != "" && j.State != q.State:
		return false
	case q.Type != "" && j.Name != q.Type:
		return false
	case q.Queue != "" && j.Queue != q.Queue:
		return false
	case !q.From.IsZero() && j.CreatedAt.Before(q.From):
		return false
	case !q.To.IsZero() && j.CreatedAt.After(q.To):
		return false
	}
	return true
}

// Job returns one job with its failure history.
func (t *Tracker) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return t.jobs.GetJob(ctx, jobID)
}

// Throughput counts jobs that finished within the period.
func (t *Tracker) Throughput(ctx context.Context, p Period) (Throughput, error) {
	since := t.now().UTC().Add(-p.Duration())

	var completed, dead int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		completed, err = t.reader.CountCompletedSince(gctx, since)
		return err
	})
	g.Go(func() error {
		var err error
		dead, err = t.reader.CountDeadLetteredSince(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return Throughput{}, fmt.Errorf("throughput %s: %w", p, err)
	}

	out := Throughput{
		Period:       p.String(),
		Completed:    completed,
		DeadLettered: dead,
		Processed:    completed + dead,
		PerSecond:    float64(completed+dead) / p.Duration().Seconds(),
		SuccessRate:  100,
	}
	if out.Processed > 0 {
		out.SuccessRate = float64(completed) / float64(out.Processed) * 100
	}
	return out, nil
}

// Dashboard aggregates every queue, the worker fleet and last-hour
// throughput.
func (t *Tracker) Dashboard(ctx context.Context) (*Dashboard, error) {
	var (
		d       Dashboard
		workers []WorkerStatus
		mu      sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := t.AllQueueStats(gctx)
		mu.Lock()
		d.Queues = stats
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		ws, err := t.Workers(gctx)
		mu.Lock()
		workers = ws
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		n, err := t.reader.CountDLQ(gctx)
		mu.Lock()
		d.DeadLetters = n
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		tp, err := t.Throughput(gctx, LastHour)
		mu.Lock()
		d.LastHour = tp
		mu.Unlock()
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.Totals.Queue = "*"
	for _, s := range d.Queues {
		d.Totals.add(s)
	}
	d.Workers = len(workers)
	for _, w := range workers {
		if w.Health == HealthActive {
			d.ActiveWorkers++
		}
	}
	return &d, nil
}

// RecentActivity merges the latest completions and dead-letters, newest
// first.
func (t *Tracker) RecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 20
	}
	completed, err := t.reader.RecentCompleted(ctx, limit)
	if err != nil {
		return nil, err
	}
	dead, err := t.reader.RecentDeadLettered(ctx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]Activity, 0, len(completed)+len(dead))
	for _, j := range completed {
		a := activityOf(j, ActivityCompleted)
		if j.StartedAt != nil && j.CompletedAt != nil {
			a.Elapsed = j.CompletedAt.Sub(*j.StartedAt)
		}
		out = append(out, a)
	}
	for _, j := range dead {
		a := activityOf(j, ActivityDeadLettered)
		a.Error = j.LastError
		out = append(out, a)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].At.After(out[b].At) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func activityOf(j *job.Job, kind ActivityKind) Activity {
	at := j.UpdatedAt
	if j.CompletedAt != nil {
		at = *j.CompletedAt
	}
	return Activity{
		Kind:    kind,
		JobID:   j.ID.String(),
		JobName: j.Name,
		Queue:   j.Queue,
		At:      at,
	}
}
