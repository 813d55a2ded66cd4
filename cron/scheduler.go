package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// This breaks the import cycle: the engine provides the implementation.
type EnqueueFunc func(ctx context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error)

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, jobID id.JobID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL of the scheduler lock. The holder renews it
// every TTL/2.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires recurring entries. Any number of schedulers may run
// against one store; only the holder of the scheduler lock ticks.
type Scheduler struct {
	cronStore    Store
	clusterStore cluster.Store
	enqueue      EnqueueFunc
	emitter      Emitter
	workerID     id.WorkerID
	logger       *slog.Logger
	now          func() time.Time

	tickInterval time.Duration
	lockTTL      time.Duration

	leaderMu sync.Mutex
	leading  bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	cronStore Store,
	clusterStore cluster.Store,
	enqueue EnqueueFunc,
	emitter Emitter,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cronStore:    cronStore,
		clusterStore: clusterStore,
		enqueue:      enqueue,
		emitter:      emitter,
		workerID:     workerID,
		logger:       logger,
		now:          time.Now,
		tickInterval: 10 * time.Second,
		lockTTL:      30 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the lock and tick goroutines.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(2)
	go s.leaderLoop(ctx)
	go s.tickLoop(ctx)
	s.logger.Info("cron scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
		slog.Duration("lock_ttl", s.lockTTL),
	)
	return nil
}

// Stop signals the scheduler to stop, waits for its goroutines and
// releases the lock if held.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	if s.IsLeader() {
		if err := s.clusterStore.ReleaseLeadership(ctx, s.workerID); err != nil {
			s.logger.Warn("release scheduler lock", slog.String("error", err.Error()))
		}
		s.setLeading(false)
	}
	s.logger.Info("cron scheduler stopped")
	return nil
}

// IsLeader reports whether this scheduler held the lock at its last
// renewal.
func (s *Scheduler) IsLeader() bool {
	s.leaderMu.Lock()
	defer s.leaderMu.Unlock()
	return s.leading
}

func (s *Scheduler) setLeading(v bool) {
	s.leaderMu.Lock()
	s.leading = v
	s.leaderMu.Unlock()
}

func (s *Scheduler) leaderLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.lockTTL / 2)
	defer ticker.Stop()

	s.Campaign(ctx)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Campaign(ctx)
		}
	}
}

// Campaign renews the scheduler lock if held, otherwise tries to take it.
// Reports whether this scheduler holds the lock afterwards.
func (s *Scheduler) Campaign(ctx context.Context) bool {
	renewed, err := s.clusterStore.RenewLeadership(ctx, s.workerID, s.lockTTL)
	if err != nil {
		s.logger.Warn("scheduler lock renew", slog.String("error", err.Error()))
		return false
	}
	if renewed {
		s.setLeading(true)
		return true
	}

	acquired, err := s.clusterStore.AcquireLeadership(ctx, s.workerID, s.lockTTL)
	if err != nil {
		s.logger.Warn("scheduler lock acquire", slog.String("error", err.Error()))
		return false
	}
	was := s.IsLeader()
	s.setLeading(acquired)
	switch {
	case acquired:
		s.logger.Info("acquired scheduler lock", slog.String("worker_id", s.workerID.String()))
	case was:
		s.logger.Warn("lost scheduler lock", slog.String("worker_id", s.workerID.String()))
	}
	return acquired
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			leader, err := s.clusterStore.GetLeader(ctx)
			if err != nil {
				s.logger.Warn("get scheduler lock holder", slog.String("error", err.Error()))
				continue
			}
			if leader != s.workerID {
				continue
			}
			if _, err := s.RunDue(ctx); err != nil {
				s.logger.Error("cron tick", slog.String("error", err.Error()))
			}
		}
	}
}

// RunDue fires every enabled entry whose next fire time has passed and
// returns how many fired. It does not check the lock; the tick loop only
// calls it while holding it. Each entry's next fire time is advanced with
// a compare-and-set before enqueueing, so an entry fires once per due
// time no matter how many callers race.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	entries, err := s.cronStore.ListSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}

	now := s.now().UTC()
	fired := 0
	for _, entry := range entries {
		if !entry.Enabled || entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		if s.fireDue(ctx, entry, now) {
			fired++
		}
	}
	return fired, nil
}

func (s *Scheduler) fireDue(ctx context.Context, entry *Entry, now time.Time) bool {
	expected := *entry.NextRunAt
	next, err := entry.Next(now)
	if err != nil {
		s.logger.Error("compute next fire time",
			slog.String("cron_name", entry.Name),
			slog.String("error", err.Error()),
		)
		return false
	}

	advanced, err := s.cronStore.AdvanceSchedule(ctx, entry.Name, expected, next, &now)
	if err != nil {
		s.logger.Error("advance schedule",
			slog.String("cron_name", entry.Name),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !advanced {
		return false
	}

	jobID, err := s.enqueue(ctx, entry.JobName, entry.Payload, entry.jobOptions()...)
	if err != nil {
		s.logger.Error("cron enqueue",
			slog.String("cron_name", entry.Name),
			slog.String("job_name", entry.JobName),
			slog.String("error", err.Error()),
		)
		if _, rbErr := s.cronStore.AdvanceSchedule(ctx, entry.Name, next, expected, entry.LastRunAt); rbErr != nil {
			s.logger.Error("restore schedule",
				slog.String("cron_name", entry.Name),
				slog.String("error", rbErr.Error()),
			)
		}
		return false
	}

	s.fired(ctx, entry, jobID)
	return true
}

func (s *Scheduler) fired(ctx context.Context, entry *Entry, jobID id.JobID) {
	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, entry.Name, jobID)
	}
	s.logger.Info("cron fired",
		slog.String("cron_name", entry.Name),
		slog.String("job_name", entry.JobName),
		slog.String("job_id", jobID.String()),
	)
}

func (e *Entry) jobOptions() []job.Option {
	var opts []job.Option
	if e.Priority != job.PriorityNormal {
		opts = append(opts, job.WithPriority(e.Priority))
	}
	if e.Queue != "" {
		opts = append(opts, job.WithQueue(e.Queue))
	}
	if e.MaxRetries > 0 {
		opts = append(opts, job.WithMaxRetries(e.MaxRetries))
	}
	return opts
}

// Register stores an entry. A new entry starts enabled with its first fire
// time computed from now. Re-registering an existing name replaces its
// definition but keeps its enabled flag and fire times, so restarts do not
// reset schedules.
func (s *Scheduler) Register(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	next, err := e.Next(now)
	if err != nil {
		return jobq.Configuration(fmt.Errorf("schedule %q: %w", e.Name, err))
	}

	entry := e.Clone()
	entry.Enabled = true
	entry.NextRunAt = &next
	entry.LastRunAt = nil
	entry.CreatedAt = now
	entry.UpdatedAt = now

	err = s.cronStore.CreateSchedule(ctx, entry)
	if !errors.Is(err, jobq.ErrDuplicateSchedule) {
		return err
	}

	existing, err := s.cronStore.GetSchedule(ctx, e.Name)
	if err != nil {
		return err
	}
	entry.Enabled = existing.Enabled
	entry.CreatedAt = existing.CreatedAt
	entry.LastRunAt = existing.LastRunAt
	if existing.NextRunAt != nil && existing.Schedule == entry.Schedule && existing.Interval == entry.Interval {
		entry.NextRunAt = existing.NextRunAt
	}
	return s.cronStore.SaveSchedule(ctx, entry)
}

// Remove deletes an entry.
func (s *Scheduler) Remove(ctx context.Context, name string) error {
	return s.cronStore.DeleteSchedule(ctx, name)
}

// List returns all entries sorted by name.
func (s *Scheduler) List(ctx context.Context) ([]*Entry, error) {
	return s.cronStore.ListSchedules(ctx)
}

// Get returns one entry.
func (s *Scheduler) Get(ctx context.Context, name string) (*Entry, error) {
	return s.cronStore.GetSchedule(ctx, name)
}

// Enable makes an entry eligible to fire, starting from its next fire time
// after now.
func (s *Scheduler) Enable(ctx context.Context, name string) error {
	e, err := s.cronStore.GetSchedule(ctx, name)
	if err != nil {
		return err
	}
	next, err := e.Next(s.now().UTC())
	if err != nil {
		return jobq.Configuration(fmt.Errorf("schedule %q: %w", name, err))
	}
	if err := s.cronStore.SetScheduleEnabled(ctx, name, true, next); err != nil {
		return err
	}
	s.logger.Info("schedule enabled", slog.String("cron_name", name), slog.Time("next_run_at", next))
	return nil
}

// Disable stops an entry from firing until it is enabled again.
func (s *Scheduler) Disable(ctx context.Context, name string) error {
	e, err := s.cronStore.GetSchedule(ctx, name)
	if err != nil {
		return err
	}
	var next time.Time
	if e.NextRunAt != nil {
		next = *e.NextRunAt
	}
	if err := s.cronStore.SetScheduleEnabled(ctx, name, false, next); err != nil {
		return err
	}
	s.logger.Info("schedule disabled", slog.String("cron_name", name))
	return nil
}

// Trigger enqueues an entry's job immediately, whether or not the entry is
// enabled and whether or not this scheduler holds the lock. The regular
// schedule is left unchanged.
func (s *Scheduler) Trigger(ctx context.Context, name string) (id.JobID, error) {
	e, err := s.cronStore.GetSchedule(ctx, name)
	if err != nil {
		return id.JobID{}, err
	}
	jobID, err := s.enqueue(ctx, e.JobName, e.Payload, e.jobOptions()...)
	if err != nil {
		return id.JobID{}, err
	}

	if e.NextRunAt != nil {
		now := s.now().UTC()
		if _, err := s.cronStore.AdvanceSchedule(ctx, name, *e.NextRunAt, *e.NextRunAt, &now); err != nil {
			s.logger.Warn("record manual trigger",
				slog.String("cron_name", name),
				slog.String("error", err.Error()),
			)
		}
	}
	s.fired(ctx, e, jobID)
	return jobID, nil
}
