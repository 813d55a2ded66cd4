package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/dlq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/queue"
)

// SlotState is the lifecycle state of one worker slot.
type SlotState int

const (
	// SlotIdle means the slot found no work and is waiting to poll again.
	SlotIdle SlotState = iota
	// SlotClaiming means the slot is asking the queue core for a job.
	SlotClaiming
	// SlotExecuting means the slot holds a claimed job.
	SlotExecuting
	// SlotCrashed means the slot's handler never returned. A replacement
	// slot took over.
	SlotCrashed
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotClaiming:
		return "claiming"
	case SlotExecuting:
		return "executing"
	case SlotCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// SlotInfo is a snapshot of one slot.
type SlotInfo struct {
	ID    int
	State SlotState
	Queue string
	JobID id.JobID
	Since time.Time
}

// Pool manages a set of concurrent worker slots that claim jobs through
// the queue core and execute them through the Executor. Alongside the
// slots it runs the heartbeat, stale-claim reaper, delayed-job promotion
// and retention loops.
type Pool struct {
	core      *queue.Core
	executor  *Executor
	members   cluster.Store
	dlq       *dlq.Service
	limits    *queue.Manager
	logger    *slog.Logger
	workerID  id.WorkerID
	hostname  string
	startedAt time.Time

	concurrency       int
	queues            []string
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	maintenance       time.Duration
	workerRetention   time.Duration

	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	draining atomic.Bool

	slotMu     sync.Mutex
	slots      []*SlotInfo
	activeJobs map[id.JobID]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker slots.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool will poll, in order.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle slot waits before polling again.
// Delayed jobs are promoted at the same cadence.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool refreshes its worker
// record and reaps claims of dead workers. A zero value disables both.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithHeartbeatTimeout sets the TTL of the worker's liveness record.
func WithHeartbeatTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatTimeout = d }
}

// WithQueueManager sets per-queue rate and concurrency limits.
func WithQueueManager(m *queue.Manager) PoolOption {
	return func(p *Pool) { p.limits = m }
}

// WithDLQ lets the maintenance loop trim the dead-letter queue.
func WithDLQ(s *dlq.Service) PoolOption {
	return func(p *Pool) { p.dlq = s }
}

// WithMaintenanceInterval sets how often retention trimming runs. A zero
// value disables it.
func WithMaintenanceInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.maintenance = d }
}

// WithWorkerRetention sets how long records of silent workers are kept
// before maintenance prunes them.
func WithWorkerRetention(d time.Duration) PoolOption {
	return func(p *Pool) { p.workerRetention = d }
}

// WithWorkerID sets the pool's worker identifier.
func WithWorkerID(workerID id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// NewPool creates a worker pool.
func NewPool(
	core *queue.Core,
	executor *Executor,
	members cluster.Store,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	hostname, _ := os.Hostname()
	p := &Pool{
		core:              core,
		executor:          executor,
		members:           members,
		logger:            logger,
		workerID:          id.NewWorkerID(),
		hostname:          hostname,
		concurrency:       10,
		queues:            []string{"default"},
		pollInterval:      100 * time.Millisecond,
		heartbeatInterval: 30 * time.Second,
		heartbeatTimeout:  90 * time.Second,
		maintenance:       time.Minute,
		workerRetention:   time.Hour,
		stopCh:            make(chan struct{}),
		activeJobs:        make(map[id.JobID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.limits == nil {
		p.limits = queue.NewManager()
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start registers the worker and launches the slots and background
// loops. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.startedAt = time.Now().UTC()
	if err := p.members.RegisterWorker(ctx, p.record()); err != nil {
		return err
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.startSlot()
	}

	p.loop(p.pollInterval, p.promote)
	if p.heartbeatInterval > 0 {
		p.loop(p.heartbeatInterval, p.heartbeat)
		p.loop(p.heartbeatInterval, p.reap)
	}
	if p.maintenance > 0 {
		p.loop(p.maintenance, p.maintain)
	}
	return nil
}

// Stop signals all slots to stop claiming and waits for in-flight jobs.
// If ctx expires first, active jobs are cancelled; the executor fails
// them as worker crashes so they are retried elsewhere.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.draining.Store(true)
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	settle := context.WithoutCancel(ctx)
	p.heartbeat(settle)

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}

	if err := p.members.DeregisterWorker(settle, p.workerID); err != nil {
		p.logger.Warn("failed to deregister worker",
			slog.String("worker_id", p.workerID.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Slots returns a snapshot of every slot, including crashed ones.
func (p *Pool) Slots() []SlotInfo {
	p.slotMu.Lock()
	defer p.slotMu.Unlock()
	out := make([]SlotInfo, len(p.slots))
	for i, s := range p.slots {
		out[i] = *s
	}
	return out
}

func (p *Pool) startSlot() {
	p.slotMu.Lock()
	s := &SlotInfo{ID: len(p.slots), State: SlotIdle, Since: time.Now().UTC()}
	p.slots = append(p.slots, s)
	p.slotMu.Unlock()

	p.wg.Add(1)
	go p.slotLoop(s)
}

// slotLoop is run by each slot goroutine.
func (p *Pool) slotLoop(s *SlotInfo) {
	defer p.wg.Done()

	next := s.ID
	for {
		select {
		case <-p.stopCh:
			p.setSlot(s, SlotIdle, "", id.Nil)
			return
		default:
		}

		worked, crashed := p.pollOnce(s, next)
		if crashed {
			p.logger.Error("worker slot crashed, starting a replacement",
				slog.Int("slot", s.ID),
				slog.String("worker_id", p.workerID.String()),
			)
			p.startSlot()
			return
		}
		next++
		if !worked {
			p.setSlot(s, SlotIdle, "", id.Nil)
			p.sleep()
		}
	}
}

// pollOnce tries each queue once, starting at offset, and executes the
// first job claimed.
func (p *Pool) pollOnce(s *SlotInfo, offset int) (worked, crashed bool) {
	for i := range p.queues {
		q := p.queues[(offset+i)%len(p.queues)]
		permit := p.limits.Acquire(q)
		if permit == nil {
			continue
		}

		p.setSlot(s, SlotClaiming, q, id.Nil)
		qj, err := p.core.Dequeue(context.Background(), q, p.workerID)
		if err != nil {
			permit.Refund()
			p.logger.Error("dequeue error",
				slog.String("queue", q),
				slog.String("error", err.Error()),
			)
			return false, false
		}
		if qj == nil {
			permit.Refund()
			continue
		}

		p.setSlot(s, SlotExecuting, q, qj.Job.ID)
		ctx, cancel := context.WithCancel(context.Background())
		p.trackJob(qj.Job.ID, cancel)

		res := p.executor.Execute(ctx, qj, p.workerID)

		p.untrackJob(qj.Job.ID)
		cancel()
		permit.Release()

		if res.Abandoned {
			p.setSlot(s, SlotCrashed, q, qj.Job.ID)
			return true, true
		}
		return true, false
	}
	return false, false
}

func (p *Pool) setSlot(s *SlotInfo, state SlotState, q string, jobID id.JobID) {
	p.slotMu.Lock()
	defer p.slotMu.Unlock()
	if s.State != state {
		s.Since = time.Now().UTC()
	}
	s.State = state
	s.Queue = q
	s.JobID = jobID
}

// loop runs fn every interval until Stop.
func (p *Pool) loop(interval time.Duration, fn func(context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				fn(context.Background())
			}
		}
	}()
}

// record builds the pool's current worker record.
func (p *Pool) record() *cluster.Worker {
	state := cluster.WorkerActive
	if p.draining.Load() {
		state = cluster.WorkerDraining
	}

	p.slotMu.Lock()
	active := make([]id.JobID, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		active = append(active, jobID)
	}
	p.slotMu.Unlock()

	return &cluster.Worker{
		ID:          p.workerID,
		Hostname:    p.hostname,
		PID:         os.Getpid(),
		Queues:      p.queues,
		Concurrency: p.concurrency,
		State:       state,
		ActiveJobs:  active,
		StartedAt:   p.startedAt,
		LastSeen:    time.Now().UTC(),
	}
}

func (p *Pool) heartbeat(ctx context.Context) {
	if err := p.members.HeartbeatWorker(ctx, p.record(), p.heartbeatTimeout); err != nil {
		p.logger.Warn("heartbeat failed",
			slog.String("worker_id", p.workerID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) reap(ctx context.Context) {
	n, err := p.core.RecoverStale(ctx)
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		p.logger.Info("reaped stale jobs", slog.Int("count", n))
	}
}

func (p *Pool) promote(ctx context.Context) {
	n, err := p.core.PromoteDue(ctx)
	if err != nil {
		p.logger.Error("promote delayed jobs error", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		p.logger.Debug("promoted delayed jobs", slog.Int("count", n))
	}
}

// maintain trims the completed log and the DLQ and prunes records of
// workers that went silent long ago.
func (p *Pool) maintain(ctx context.Context) {
	if n, err := p.core.TrimCompleted(ctx); err != nil {
		p.logger.Error("trim completed log error", slog.String("error", err.Error()))
	} else if n > 0 {
		p.logger.Debug("trimmed completed log", slog.Int64("removed", n))
	}

	if p.dlq != nil {
		if _, err := p.dlq.Trim(ctx); err != nil {
			p.logger.Error("trim dead-letter queue error", slog.String("error", err.Error()))
		}
	}

	if p.workerRetention > 0 {
		n, err := p.members.PruneWorkers(ctx, time.Now().UTC().Add(-p.workerRetention))
		if err != nil {
			p.logger.Error("prune workers error", slog.String("error", err.Error()))
		} else if n > 0 {
			p.logger.Info("pruned silent workers", slog.Int64("count", n))
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID id.JobID, cancel context.CancelFunc) {
	p.slotMu.Lock()
	p.activeJobs[jobID] = cancel
	p.slotMu.Unlock()
}

func (p *Pool) untrackJob(jobID id.JobID) {
	p.slotMu.Lock()
	delete(p.activeJobs, jobID)
	p.slotMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.slotMu.Lock()
	defer p.slotMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID.String()))
		cancel()
	}
}
