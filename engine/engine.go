package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/cron"
	"github.com/xraph/jobq/dlq"
	"github.com/xraph/jobq/ext"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	mw "github.com/xraph/jobq/middleware"
	"github.com/xraph/jobq/observability"
	"github.com/xraph/jobq/queue"
	"github.com/xraph/jobq/retry"
	"github.com/xraph/jobq/status"
	"github.com/xraph/jobq/store"
	"github.com/xraph/jobq/worker"
)

// Engine wraps a Dispatcher with typed subsystem access.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d          *jobq.Dispatcher
	store      store.Store
	extensions *ext.Registry
	registry   *job.Registry
	policies   *retry.Table
	core       *queue.Core
	dlq        *dlq.Service
	pool       *worker.Pool
	scheduler  *cron.Scheduler
	tracker    *status.Tracker
	mws        []mw.Middleware
	logger     *slog.Logger
	now        func() time.Time

	bo           backoff.Strategy
	queueLimits  []queue.Limits
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff replaces the default retry delay strategy built from the
// retry configuration. Job types with their own backoff keep it.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueLimits registers per-queue concurrency and rate limits for the
// local worker pool. Queues not listed have no limits.
func WithQueueLimits(limits ...queue.Limits) Option {
	return func(eng *Engine) {
		eng.queueLimits = append(eng.queueLimits, limits...)
	}
}

// WithClock replaces the wall clock of every time-dependent subsystem.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Dispatcher and registers the
// worker pool and, when enabled, the scheduler as Dispatcher components.
// The Dispatcher's store must implement store.Store.
func Build(d *jobq.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	cfg := d.Config()

	if d.Store() == nil {
		return nil, jobq.ErrNoStore
	}
	s, ok := d.Store().(store.Store)
	if !ok {
		return nil, jobq.Configuration(fmt.Errorf("store %T does not implement store.Store", d.Store()))
	}

	eng := &Engine{
		d:          d,
		store:      s,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		logger:     logger,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(eng)
	}

	def, err := retry.FromConfig(cfg.Retry)
	if err != nil {
		return nil, err
	}
	if eng.bo != nil {
		def.Backoff = eng.bo
	}
	eng.policies = retry.NewTable(def)

	eng.core = queue.NewCore(s, eng.policies,
		queue.WithClock(eng.now),
		queue.WithLogger(logger),
		queue.WithLiveness(s),
		queue.WithQueueConfig(cfg.Queue),
		queue.WithHeartbeatTimeout(cfg.Worker.HeartbeatTimeout),
	)
	eng.dlq = dlq.NewService(s,
		dlq.WithLogger(logger),
		dlq.WithLimits(cfg.DLQ),
		dlq.WithUniqueTTL(cfg.Queue.UniqueTTL),
		dlq.WithClock(eng.now),
	)
	eng.tracker = status.NewTracker(s, s,
		status.WithClock(eng.now),
		status.WithLogger(logger),
		status.WithHeartbeatTimeout(cfg.Worker.HeartbeatTimeout),
	)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/jobq"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/jobq"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter("github.com/xraph/jobq/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → user.
	// The executor appends the timeout classifier innermost.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.core, eng.extensions,
		worker.Timeouts{Default: cfg.Worker.JobTimeout, Grace: cfg.Worker.TimeoutGrace},
		logger, allMws...)

	eng.queueManager = queue.NewManager(eng.queueLimits...)
	eng.pool = worker.NewPool(eng.core, executor, s, logger,
		worker.WithPoolConcurrency(cfg.Worker.Concurrency),
		worker.WithPoolQueues(cfg.Worker.Queues),
		worker.WithPollInterval(cfg.Worker.PollInterval),
		worker.WithHeartbeatInterval(cfg.Worker.HeartbeatInterval),
		worker.WithHeartbeatTimeout(cfg.Worker.HeartbeatTimeout),
		worker.WithMaintenanceInterval(cfg.Queue.MaintenanceInterval),
		worker.WithQueueManager(eng.queueManager),
		worker.WithDLQ(eng.dlq),
	)

	enqueueFunc := func(ctx context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error) {
		return eng.EnqueueRaw(ctx, name, payload, opts...)
	}
	eng.scheduler = cron.NewScheduler(s, s, enqueueFunc, eng.extensions, eng.pool.WorkerID(), logger,
		cron.WithTickInterval(cfg.Scheduler.TickInterval),
		cron.WithLockTTL(cfg.Scheduler.LockTTL),
		cron.WithClock(eng.now),
	)

	// Wire back into the Dispatcher. The scheduler starts after the pool
	// and stops before it.
	d.AddComponent(eng.pool)
	if cfg.Scheduler.Enabled {
		d.AddComponent(eng.scheduler)
	}
	d.SetExtensions(eng.extensions)

	return eng, nil
}

// Register registers a typed job definition with the engine. A definition
// with its own backoff or attempt limit gets a per-type retry policy. An
// invalid definition is rejected with a configuration error.
func Register[T any](eng *Engine, def *job.Definition[T]) error {
	if err := job.RegisterDefinition(eng.registry, def); err != nil {
		return err
	}
	eng.setPolicy(def.Name, def.Opts)
	return nil
}

// RegisterHandler registers an untyped handler that receives the raw
// payload. A negative maxRetries or a zero timeout falls back to the
// configured defaults; a zero maxRetries dead-letters on the first
// retryable failure.
func (eng *Engine) RegisterHandler(jobType string, handler job.HandlerFunc, maxRetries int, timeout time.Duration) {
	opts := job.DefaultOptions()
	job.WithMaxRetries(maxRetries)(&opts)
	opts.Timeout = timeout
	eng.registry.Register(jobType, handler, opts)
	eng.setPolicy(jobType, opts)
}

func (eng *Engine) setPolicy(name string, opts job.Options) {
	if !opts.OverridesRetry() {
		return
	}
	eng.policies.Set(name, retry.Policy{MaxRetries: opts.MaxRetries, Backoff: opts.Backoff})
}

// Enqueue JSON-encodes payload and enqueues a job of the given type.
func Enqueue[T any](ctx context.Context, eng *Engine, jobType string, payload T, opts ...job.Option) (id.JobID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return id.Nil, jobq.Serialization(fmt.Errorf("marshal payload for job %q: %w", jobType, err))
	}
	return eng.EnqueueRaw(ctx, jobType, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. Options start
// from the registered definition's defaults when this process knows the
// job type. When a unique key is held by another pending or active job,
// the holder's ID is returned and nothing is enqueued.
func (eng *Engine) EnqueueRaw(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error) {
	o := job.DefaultOptions()
	if entry, ok := eng.registry.Lookup(jobType); ok {
		o = entry.Opts
	} else {
		// Unknown locally: leave limits to the consuming process's policy.
		o.MaxRetries = job.UnsetRetries
		o.Timeout = 0
	}
	for _, opt := range opts {
		opt(&o)
	}

	now := eng.now().UTC()
	j := &job.Job{
		ID:          id.NewJobID(),
		Name:        jobType,
		Queue:       o.Queue,
		Payload:     payload,
		Priority:    o.Priority,
		MaxRetries:  o.MaxRetries,
		UniqueKey:   o.UniqueKey,
		Timeout:     o.Timeout,
		ScheduledAt: o.DueAt(now),
	}

	got, err := eng.core.Enqueue(ctx, j)
	if err != nil {
		return id.Nil, err
	}
	if got != j.ID {
		eng.logger.Debug("enqueue deduplicated",
			slog.String("job_name", jobType),
			slog.String("unique_key", o.UniqueKey),
			slog.String("job_id", got.String()),
		)
		return got, nil
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return got, nil
}

// Cancel cancels a pending job. It reports false for a job that already
// finished and returns jobq.ErrInvalidState for a job being executed.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) (bool, error) {
	ok, err := eng.core.Cancel(ctx, jobID)
	if err != nil || !ok {
		return ok, err
	}
	if j, err := eng.store.GetJob(ctx, jobID); err == nil {
		eng.extensions.EmitJobCancelled(ctx, j)
	}
	eng.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
	return true, nil
}

// RetryDeadLetter moves a dead-lettered job back to pending with its
// attempt count reset.
func (eng *Engine) RetryDeadLetter(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.dlq.Retry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// PurgeDeadLetters deletes every dead-lettered job and returns how many
// were removed.
func (eng *Engine) PurgeDeadLetters(ctx context.Context) (int64, error) {
	return eng.dlq.Purge(ctx)
}

// PurgeQueue deletes every pending and delayed job of queue.
func (eng *Engine) PurgeQueue(ctx context.Context, queue string) (int64, error) {
	n, err := eng.core.PurgeQueue(ctx, queue)
	if err != nil {
		return 0, err
	}
	eng.logger.Info("queue purged", slog.String("queue", queue), slog.Int64("removed", n))
	return n, nil
}

// Start begins job processing by starting the worker pool and, when
// enabled, the cron scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return eng.d.Start(ctx)
}

// Stop gracefully shuts down the engine and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.d.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *jobq.Dispatcher { return eng.d }

// Core returns the queue core.
func (eng *Engine) Core() *queue.Core { return eng.core }

// DLQ returns the dead-letter service.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlq }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Scheduler returns the cron scheduler. It is built even when the
// scheduler is disabled, so schedules can be managed from any process.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Tracker returns the status tracker.
func (eng *Engine) Tracker() *status.Tracker { return eng.tracker }

// QueueManager returns the per-queue admission manager.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// RegisterCron registers a typed cron definition with the engine.
// Re-registering a name replaces its definition but keeps its enabled flag
// and fire times.
func RegisterCron[T any](ctx context.Context, eng *Engine, def *cron.Definition[T]) error {
	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return jobq.Serialization(fmt.Errorf("marshal cron payload: %w", err))
	}

	entry := &cron.Entry{
		Name:       def.Name,
		Schedule:   def.Schedule,
		Interval:   def.Interval,
		JobName:    def.JobName,
		Queue:      def.Queue,
		Priority:   def.Priority,
		MaxRetries: def.MaxRetries,
		Payload:    payload,
	}
	if err := eng.scheduler.Register(ctx, entry); err != nil {
		return fmt.Errorf("register cron %q: %w", def.Name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.Duration("interval", def.Interval),
		slog.String("job_name", def.JobName),
	)
	return nil
}
