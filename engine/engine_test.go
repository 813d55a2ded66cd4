package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/cron"
	"github.com/xraph/jobq/engine"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/store/memory"
)

// ──────────────────────────────────────────────────
// Test payloads and helpers
// ──────────────────────────────────────────────────

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

type cronPayload struct {
	Report string `json:"report"`
}

func testConfig() jobq.Config {
	cfg := jobq.DefaultConfig()
	cfg.Worker.Concurrency = 2
	cfg.Worker.PollInterval = 10 * time.Millisecond
	cfg.Worker.HeartbeatInterval = time.Second
	cfg.Worker.HeartbeatTimeout = 5 * time.Second
	cfg.Worker.TimeoutGrace = 100 * time.Millisecond
	cfg.Retry.Strategy = "none"
	cfg.Scheduler.TickInterval = 50 * time.Millisecond
	cfg.Scheduler.LockTTL = time.Second
	return cfg
}

func newEngine(t *testing.T, cfg jobq.Config, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	d, err := jobq.New(jobq.WithConfig(cfg), jobq.WithStore(s))
	if err != nil {
		t.Fatalf("jobq.New: %v", err)
	}
	eng, err := engine.Build(d, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng, s
}

func stop(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// ──────────────────────────────────────────────────
// End-to-end: Register → Enqueue → Process
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_RegisterEnqueueProcess(t *testing.T) {
	eng, s := newEngine(t, testConfig())

	var processed atomic.Bool
	var gotPayload emailPayload
	engine.Register(eng, job.NewDefinition("send_email", func(_ context.Context, p emailPayload) error {
		gotPayload = p
		processed.Store(true)
		return nil
	}))

	jobID, err := engine.Enqueue(context.Background(), eng, "send_email", emailPayload{
		To:      "alice@example.com",
		Subject: "Hello",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	j, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.State != job.StatePending {
		t.Errorf("job.State = %q, want %q", j.State, job.StatePending)
	}
	if j.Queue != "default" {
		t.Errorf("job.Queue = %q, want default", j.Queue)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "job to be processed", processed.Load)
	waitFor(t, "job to complete", func() bool {
		got, err := s.GetJob(context.Background(), jobID)
		return err == nil && got.State == job.StateCompleted
	})
	stop(t, eng)

	if gotPayload.To != "alice@example.com" {
		t.Errorf("payload.To = %q, want %q", gotPayload.To, "alice@example.com")
	}

	stats, err := eng.Tracker().QueueStats(context.Background(), "default")
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Completed != 1 || stats.Enqueued != 1 {
		t.Errorf("stats = %+v, want enqueued=1 completed=1", stats)
	}
}

// ──────────────────────────────────────────────────
// Extension lifecycle events
// ──────────────────────────────────────────────────

type lifecycleTracker struct {
	enqueued      atomic.Int32
	started       atomic.Bool
	completed     atomic.Bool
	failed        atomic.Int32
	retryingCount atomic.Int32
	dlq           atomic.Bool
	cancelled     atomic.Bool
	shutdown      atomic.Bool

	cronFired      atomic.Bool
	cronFiredEntry atomic.Value // stores string
}

func (e *lifecycleTracker) Name() string { return "lifecycle-tracker" }

func (e *lifecycleTracker) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	e.enqueued.Add(1)
	return nil
}

func (e *lifecycleTracker) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.started.Store(true)
	return nil
}

func (e *lifecycleTracker) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.completed.Store(true)
	return nil
}

func (e *lifecycleTracker) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.failed.Add(1)
	return nil
}

func (e *lifecycleTracker) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	e.retryingCount.Add(1)
	return nil
}

func (e *lifecycleTracker) OnJobDLQ(_ context.Context, _ *job.Job, _ error) error {
	e.dlq.Store(true)
	return nil
}

func (e *lifecycleTracker) OnJobCancelled(_ context.Context, _ *job.Job) error {
	e.cancelled.Store(true)
	return nil
}

func (e *lifecycleTracker) OnCronFired(_ context.Context, entryName string, _ id.JobID) error {
	e.cronFiredEntry.Store(entryName)
	e.cronFired.Store(true)
	return nil
}

func (e *lifecycleTracker) OnShutdown(_ context.Context) error {
	e.shutdown.Store(true)
	return nil
}

func TestEngine_ExtensionLifecycleEvents(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng, _ := newEngine(t, testConfig(), engine.WithExtension(tracker))

	engine.Register(eng, job.NewDefinition("noop", func(_ context.Context, _ struct{}) error {
		return nil
	}))
	if _, err := engine.Enqueue(context.Background(), eng, "noop", struct{}{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "completion hook", tracker.completed.Load)
	stop(t, eng)

	if tracker.enqueued.Load() != 1 {
		t.Errorf("enqueued events = %d, want 1", tracker.enqueued.Load())
	}
	if !tracker.started.Load() {
		t.Error("expected OnJobStarted to fire")
	}
	if !tracker.shutdown.Load() {
		t.Error("expected OnShutdown to fire")
	}
}

// ──────────────────────────────────────────────────
// Retry, dead-letter and replay
// ──────────────────────────────────────────────────

func TestEngine_SendEmailDeadLetteredThenRetried(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng, s := newEngine(t, testConfig(),
		engine.WithExtension(tracker),
		engine.WithBackoff(backoff.None{}),
	)

	var attempts atomic.Int32
	eng.RegisterHandler("send_email", func(_ context.Context, _ []byte) error {
		attempts.Add(1)
		return errors.New("smtp unavailable")
	}, 3, 0)

	jobID, err := engine.Enqueue(context.Background(), eng, "send_email", emailPayload{To: "bob@example.com"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "job to reach the DLQ", tracker.dlq.Load)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := eng.Pool().Stop(ctx); err != nil {
		t.Fatalf("Pool.Stop: %v", err)
	}

	got, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateDeadLettered {
		t.Errorf("state = %q, want %q", got.State, job.StateDeadLettered)
	}
	if got.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", got.Attempts)
	}
	if attempts.Load() != 3 {
		t.Errorf("handler calls = %d, want 3", attempts.Load())
	}
	if tracker.retryingCount.Load() != 2 {
		t.Errorf("retrying events = %d, want 2", tracker.retryingCount.Load())
	}
	if n, _ := eng.DLQ().Count(context.Background()); n != 1 {
		t.Errorf("DLQ count = %d, want 1", n)
	}

	retried, err := eng.RetryDeadLetter(context.Background(), jobID)
	if err != nil {
		t.Fatalf("RetryDeadLetter: %v", err)
	}
	if retried.State != job.StatePending {
		t.Errorf("retried state = %q, want %q", retried.State, job.StatePending)
	}
	if retried.Attempts != 0 {
		t.Errorf("retried attempts = %d, want 0", retried.Attempts)
	}
	if n, _ := eng.DLQ().Count(context.Background()); n != 0 {
		t.Errorf("DLQ count after retry = %d, want 0", n)
	}

	stop(t, eng)
}

func TestEngine_UndecodablePayloadDeadLettersImmediately(t *testing.T) {
	tracker := &lifecycleTracker{}
	cfg := testConfig()
	eng, s := newEngine(t, cfg, engine.WithExtension(tracker))

	engine.Register(eng, job.NewDefinition("bad_payload", func(_ context.Context, _ emailPayload) error {
		return nil
	}))

	// A payload that does not decode is a serialization failure.
	jobID, err := eng.EnqueueRaw(context.Background(), "bad_payload", []byte("{not json"))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "job to reach the DLQ", tracker.dlq.Load)
	stop(t, eng)

	got, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.LastErrorKind != string(jobq.KindSerialization) {
		t.Errorf("last error kind = %q, want %q", got.LastErrorKind, jobq.KindSerialization)
	}
	if tracker.retryingCount.Load() != 0 {
		t.Errorf("retrying events = %d, want 0", tracker.retryingCount.Load())
	}
}

func TestEngine_ZeroMaxRetriesDeadLettersOnFirstFailure(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng, s := newEngine(t, testConfig(), engine.WithExtension(tracker))

	var calls atomic.Int32
	eng.RegisterHandler("charge_card", func(context.Context, []byte) error {
		calls.Add(1)
		return errors.New("gateway unavailable")
	}, 0, time.Second)

	jobID, err := eng.EnqueueRaw(context.Background(), "charge_card", []byte(`{}`))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "job to reach the DLQ", tracker.dlq.Load)
	stop(t, eng)

	got, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateDeadLettered || got.Attempts != 1 || got.MaxRetries != 0 {
		t.Errorf("job = state %s attempts %d max %d, want dead_lettered/1/0", got.State, got.Attempts, got.MaxRetries)
	}
	if got.LastErrorKind != string(jobq.KindMaxRetriesExceeded) {
		t.Errorf("last error kind = %q, want %q", got.LastErrorKind, jobq.KindMaxRetriesExceeded)
	}
	if calls.Load() != 1 || tracker.retryingCount.Load() != 0 {
		t.Errorf("calls = %d retrying = %d, want 1 and 0", calls.Load(), tracker.retryingCount.Load())
	}
}

func TestEngine_RetryThenSucceed(t *testing.T) {
	eng, s := newEngine(t, testConfig())

	var calls atomic.Int32
	engine.Register(eng, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		if calls.Add(1) < 2 {
			return errors.New("transient")
		}
		return nil
	}, job.WithMaxRetries(3)))

	jobID, err := engine.Enqueue(context.Background(), eng, "flaky", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "job to complete", func() bool {
		got, err := s.GetJob(context.Background(), jobID)
		return err == nil && got.State == job.StateCompleted
	})
	stop(t, eng)

	got, _ := s.GetJob(context.Background(), jobID)
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got.Attempts)
	}
	if len(got.Failures) != 1 {
		t.Errorf("failure history = %d entries, want 1", len(got.Failures))
	}
}

// ──────────────────────────────────────────────────
// Producer options
// ──────────────────────────────────────────────────

func TestEngine_EnqueueWithOptions(t *testing.T) {
	eng, s := newEngine(t, testConfig())
	ctx := context.Background()

	runAt := time.Now().Add(time.Hour).UTC()
	jobID, err := engine.Enqueue(ctx, eng, "report", cronPayload{Report: "q3"},
		job.WithQueue("reports"),
		job.WithPriority(job.PriorityHigh),
		job.WithMaxRetries(7),
		job.WithTimeout(time.Minute),
		job.WithRunAt(runAt),
	)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Queue != "reports" {
		t.Errorf("queue = %q, want reports", got.Queue)
	}
	if got.Priority != job.PriorityHigh {
		t.Errorf("priority = %v, want high", got.Priority)
	}
	if got.MaxRetries != 7 {
		t.Errorf("max retries = %d, want 7", got.MaxRetries)
	}
	if got.Timeout != time.Minute {
		t.Errorf("timeout = %s, want 1m", got.Timeout)
	}
	if !got.ScheduledAt.Equal(runAt) {
		t.Errorf("scheduled at = %s, want %s", got.ScheduledAt, runAt)
	}

	stats, err := eng.Tracker().QueueStats(ctx, "reports")
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Delayed != 1 || stats.Pending != 0 {
		t.Errorf("stats = %+v, want one delayed job", stats)
	}
}

func TestEngine_UniqueKeyDeduplicates(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng, _ := newEngine(t, testConfig(), engine.WithExtension(tracker))
	ctx := context.Background()

	first, err := engine.Enqueue(ctx, eng, "welcome", emailPayload{To: "a@example.com"}, job.WithUniqueKey("welcome:42"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := engine.Enqueue(ctx, eng, "welcome", emailPayload{To: "a@example.com"}, job.WithUniqueKey("welcome:42"))
	if err != nil {
		t.Fatalf("Enqueue duplicate: %v", err)
	}
	if first != second {
		t.Errorf("duplicate enqueue returned %s, want %s", second, first)
	}
	if tracker.enqueued.Load() != 1 {
		t.Errorf("enqueued events = %d, want 1", tracker.enqueued.Load())
	}

	third, err := engine.Enqueue(ctx, eng, "welcome", emailPayload{To: "a@example.com"})
	if err != nil {
		t.Fatalf("Enqueue without key: %v", err)
	}
	if third == first {
		t.Error("enqueue without a unique key must not deduplicate")
	}
}

func TestEngine_PriorityOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Worker.Concurrency = 1
	eng, _ := newEngine(t, cfg)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		order []string
	)
	engine.Register(eng, job.NewDefinition("record", func(_ context.Context, p cronPayload) error {
		mu.Lock()
		order = append(order, p.Report)
		mu.Unlock()
		return nil
	}))

	for _, tc := range []struct {
		name string
		prio job.Priority
	}{
		{"low", job.PriorityLow},
		{"normal", job.PriorityNormal},
		{"critical", job.PriorityCritical},
		{"high", job.PriorityHigh},
	} {
		if _, err := engine.Enqueue(ctx, eng, "record", cronPayload{Report: tc.name}, job.WithPriority(tc.prio)); err != nil {
			t.Fatalf("Enqueue %s: %v", tc.name, err)
		}
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "all jobs", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	})
	stop(t, eng)

	want := []string{"critical", "high", "normal", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

// ──────────────────────────────────────────────────
// Control surface
// ──────────────────────────────────────────────────

func TestEngine_CancelPendingJob(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng, s := newEngine(t, testConfig(), engine.WithExtension(tracker))
	ctx := context.Background()

	jobID, err := engine.Enqueue(ctx, eng, "later", struct{}{}, job.WithDelay(time.Hour))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ok, err := eng.Cancel(ctx, jobID)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v; want true, nil", ok, err)
	}
	got, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCancelled {
		t.Errorf("state = %q, want %q", got.State, job.StateCancelled)
	}
	if !tracker.cancelled.Load() {
		t.Error("expected OnJobCancelled to fire")
	}

	ok, err = eng.Cancel(ctx, jobID)
	if err != nil || ok {
		t.Errorf("second Cancel = %v, %v; want false, nil", ok, err)
	}

	if _, err := eng.Cancel(ctx, id.NewJobID()); !errors.Is(err, jobq.ErrJobNotFound) {
		t.Errorf("Cancel unknown job: err = %v, want ErrJobNotFound", err)
	}
}

func TestEngine_PurgeQueueAndDeadLetters(t *testing.T) {
	eng, _ := newEngine(t, testConfig())
	ctx := context.Background()

	for range 3 {
		if _, err := engine.Enqueue(ctx, eng, "bulk", struct{}{}, job.WithQueue("bulk")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if _, err := engine.Enqueue(ctx, eng, "bulk", struct{}{}, job.WithQueue("bulk"), job.WithDelay(time.Hour)); err != nil {
		t.Fatalf("Enqueue delayed: %v", err)
	}

	n, err := eng.PurgeQueue(ctx, "bulk")
	if err != nil {
		t.Fatalf("PurgeQueue: %v", err)
	}
	if n != 4 {
		t.Errorf("purged = %d, want 4", n)
	}

	n, err = eng.PurgeDeadLetters(ctx)
	if err != nil {
		t.Fatalf("PurgeDeadLetters: %v", err)
	}
	if n != 0 {
		t.Errorf("purging an empty DLQ removed %d, want 0", n)
	}
}

// ──────────────────────────────────────────────────
// Build errors
// ──────────────────────────────────────────────────

func TestEngine_BuildNoStore(t *testing.T) {
	d, err := jobq.New()
	if err != nil {
		t.Fatalf("jobq.New: %v", err)
	}
	if _, err := engine.Build(d); !errors.Is(err, jobq.ErrNoStore) {
		t.Fatalf("Build err = %v, want ErrNoStore", err)
	}
}

type badStore struct{}

func (badStore) Ping(_ context.Context) error { return nil }
func (badStore) Close() error                 { return nil }

func TestEngine_BuildBadStore(t *testing.T) {
	d, err := jobq.New(jobq.WithStore(badStore{}))
	if err != nil {
		t.Fatalf("jobq.New: %v", err)
	}
	_, err = engine.Build(d)
	if err == nil {
		t.Fatal("expected error for a store missing subsystem methods")
	}
	if jobq.KindOf(err) != jobq.KindConfiguration {
		t.Errorf("kind = %q, want configuration", jobq.KindOf(err))
	}
}

// ──────────────────────────────────────────────────
// Cron
// ──────────────────────────────────────────────────

func TestEngine_CronFiresAndEnqueuesJob(t *testing.T) {
	tracker := &lifecycleTracker{}
	eng, _ := newEngine(t, testConfig(), engine.WithExtension(tracker))
	ctx := context.Background()

	var gotPayload atomic.Value
	engine.Register(eng, job.NewDefinition("daily_report", func(_ context.Context, p cronPayload) error {
		gotPayload.Store(p)
		return nil
	}))

	err := engine.RegisterCron(ctx, eng, &cron.Definition[cronPayload]{
		Name:     "daily-report-cron",
		Interval: 200 * time.Millisecond,
		JobName:  "daily_report",
		Payload:  cronPayload{Report: "sales"},
	})
	if err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "cron-enqueued job", func() bool { return gotPayload.Load() != nil })
	stop(t, eng)

	if p := gotPayload.Load().(cronPayload); p.Report != "sales" {
		t.Errorf("payload.Report = %q, want sales", p.Report)
	}
	if !tracker.cronFired.Load() {
		t.Error("expected OnCronFired to fire")
	}
	if name, _ := tracker.cronFiredEntry.Load().(string); name != "daily-report-cron" {
		t.Errorf("cron fired entry = %q, want daily-report-cron", name)
	}

	entry, err := eng.Scheduler().Get(ctx, "daily-report-cron")
	if err != nil {
		t.Fatalf("Get schedule: %v", err)
	}
	if entry.LastRunAt == nil {
		t.Error("expected LastRunAt to be set after the entry fired")
	}
}

func TestEngine_CronDisabledSkipped(t *testing.T) {
	eng, s := newEngine(t, testConfig())
	ctx := context.Background()

	err := engine.RegisterCron(ctx, eng, &cron.Definition[cronPayload]{
		Name:     "paused",
		Interval: 100 * time.Millisecond,
		JobName:  "daily_report",
	})
	if err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	if err := eng.Scheduler().Disable(ctx, "paused"); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	stop(t, eng)

	counts, err := s.QueueCounts(ctx, "default")
	if err != nil {
		t.Fatalf("QueueCounts: %v", err)
	}
	if counts.Pending+counts.Active+counts.Delayed != 0 {
		t.Errorf("disabled schedule enqueued work: %+v", counts)
	}
}

func TestEngine_RegisterCronInvalidSchedule(t *testing.T) {
	eng, _ := newEngine(t, testConfig())

	err := engine.RegisterCron(context.Background(), eng, &cron.Definition[struct{}]{
		Name:     "bad",
		Schedule: "not a cron expression",
		JobName:  "noop",
	})
	if err == nil {
		t.Fatal("expected error for an invalid schedule")
	}
	if jobq.KindOf(err) != jobq.KindConfiguration {
		t.Errorf("kind = %q, want configuration", jobq.KindOf(err))
	}
}

func TestEngine_RegisterRejectsInvalidDefinition(t *testing.T) {
	eng, _ := newEngine(t, testConfig())

	err := engine.Register(eng, job.NewDefinition[struct{}]("", func(_ context.Context, _ struct{}) error { return nil }))
	if jobq.KindOf(err) != jobq.KindConfiguration {
		t.Fatalf("Register(unnamed) = %v, want configuration error", err)
	}
	err = engine.Register(eng, job.NewDefinition("broken_backoff", func(_ context.Context, _ struct{}) error { return nil },
		job.WithBackoff(backoff.Curve{Kind: backoff.KindLinear, Initial: time.Minute, Max: time.Second})))
	if jobq.KindOf(err) != jobq.KindConfiguration {
		t.Fatalf("Register(broken_backoff) = %v, want configuration error", err)
	}
}
