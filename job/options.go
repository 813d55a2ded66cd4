package job

import (
	"time"

	"github.com/xraph/jobq/backoff"
)

// Options configures per-job behaviour. Definitions carry defaults;
// enqueue-time options override them for a single job.
type Options struct {
	// MaxRetries is the maximum number of attempts before the job is
	// dead-lettered. UnsetRetries leaves it to the job type's retry
	// policy; zero dead-letters on the first retryable failure.
	MaxRetries int

	// Queue is the queue name this job should be enqueued to.
	Queue string

	// Priority selects the tier. Higher tiers are dequeued first.
	Priority Priority

	// Timeout is the maximum duration a single attempt may run.
	Timeout time.Duration

	// Backoff overrides the engine's retry delay strategy for this job type.
	Backoff backoff.Strategy

	// Delay defers the job by a fixed duration from enqueue time.
	Delay time.Duration

	// RunAt schedules the job for a specific time. Zero means immediate.
	RunAt time.Time

	// UniqueKey deduplicates enqueues: while a pending or active job holds
	// the key, enqueueing another returns the holder's ID.
	UniqueKey string
}

// UnsetRetries marks a MaxRetries that defers to the retry policy.
const UnsetRetries = -1

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: UnsetRetries,
		Queue:      "default",
		Priority:   PriorityNormal,
		Timeout:    5 * time.Minute,
	}
}

// OverridesRetry reports whether the options carry their own attempt
// limit or backoff, and so need a per-type retry policy.
func (o Options) OverridesRetry() bool {
	return o.MaxRetries != UnsetRetries || o.Backoff != nil
}

// DueAt resolves when a job enqueued at now becomes eligible.
func (o Options) DueAt(now time.Time) time.Time {
	if !o.RunAt.IsZero() {
		return o.RunAt.UTC()
	}
	if o.Delay > 0 {
		return now.Add(o.Delay)
	}
	return now
}

// Option is a functional option for configuring a job definition or a
// single enqueue.
type Option func(*Options)

// WithMaxRetries sets the maximum number of attempts. Zero is honored;
// a negative n restores the policy default.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		if n < 0 {
			n = UnsetRetries
		}
		o.MaxRetries = n
	}
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithPriority sets the job's priority tier.
func WithPriority(p Priority) Option {
	return func(o *Options) { o.Priority = p.Tier() }
}

// WithTimeout sets the maximum execution duration for one attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithBackoff sets the retry delay strategy for the job type.
func WithBackoff(s backoff.Strategy) Option {
	return func(o *Options) { o.Backoff = s }
}

// WithDelay defers execution by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

// WithUniqueKey sets the deduplication key.
func WithUniqueKey(key string) Option {
	return func(o *Options) { o.UniqueKey = key }
}
