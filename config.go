package jobq

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/jobq/backoff"
)

// DefaultHeartbeatTimeout is how long a worker may go without a heartbeat
// before its claimed jobs are reclaimed.
const DefaultHeartbeatTimeout = 90 * time.Second

// DefaultStarvationLimit is the maximum number of consecutive dequeue
// cycles a lower priority tier with pending work may go unserved.
const DefaultStarvationLimit = 8

// Config holds configuration for the Dispatcher and every subsystem it
// wires.
type Config struct {
	Worker    WorkerConfig
	Retry     RetryConfig
	DLQ       DLQConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Store     StoreConfig
}

// WorkerConfig configures the worker pool.
type WorkerConfig struct {
	// Concurrency is the number of worker slots.
	Concurrency int

	// Queues is the list of queues the pool will poll, in order.
	Queues []string

	// PollInterval is how long an idle slot waits before polling again.
	PollInterval time.Duration

	// JobTimeout is the execution deadline for job types that do not set one.
	JobTimeout time.Duration

	// TimeoutGrace is how long the executor waits for a handler to return
	// after its deadline before abandoning the slot.
	TimeoutGrace time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often the pool refreshes its liveness record.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is how long before a silent worker is considered dead.
	HeartbeatTimeout time.Duration
}

// RetryConfig is the default retry policy for job types that do not
// configure their own.
type RetryConfig struct {
	MaxRetries   int
	Strategy     string // none, fixed, linear, exponential
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// Curve returns the retry schedule the section describes.
func (r RetryConfig) Curve() (backoff.Curve, error) {
	kind, err := backoff.ParseKind(r.Strategy)
	if err != nil {
		return backoff.Curve{}, err
	}
	return backoff.Curve{
		Kind:       kind,
		Initial:    r.InitialDelay,
		Max:        r.MaxDelay,
		Multiplier: r.Multiplier,
		Jitter:     r.JitterFactor,
	}, nil
}

// DLQConfig bounds the dead-letter queue.
type DLQConfig struct {
	MaxSize   int64
	Retention time.Duration
}

// QueueConfig configures queue core behaviour.
type QueueConfig struct {
	// StarvationLimit bounds consecutive higher-tier dequeues while a lower
	// tier has pending work.
	StarvationLimit int

	// MaxPending rejects enqueues into a queue holding this many pending
	// jobs. Zero means unbounded.
	MaxPending int64

	// UniqueTTL is how long a unique key may block duplicates.
	UniqueTTL time.Duration

	// CompletedRetention and CompletedMaxSize bound the completed log.
	CompletedRetention time.Duration
	CompletedMaxSize   int64

	// PromoteBatch caps how many delayed jobs one promotion pass moves.
	PromoteBatch int

	// MaintenanceInterval is how often retention trimming runs.
	MaintenanceInterval time.Duration
}

// SchedulerConfig configures the recurring job scheduler.
type SchedulerConfig struct {
	Enabled      bool
	TickInterval time.Duration
	LockTTL      time.Duration
}

// StoreConfig configures the backend connection.
type StoreConfig struct {
	RedisURL  string
	KeyPrefix string
	Codec     string // msgpack or json
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Worker: WorkerConfig{
			Concurrency:       10,
			Queues:            []string{"default"},
			PollInterval:      100 * time.Millisecond,
			JobTimeout:        300 * time.Second,
			TimeoutGrace:      5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  DefaultHeartbeatTimeout,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			Strategy:     "exponential",
			InitialDelay: time.Second,
			MaxDelay:     time.Hour,
			Multiplier:   2,
			JitterFactor: 0.1,
		},
		DLQ: DLQConfig{
			MaxSize:   10000,
			Retention: 30 * 24 * time.Hour,
		},
		Queue: QueueConfig{
			StarvationLimit:     DefaultStarvationLimit,
			UniqueTTL:           time.Hour,
			CompletedRetention:  7 * 24 * time.Hour,
			CompletedMaxSize:    10000,
			PromoteBatch:        100,
			MaintenanceInterval: time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			TickInterval: 10 * time.Second,
			LockTTL:      30 * time.Second,
		},
		Store: StoreConfig{
			RedisURL:  "redis://localhost:6379/0",
			KeyPrefix: "jobq",
			Codec:     "msgpack",
		},
	}
}

// Validate checks the configuration for values no subsystem can run with.
func (c Config) Validate() error {
	switch {
	case c.Worker.Concurrency <= 0:
		return Configuration(fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency))
	case len(c.Worker.Queues) == 0:
		return Configuration(fmt.Errorf("at least one queue is required"))
	case c.Worker.PollInterval <= 0:
		return Configuration(fmt.Errorf("poll interval must be positive"))
	case c.Worker.HeartbeatInterval >= c.Worker.HeartbeatTimeout:
		return Configuration(fmt.Errorf("heartbeat interval %s must be shorter than heartbeat timeout %s",
			c.Worker.HeartbeatInterval, c.Worker.HeartbeatTimeout))
	case c.Retry.MaxRetries < 0:
		return Configuration(fmt.Errorf("max retries must not be negative"))
	case c.Queue.StarvationLimit <= 0:
		return Configuration(fmt.Errorf("starvation limit must be positive"))
	case c.Scheduler.Enabled && c.Scheduler.LockTTL <= c.Scheduler.TickInterval/2:
		return Configuration(fmt.Errorf("scheduler lock ttl %s too short for tick interval %s",
			c.Scheduler.LockTTL, c.Scheduler.TickInterval))
	}
	curve, err := c.Retry.Curve()
	if err == nil {
		err = curve.Validate()
	}
	if err != nil {
		return Configuration(err)
	}
	return nil
}

// fileConfig mirrors Config with string durations for JSON files.
type fileConfig struct {
	Worker struct {
		Concurrency       *int     `json:"concurrency"`
		Queues            []string `json:"queues"`
		PollInterval      string   `json:"poll_interval"`
		JobTimeout        string   `json:"job_timeout"`
		TimeoutGrace      string   `json:"timeout_grace"`
		ShutdownTimeout   string   `json:"shutdown_timeout"`
		HeartbeatInterval string   `json:"heartbeat_interval"`
		HeartbeatTimeout  string   `json:"heartbeat_timeout"`
	} `json:"worker"`
	Retry struct {
		MaxRetries   *int     `json:"max_retries"`
		Strategy     string   `json:"strategy"`
		InitialDelay string   `json:"initial_delay"`
		MaxDelay     string   `json:"max_delay"`
		Multiplier   *float64 `json:"multiplier"`
		JitterFactor *float64 `json:"jitter_factor"`
	} `json:"retry"`
	DLQ struct {
		MaxSize   *int64 `json:"max_size"`
		Retention string `json:"retention"`
	} `json:"dlq"`
	Queue struct {
		StarvationLimit    *int   `json:"starvation_limit"`
		MaxPending         *int64 `json:"max_pending"`
		UniqueTTL          string `json:"unique_ttl"`
		CompletedRetention string `json:"completed_retention"`
		CompletedMaxSize   *int64 `json:"completed_max_size"`
	} `json:"queue"`
	Scheduler struct {
		Enabled      *bool  `json:"enabled"`
		TickInterval string `json:"tick_interval"`
		LockTTL      string `json:"lock_ttl"`
	} `json:"scheduler"`
	Store struct {
		RedisURL  string `json:"redis_url"`
		KeyPrefix string `json:"key_prefix"`
		Codec     string `json:"codec"`
	} `json:"store"`
}

// LoadConfig reads a JSON configuration file over DefaultConfig and then
// applies JOBQ_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("jobq: read config: %w", err)
		}
		var fc fileConfig
		if err := json.Unmarshal(b, &fc); err != nil {
			return Config{}, Configuration(fmt.Errorf("parse config %s: %w", path, err))
		}
		if err := fc.apply(&cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (fc *fileConfig) apply(cfg *Config) error {
	w := fc.Worker
	if w.Concurrency != nil {
		cfg.Worker.Concurrency = *w.Concurrency
	}
	if len(w.Queues) > 0 {
		cfg.Worker.Queues = w.Queues
	}
	r := fc.Retry
	if r.MaxRetries != nil {
		cfg.Retry.MaxRetries = *r.MaxRetries
	}
	if r.Strategy != "" {
		cfg.Retry.Strategy = r.Strategy
	}
	if r.Multiplier != nil {
		cfg.Retry.Multiplier = *r.Multiplier
	}
	if r.JitterFactor != nil {
		cfg.Retry.JitterFactor = *r.JitterFactor
	}
	if fc.DLQ.MaxSize != nil {
		cfg.DLQ.MaxSize = *fc.DLQ.MaxSize
	}
	q := fc.Queue
	if q.StarvationLimit != nil {
		cfg.Queue.StarvationLimit = *q.StarvationLimit
	}
	if q.MaxPending != nil {
		cfg.Queue.MaxPending = *q.MaxPending
	}
	if q.CompletedMaxSize != nil {
		cfg.Queue.CompletedMaxSize = *q.CompletedMaxSize
	}
	if fc.Scheduler.Enabled != nil {
		cfg.Scheduler.Enabled = *fc.Scheduler.Enabled
	}
	if fc.Store.RedisURL != "" {
		cfg.Store.RedisURL = fc.Store.RedisURL
	}
	if fc.Store.KeyPrefix != "" {
		cfg.Store.KeyPrefix = fc.Store.KeyPrefix
	}
	if fc.Store.Codec != "" {
		cfg.Store.Codec = fc.Store.Codec
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"worker.poll_interval", w.PollInterval, &cfg.Worker.PollInterval},
		{"worker.job_timeout", w.JobTimeout, &cfg.Worker.JobTimeout},
		{"worker.timeout_grace", w.TimeoutGrace, &cfg.Worker.TimeoutGrace},
		{"worker.shutdown_timeout", w.ShutdownTimeout, &cfg.Worker.ShutdownTimeout},
		{"worker.heartbeat_interval", w.HeartbeatInterval, &cfg.Worker.HeartbeatInterval},
		{"worker.heartbeat_timeout", w.HeartbeatTimeout, &cfg.Worker.HeartbeatTimeout},
		{"retry.initial_delay", r.InitialDelay, &cfg.Retry.InitialDelay},
		{"retry.max_delay", r.MaxDelay, &cfg.Retry.MaxDelay},
		{"dlq.retention", fc.DLQ.Retention, &cfg.DLQ.Retention},
		{"queue.unique_ttl", q.UniqueTTL, &cfg.Queue.UniqueTTL},
		{"queue.completed_retention", q.CompletedRetention, &cfg.Queue.CompletedRetention},
		{"scheduler.tick_interval", fc.Scheduler.TickInterval, &cfg.Scheduler.TickInterval},
		{"scheduler.lock_ttl", fc.Scheduler.LockTTL, &cfg.Scheduler.LockTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Configuration(fmt.Errorf("%s: %w", d.name, err))
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("JOBQ_REDIS_URL"); ok && v != "" {
		cfg.Store.RedisURL = v
	}
	if v, ok := lookup("JOBQ_KEY_PREFIX"); ok && v != "" {
		cfg.Store.KeyPrefix = v
	}
	if v, ok := lookup("JOBQ_QUEUES"); ok && v != "" {
		cfg.Worker.Queues = strings.Split(v, ",")
	}
	if v, ok := lookup("JOBQ_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Configuration(fmt.Errorf("JOBQ_CONCURRENCY: %w", err))
		}
		cfg.Worker.Concurrency = n
	}
	if v, ok := lookup("JOBQ_JOB_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Configuration(fmt.Errorf("JOBQ_JOB_TIMEOUT: %w", err))
		}
		cfg.Worker.JobTimeout = d
	}
	return nil
}
