package status

import (
	"time"

	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/job"
)

// QueueStats combines the live size of a queue with its cumulative
// counters.
type QueueStats struct {
	Queue        string `json:"queue"`
	Pending      int64  `json:"pending"`
	Delayed      int64  `json:"delayed"`
	Active       int64  `json:"active"`
	Enqueued     int64  `json:"enqueued"`
	Completed    int64  `json:"completed"`
	Failed       int64  `json:"failed"`
	Retried      int64  `json:"retried"`
	DeadLettered int64  `json:"dead_lettered"`
	Cancelled    int64  `json:"cancelled"`
}

func (s *QueueStats) add(o QueueStats) {
	s.Pending += o.Pending
	s.Delayed += o.Delayed
	s.Active += o.Active
	s.Enqueued += o.Enqueued
	s.Completed += o.Completed
	s.Failed += o.Failed
	s.Retried += o.Retried
	s.DeadLettered += o.DeadLettered
	s.Cancelled += o.Cancelled
}

// WorkerHealth classifies a worker by its heartbeat.
type WorkerHealth string

const (
	// HealthActive means the worker heartbeated within the timeout.
	HealthActive WorkerHealth = "active"
	// HealthStale means the worker missed its heartbeats; its claims will
	// be recovered.
	HealthStale WorkerHealth = "stale"
	// HealthDraining means the worker is shutting down.
	HealthDraining WorkerHealth = "draining"
)

// WorkerStatus is a worker record with its health.
type WorkerStatus struct {
	*cluster.Worker
	Health WorkerHealth `json:"health"`
	// SinceHeartbeat is the time elapsed since the last heartbeat.
	SinceHeartbeat time.Duration `json:"since_heartbeat"`
}

// SearchQuery selects jobs. Zero fields do not filter.
type SearchQuery struct {
	State job.State
	// Type matches the job name exactly.
	Type  string
	Queue string
	// From and To bound the creation time, inclusive.
	From time.Time
	To   time.Time
	// Filter is a CEL boolean expression over the variable job.
	Filter string
	Limit  int
	Offset int
}

// SearchResult is one page of matching jobs.
type SearchResult struct {
	Jobs   []*job.Job `json:"jobs"`
	Total  int        `json:"total"`
	Offset int        `json:"offset"`
	Limit  int        `json:"limit"`
}

// Period is a throughput window.
type Period int

const (
	LastHour Period = iota
	Last24Hours
	Last7Days
)

// Duration returns the window length.
func (p Period) Duration() time.Duration {
	switch p {
	case Last24Hours:
		return 24 * time.Hour
	case Last7Days:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

func (p Period) String() string {
	switch p {
	case Last24Hours:
		return "24h"
	case Last7Days:
		return "7d"
	default:
		return "1h"
	}
}

// ParsePeriod parses "1h", "24h" or "7d".
func ParsePeriod(s string) (Period, bool) {
	switch s {
	case "1h", "hour":
		return LastHour, true
	case "24h", "day":
		return Last24Hours, true
	case "7d", "week":
		return Last7Days, true
	}
	return LastHour, false
}

// Throughput summarises finished work over a period.
type Throughput struct {
	Period       string  `json:"period"`
	Completed    int64   `json:"completed"`
	DeadLettered int64   `json:"dead_lettered"`
	Processed    int64   `json:"processed"`
	PerSecond    float64 `json:"per_second"`
	// SuccessRate is the completed share of processed jobs, in percent.
	// It is 100 when nothing was processed.
	SuccessRate float64 `json:"success_rate"`
}

// Dashboard is the aggregate view over every queue.
type Dashboard struct {
	Totals        QueueStats   `json:"totals"`
	Queues        []QueueStats `json:"queues"`
	DeadLetters   int64        `json:"dead_letters"`
	Workers       int          `json:"workers"`
	ActiveWorkers int          `json:"active_workers"`
	LastHour      Throughput   `json:"last_hour"`
}

// ActivityKind is the kind of a recent activity entry.
type ActivityKind string

const (
	ActivityCompleted    ActivityKind = "completed"
	ActivityDeadLettered ActivityKind = "dead_lettered"
)

// Activity is one recently finished job.
type Activity struct {
	Kind    ActivityKind  `json:"kind"`
	JobID   string        `json:"job_id"`
	JobName string        `json:"job_name"`
	Queue   string        `json:"queue"`
	At      time.Time     `json:"at"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
	Error   string        `json:"error,omitempty"`
}
