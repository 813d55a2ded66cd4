package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/jobq/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be claimed, either in its
	// priority tier or in the delayed set until it is due.
	StatePending State = "pending"
	// StateActive means a worker has claimed the job and is executing it.
	StateActive State = "active"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateDeadLettered means the job failed permanently.
	StateDeadLettered State = "dead_lettered"
	// StateCancelled means the job was cancelled before or during execution.
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions happen automatically.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDeadLettered || s == StateCancelled
}

// Priority is a job's tier. Higher values are drained first.
type Priority int

const (
	PriorityLow      Priority = -10
	PriorityNormal   Priority = 0
	PriorityHigh     Priority = 10
	PriorityCritical Priority = 20
)

// Tiers lists every priority tier in drain order.
var Tiers = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// Tier snaps an arbitrary priority value onto its tier.
func (p Priority) Tier() Priority {
	switch {
	case p >= PriorityCritical:
		return PriorityCritical
	case p >= PriorityHigh:
		return PriorityHigh
	case p > PriorityLow:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

func (p Priority) String() string {
	switch p.Tier() {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// ParsePriority parses a tier name.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityNormal, fmt.Errorf("job: unknown priority %q", s)
}

// maxFailureHistory bounds Job.Failures.
const maxFailureHistory = 20

// Failure records one failed attempt.
type Failure struct {
	Attempt int       `json:"attempt" msgpack:"attempt"`
	Kind    string    `json:"kind" msgpack:"kind"`
	Message string    `json:"message" msgpack:"message"`
	At      time.Time `json:"at" msgpack:"at"`
}

// Job is the envelope for a unit of work.
type Job struct {
	ID       id.JobID `json:"id"`
	Name     string   `json:"name"`
	Queue    string   `json:"queue"`
	Payload  []byte   `json:"payload"`
	Priority Priority `json:"priority"`
	State    State    `json:"state"`

	// Attempts counts how many times the job has been claimed.
	Attempts int `json:"attempts"`
	// MaxRetries caps Attempts. A retryable failure on the last allowed
	// attempt dead-letters the job. UnsetRetries defers to the retry
	// policy of the job type.
	MaxRetries int `json:"max_retries"`

	UniqueKey string        `json:"unique_key,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	WorkerID  id.WorkerID   `json:"worker_id,omitempty"`

	LastError     string    `json:"last_error,omitempty"`
	LastErrorKind string    `json:"last_error_kind,omitempty"`
	Failures      []Failure `json:"failures,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	// CompletedAt is set when the job reaches any terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RecordFailure appends a failure for the current attempt and updates the
// last error fields. Only the most recent failures are kept.
func (j *Job) RecordFailure(kind, message string, at time.Time) {
	j.LastError = message
	j.LastErrorKind = kind
	j.Failures = append(j.Failures, Failure{
		Attempt: j.Attempts,
		Kind:    kind,
		Message: message,
		At:      at,
	})
	if n := len(j.Failures); n > maxFailureHistory {
		j.Failures = append([]Failure(nil), j.Failures[n-maxFailureHistory:]...)
	}
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Payload = append([]byte(nil), j.Payload...)
	cp.Failures = append([]Failure(nil), j.Failures...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
