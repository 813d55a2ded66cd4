package cron

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/job"
)

// Entry is a recurring job definition. Exactly one of Schedule and
// Interval is set.
type Entry struct {
	Name string `json:"name" msgpack:"name"`

	// Schedule is a 5-field cron expression or a descriptor such as
	// "@hourly" or "@every 30s".
	Schedule string `json:"schedule,omitempty" msgpack:"schedule,omitempty"`
	// Interval fires the entry at a fixed period.
	Interval time.Duration `json:"interval,omitempty" msgpack:"interval,omitempty"`

	JobName    string       `json:"job_name" msgpack:"job_name"`
	Queue      string       `json:"queue,omitempty" msgpack:"queue,omitempty"`
	Priority   job.Priority `json:"priority" msgpack:"priority"`
	MaxRetries int          `json:"max_retries,omitempty" msgpack:"max_retries,omitempty"`
	Payload    []byte       `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Enabled    bool         `json:"enabled" msgpack:"enabled"`

	LastRunAt *time.Time `json:"last_run_at,omitempty" msgpack:"-"`
	NextRunAt *time.Time `json:"next_run_at,omitempty" msgpack:"-"`

	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// Validate checks the entry is well formed.
func (e *Entry) Validate() error {
	switch {
	case e.Name == "":
		return jobq.Configuration(errors.New("schedule name is required"))
	case e.JobName == "":
		return jobq.Configuration(fmt.Errorf("schedule %q: job name is required", e.Name))
	case e.Schedule == "" && e.Interval <= 0:
		return jobq.Configuration(fmt.Errorf("schedule %q: cron expression or interval is required", e.Name))
	case e.Schedule != "" && e.Interval > 0:
		return jobq.Configuration(fmt.Errorf("schedule %q: set a cron expression or an interval, not both", e.Name))
	}
	if e.Schedule != "" {
		if _, err := ParseSchedule(e.Schedule); err != nil {
			return jobq.Configuration(fmt.Errorf("schedule %q: %w", e.Name, err))
		}
	}
	return nil
}

// Next returns the first fire time strictly after t.
func (e *Entry) Next(t time.Time) (time.Time, error) {
	if e.Interval > 0 {
		return t.Add(e.Interval), nil
	}
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

// Clone returns a copy that shares nothing mutable with e.
func (e *Entry) Clone() *Entry {
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	if e.LastRunAt != nil {
		t := *e.LastRunAt
		cp.LastRunAt = &t
	}
	if e.NextRunAt != nil {
		t := *e.NextRunAt
		cp.NextRunAt = &t
	}
	return &cp
}

// Definition is a typed cron definition. T is the payload type
// (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this schedule.
	Name string

	// Schedule is a cron expression (e.g., "*/5 * * * *" or "@every 30s").
	Schedule string

	// Interval is used instead of Schedule for fixed-period entries.
	Interval time.Duration

	// JobName is the name of the job to enqueue on each tick.
	JobName string

	// Payload is the payload to enqueue with the job.
	Payload T

	// Queue overrides the default job queue (optional).
	Queue string

	Priority   job.Priority
	MaxRetries int
}
