package cron

import (
	"context"
	"time"
)

// Store defines the persistence contract for schedules.
type Store interface {
	// CreateSchedule persists a new entry, including its NextRunAt.
	// Returns jobq.ErrDuplicateSchedule if the name exists.
	CreateSchedule(ctx context.Context, e *Entry) error

	// SaveSchedule creates or replaces an entry.
	SaveSchedule(ctx context.Context, e *Entry) error

	// GetSchedule retrieves an entry by name.
	GetSchedule(ctx context.Context, name string) (*Entry, error)

	// ListSchedules returns all entries sorted by name.
	ListSchedules(ctx context.Context) ([]*Entry, error)

	// DeleteSchedule removes an entry.
	DeleteSchedule(ctx context.Context, name string) error

	// SetScheduleEnabled toggles an entry and resets its next fire time.
	SetScheduleEnabled(ctx context.Context, name string, enabled bool, next time.Time) error

	// AdvanceSchedule moves the entry's next fire time from expected to
	// next and sets its last run (nil clears it), only if the stored next
	// fire time still equals expected. Reports whether it did.
	AdvanceSchedule(ctx context.Context, name string, expected, next time.Time, lastRun *time.Time) (bool, error)
}
