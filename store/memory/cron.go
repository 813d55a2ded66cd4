package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/cron"
)

// CreateSchedule persists a new schedule.
func (m *Store) CreateSchedule(_ context.Context, e *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schedules[e.Name]; exists {
		return jobq.ErrDuplicateSchedule
	}
	m.schedules[e.Name] = e.Clone()
	return nil
}

// SaveSchedule creates or replaces a schedule.
func (m *Store) SaveSchedule(_ context.Context, e *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[e.Name] = e.Clone()
	return nil
}

// GetSchedule retrieves a schedule by name.
func (m *Store) GetSchedule(_ context.Context, name string) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.schedules[name]
	if !ok {
		return nil, jobq.ErrScheduleNotFound
	}
	return e.Clone(), nil
}

// ListSchedules returns all schedules sorted by name.
func (m *Store) ListSchedules(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*cron.Entry, 0, len(m.schedules))
	for _, e := range m.schedules {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// DeleteSchedule removes a schedule.
func (m *Store) DeleteSchedule(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[name]; !ok {
		return jobq.ErrScheduleNotFound
	}
	delete(m.schedules, name)
	return nil
}

// SetScheduleEnabled toggles a schedule and resets its next fire time.
func (m *Store) SetScheduleEnabled(_ context.Context, name string, enabled bool, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.schedules[name]
	if !ok {
		return jobq.ErrScheduleNotFound
	}
	e.Enabled = enabled
	e.NextRunAt = &next
	e.UpdatedAt = m.now().UTC()
	return nil
}

// AdvanceSchedule compare-and-sets the next fire time.
func (m *Store) AdvanceSchedule(_ context.Context, name string, expected, next time.Time, lastRun *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.schedules[name]
	if !ok {
		return false, jobq.ErrScheduleNotFound
	}
	if e.NextRunAt == nil || !e.NextRunAt.Equal(expected) {
		return false, nil
	}
	e.NextRunAt = &next
	if lastRun != nil {
		t := *lastRun
		e.LastRunAt = &t
	} else {
		e.LastRunAt = nil
	}
	return true, nil
}
