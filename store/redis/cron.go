package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/cron"
)

// Schedule records hold the static definition. Fire times live in
// separate hashes, keyed by schedule name and stored as Unix nanoseconds,
// so AdvanceSchedule can compare-and-set them without decoding records.

func (s *Store) scheduleKeys() []string {
	return []string{s.keys.scheduled(), s.keys.scheduledNext(), s.keys.scheduledLast()}
}

func optNanos(t *time.Time) string {
	if t == nil {
		return ""
	}
	return nanos(*t)
}

// CreateSchedule persists a new schedule.
func (s *Store) CreateSchedule(ctx context.Context, e *cron.Entry) error {
	raw, err := s.codec.Marshal(e)
	if err != nil {
		return jobq.Serialization(fmt.Errorf("jobq/redis: encode schedule %s: %w", e.Name, err))
	}
	var ok int64
	err = s.do(ctx, "create schedule", func() error {
		var err error
		ok, err = createScheduleScript.Run(ctx, s.client, s.scheduleKeys(),
			e.Name, string(raw), optNanos(e.NextRunAt), optNanos(e.LastRunAt)).Int64()
		return err
	})
	if err != nil {
		return err
	}
	if ok == 0 {
		return jobq.ErrDuplicateSchedule
	}
	return nil
}

// SaveSchedule creates or replaces a schedule.
func (s *Store) SaveSchedule(ctx context.Context, e *cron.Entry) error {
	raw, err := s.codec.Marshal(e)
	if err != nil {
		return jobq.Serialization(fmt.Errorf("jobq/redis: encode schedule %s: %w", e.Name, err))
	}
	return s.do(ctx, "save schedule", func() error {
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, s.keys.scheduled(), e.Name, raw)
		if e.NextRunAt != nil {
			pipe.HSet(ctx, s.keys.scheduledNext(), e.Name, nanos(*e.NextRunAt))
		} else {
			pipe.HDel(ctx, s.keys.scheduledNext(), e.Name)
		}
		if e.LastRunAt != nil {
			pipe.HSet(ctx, s.keys.scheduledLast(), e.Name, nanos(*e.LastRunAt))
		} else {
			pipe.HDel(ctx, s.keys.scheduledLast(), e.Name)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// GetSchedule retrieves a schedule by name.
func (s *Store) GetSchedule(ctx context.Context, name string) (*cron.Entry, error) {
	var raw, next, last *goredis.StringCmd
	err := s.do(ctx, "get schedule", func() error {
		pipe := s.client.Pipeline()
		raw = pipe.HGet(ctx, s.keys.scheduled(), name)
		next = pipe.HGet(ctx, s.keys.scheduledNext(), name)
		last = pipe.HGet(ctx, s.keys.scheduledLast(), name)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, err
	}
	if errors.Is(raw.Err(), goredis.Nil) {
		return nil, jobq.ErrScheduleNotFound
	}
	return s.decodeSchedule(name, raw.Val(), next.Val(), last.Val())
}

// ListSchedules returns all schedules sorted by name.
func (s *Store) ListSchedules(ctx context.Context) ([]*cron.Entry, error) {
	var raw, next, last *goredis.MapStringStringCmd
	err := s.do(ctx, "list schedules", func() error {
		pipe := s.client.Pipeline()
		raw = pipe.HGetAll(ctx, s.keys.scheduled())
		next = pipe.HGetAll(ctx, s.keys.scheduledNext())
		last = pipe.HGetAll(ctx, s.keys.scheduledLast())
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*cron.Entry, 0, len(raw.Val()))
	for name, v := range raw.Val() {
		e, err := s.decodeSchedule(name, v, next.Val()[name], last.Val()[name])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, name string) error {
	var del *goredis.IntCmd
	err := s.do(ctx, "delete schedule", func() error {
		pipe := s.client.TxPipeline()
		del = pipe.HDel(ctx, s.keys.scheduled(), name)
		pipe.HDel(ctx, s.keys.scheduledNext(), name)
		pipe.HDel(ctx, s.keys.scheduledLast(), name)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return jobq.ErrScheduleNotFound
	}
	return nil
}

// SetScheduleEnabled toggles a schedule and resets its next fire time.
func (s *Store) SetScheduleEnabled(ctx context.Context, name string, enabled bool, next time.Time) error {
	e, err := s.GetSchedule(ctx, name)
	if err != nil {
		return err
	}
	e.Enabled = enabled
	e.NextRunAt = &next
	e.UpdatedAt = time.Now().UTC()
	return s.SaveSchedule(ctx, e)
}

// AdvanceSchedule compare-and-sets the next fire time.
func (s *Store) AdvanceSchedule(ctx context.Context, name string, expected, next time.Time, lastRun *time.Time) (bool, error) {
	var res int64
	err := s.do(ctx, "advance schedule", func() error {
		var err error
		res, err = advanceScheduleScript.Run(ctx, s.client, s.scheduleKeys(),
			name, nanos(expected), nanos(next), optNanos(lastRun)).Int64()
		return err
	})
	if err != nil {
		return false, err
	}
	if res < 0 {
		return false, jobq.ErrScheduleNotFound
	}
	return res == 1, nil
}

func (s *Store) decodeSchedule(name, raw, next, last string) (*cron.Entry, error) {
	var e cron.Entry
	if err := s.codec.Unmarshal([]byte(raw), &e); err != nil {
		return nil, jobq.Serialization(fmt.Errorf("jobq/redis: decode schedule %s: %w", name, err))
	}
	e.NextRunAt, e.LastRunAt = nil, nil
	if next != "" {
		t, err := fromNanos(next)
		if err != nil {
			return nil, fmt.Errorf("jobq/redis: parse next run of %s: %w", name, err)
		}
		e.NextRunAt = &t
	}
	if last != "" {
		t, err := fromNanos(last)
		if err != nil {
			return nil, fmt.Errorf("jobq/redis: parse last run of %s: %w", name, err)
		}
		e.LastRunAt = &t
	}
	return &e, nil
}
