package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/dlq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// ListDLQ returns entries newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	// Without a queue filter the page can be cut server-side.
	start, stop := int64(0), int64(-1)
	if opts.Queue == "" {
		start = int64(opts.Offset)
		if opts.Limit > 0 {
			stop = start + int64(opts.Limit) - 1
		}
	}
	ids, err := s.revRange(ctx, "list dlq", s.keys.dlq(), start, stop)
	if err != nil {
		return nil, err
	}
	jobs, err := s.getJobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]*dlq.Entry, 0, len(jobs))
	for _, j := range jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		result = append(result, dlq.FromJob(j))
	}
	if opts.Queue == "" {
		return result, nil
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// GetDLQ retrieves the entry of a dead-lettered job.
func (s *Store) GetDLQ(ctx context.Context, jobID id.JobID) (*dlq.Entry, error) {
	if err := s.requireDead(ctx, jobID); err != nil {
		return nil, err
	}
	j, err := s.GetJob(ctx, jobID)
	if errors.Is(err, jobq.ErrJobNotFound) {
		return nil, jobq.ErrDLQEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return dlq.FromJob(j), nil
}

// RetryDLQ moves a dead-lettered job back to pending and takes its
// unique key back.
func (s *Store) RetryDLQ(ctx context.Context, jobID id.JobID, now time.Time, uniqueTTL time.Duration) (*job.Job, error) {
	j, err := s.GetJob(ctx, jobID)
	if errors.Is(err, jobq.ErrJobNotFound) {
		return nil, jobq.ErrDLQEntryNotFound
	}
	if err != nil {
		return nil, err
	}

	keys := []string{
		s.keys.dlq(),
		s.keys.job(jobID.String()),
		s.keys.tier(j.Queue, j.Priority),
		s.keys.unique(j.UniqueKey),
	}
	args := []any{jobID.String(), ts(now), ms(now), flag(j.UniqueKey != ""), uniqueTTL.Milliseconds(), s.keys.p}
	var ok int64
	err = s.do(ctx, "retry dlq", func() error {
		var err error
		ok, err = retryDLQScript.Run(ctx, s.client, keys, args...).Int64()
		return err
	})
	if err != nil {
		return nil, err
	}
	switch ok {
	case 0:
		return nil, jobq.ErrDLQEntryNotFound
	case -1:
		return nil, fmt.Errorf("%w: unique key %q is held by another job", jobq.ErrInvalidState, j.UniqueKey)
	}
	return s.GetJob(ctx, jobID)
}

// DeleteDLQ removes a dead-lettered job entirely.
func (s *Store) DeleteDLQ(ctx context.Context, jobID id.JobID) error {
	var n int64
	err := s.do(ctx, "delete dlq", func() error {
		var err error
		n, err = dropScript.Run(ctx, s.client, []string{s.keys.dlq()}, s.keys.p, jobID.String()).Int64()
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return jobq.ErrDLQEntryNotFound
	}
	return nil
}

// PurgeDLQ removes every dead-lettered job.
func (s *Store) PurgeDLQ(ctx context.Context) (int64, error) {
	ids, err := s.revRange(ctx, "purge dlq", s.keys.dlq(), 0, -1)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.keys.p)
	for _, jID := range ids {
		args = append(args, jID)
	}
	var n int64
	err = s.do(ctx, "purge dlq", func() error {
		var err error
		n, err = dropScript.Run(ctx, s.client, []string{s.keys.dlq()}, args...).Int64()
		return err
	})
	return n, err
}

// PurgeDLQBefore removes entries dead-lettered before the cutoff.
func (s *Store) PurgeDLQBefore(ctx context.Context, before time.Time) (int64, error) {
	if before.IsZero() {
		return 0, nil
	}
	return s.trim(ctx, "purge dlq before", s.keys.dlq(), before, 0)
}

// TrimDLQ removes the oldest entries beyond maxSize.
func (s *Store) TrimDLQ(ctx context.Context, maxSize int64) (int64, error) {
	if maxSize <= 0 {
		return 0, nil
	}
	return s.trim(ctx, "trim dlq", s.keys.dlq(), time.Time{}, maxSize)
}

// CountDLQ returns the number of dead-lettered jobs.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	err := s.do(ctx, "count dlq", func() error {
		var err error
		n, err = s.client.ZCard(ctx, s.keys.dlq()).Result()
		return err
	})
	return n, err
}

func (s *Store) requireDead(ctx context.Context, jobID id.JobID) error {
	err := s.do(ctx, "get dlq", func() error {
		return s.client.ZScore(ctx, s.keys.dlq(), jobID.String()).Err()
	})
	if errors.Is(err, goredis.Nil) {
		return jobq.ErrDLQEntryNotFound
	}
	return err
}

// revRange lists a sorted set's members highest score first.
func (s *Store) revRange(ctx context.Context, op, key string, start, stop int64) ([]string, error) {
	var ids []string
	err := s.do(ctx, op, func() error {
		var err error
		ids, err = s.client.ZRevRange(ctx, key, start, stop).Result()
		return err
	})
	return ids, err
}
