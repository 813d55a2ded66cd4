package redis

import (
	"context"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/status"
)

// scanPage is how many jobs ScanJobs loads per round trip.
const scanPage = 100

// ListQueues returns every queue that has seen an enqueue.
func (s *Store) ListQueues(ctx context.Context) ([]string, error) {
	var out []string
	err := s.do(ctx, "list queues", func() error {
		var err error
		out, err = s.client.SMembers(ctx, s.keys.queues()).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// QueueCounts returns the live size of a queue.
func (s *Store) QueueCounts(ctx context.Context, queue string) (status.Counts, error) {
	var (
		tiers   []*goredis.IntCmd
		delayed *goredis.IntCmd
		active  *goredis.IntCmd
	)
	err := s.do(ctx, "queue counts", func() error {
		pipe := s.client.Pipeline()
		tiers = tiers[:0]
		for _, key := range s.keys.tierKeys(queue) {
			tiers = append(tiers, pipe.ZCard(ctx, key))
		}
		delayed = pipe.ZCard(ctx, s.keys.queueDelayed(queue))
		active = pipe.SCard(ctx, s.keys.queueActive(queue))
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return status.Counts{}, err
	}

	c := status.Counts{Delayed: delayed.Val(), Active: active.Val()}
	for _, cmd := range tiers {
		c.Pending += cmd.Val()
	}
	return c, nil
}

// QueueCounters returns the queue's cumulative counters.
func (s *Store) QueueCounters(ctx context.Context, queue string) (map[string]int64, error) {
	var vals map[string]string
	err := s.do(ctx, "queue counters", func() error {
		var err error
		vals, err = s.client.HGetAll(ctx, s.keys.stats(queue)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(vals))
	for k, v := range vals {
		n, _ := strconv.ParseInt(v, 10, 64) //nolint:errcheck // counters are only written by HINCRBY
		out[k] = n
	}
	return out, nil
}

// ScanJobs visits every job, newest first, one page at a time.
func (s *Store) ScanJobs(ctx context.Context, fn func(*job.Job) bool) error {
	for start := int64(0); ; start += scanPage {
		ids, err := s.revRange(ctx, "scan jobs", s.keys.jobs(), start, start+scanPage-1)
		if err != nil {
			return err
		}
		jobs, err := s.getJobs(ctx, ids)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			if !fn(j) {
				return nil
			}
		}
		if len(ids) < scanPage {
			return nil
		}
	}
}

func (s *Store) countSince(ctx context.Context, op, key string, since time.Time) (int64, error) {
	var n int64
	err := s.do(ctx, op, func() error {
		var err error
		n, err = s.client.ZCount(ctx, key, ms(since), "+inf").Result()
		return err
	})
	return n, err
}

// CountCompletedSince counts jobs completed at or after since.
func (s *Store) CountCompletedSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince(ctx, "count completed", s.keys.completed(), since)
}

// CountDeadLetteredSince counts jobs dead-lettered at or after since.
func (s *Store) CountDeadLetteredSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince(ctx, "count dead-lettered", s.keys.dlq(), since)
}

func (s *Store) recent(ctx context.Context, op, key string, limit int) ([]*job.Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.revRange(ctx, op, key, 0, stop)
	if err != nil {
		return nil, err
	}
	return s.getJobs(ctx, ids)
}

// RecentCompleted returns the latest completed jobs.
func (s *Store) RecentCompleted(ctx context.Context, limit int) ([]*job.Job, error) {
	return s.recent(ctx, "recent completed", s.keys.completed(), limit)
}

// RecentDeadLettered returns the latest dead-lettered jobs.
func (s *Store) RecentDeadLettered(ctx context.Context, limit int) ([]*job.Job, error) {
	return s.recent(ctx, "recent dead-lettered", s.keys.dlq(), limit)
}
