package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/id"
)

// workerRecord is the encoded form of cluster.Worker. IDs are kept as
// strings so every codec round-trips them.
type workerRecord struct {
	ID          string    `json:"id" msgpack:"id"`
	Hostname    string    `json:"hostname" msgpack:"hostname"`
	PID         int       `json:"pid" msgpack:"pid"`
	Queues      []string  `json:"queues" msgpack:"queues"`
	Concurrency int       `json:"concurrency" msgpack:"concurrency"`
	State       string    `json:"state" msgpack:"state"`
	ActiveJobs  []string  `json:"active_jobs,omitempty" msgpack:"active_jobs,omitempty"`
	StartedAt   time.Time `json:"started_at" msgpack:"started_at"`
	LastSeen    time.Time `json:"last_seen" msgpack:"last_seen"`
}

func (s *Store) encodeWorker(w *cluster.Worker) ([]byte, error) {
	rec := workerRecord{
		ID:          w.ID.String(),
		Hostname:    w.Hostname,
		PID:         w.PID,
		Queues:      w.Queues,
		Concurrency: w.Concurrency,
		State:       string(w.State),
		StartedAt:   w.StartedAt.UTC(),
		LastSeen:    w.LastSeen.UTC(),
	}
	for _, j := range w.ActiveJobs {
		rec.ActiveJobs = append(rec.ActiveJobs, j.String())
	}
	b, err := s.codec.Marshal(rec)
	if err != nil {
		return nil, jobq.Serialization(fmt.Errorf("jobq/redis: encode worker %s: %w", w.ID, err))
	}
	return b, nil
}

func (s *Store) decodeWorker(raw string) (*cluster.Worker, error) {
	var rec workerRecord
	if err := s.codec.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, jobq.Serialization(fmt.Errorf("jobq/redis: decode worker: %w", err))
	}
	wID, err := id.ParseWorkerID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("jobq/redis: parse worker id: %w", err)
	}
	w := &cluster.Worker{
		ID:          wID,
		Hostname:    rec.Hostname,
		PID:         rec.PID,
		Queues:      rec.Queues,
		Concurrency: rec.Concurrency,
		State:       cluster.WorkerState(rec.State),
		StartedAt:   rec.StartedAt.UTC(),
		LastSeen:    rec.LastSeen.UTC(),
	}
	for _, v := range rec.ActiveJobs {
		jID, err := id.ParseJobID(v)
		if err != nil {
			continue
		}
		w.ActiveJobs = append(w.ActiveJobs, jID)
	}
	return w, nil
}

// RegisterWorker adds or replaces a worker record. The worker counts as
// alive for the store's worker TTL until it heartbeats.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	return s.saveWorker(ctx, "register worker", w, s.workerTTL)
}

// HeartbeatWorker refreshes a worker record and extends its liveness key
// by ttl.
func (s *Store) HeartbeatWorker(ctx context.Context, w *cluster.Worker, ttl time.Duration) error {
	return s.saveWorker(ctx, "heartbeat worker", w, ttl)
}

func (s *Store) saveWorker(ctx context.Context, op string, w *cluster.Worker, ttl time.Duration) error {
	raw, err := s.encodeWorker(w)
	if err != nil {
		return err
	}
	wID := w.ID.String()
	return s.do(ctx, op, func() error {
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, s.keys.workers(), wID, raw)
		pipe.Set(ctx, s.keys.workerAlive(wID), w.LastSeen.UTC().Format(time.RFC3339Nano), ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// DeregisterWorker removes a worker.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()
	var del *goredis.IntCmd
	err := s.do(ctx, "deregister worker", func() error {
		pipe := s.client.TxPipeline()
		del = pipe.HDel(ctx, s.keys.workers(), wID)
		pipe.Del(ctx, s.keys.workerAlive(wID))
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return jobq.ErrWorkerNotFound
	}
	return nil
}

// GetWorker retrieves a worker record.
func (s *Store) GetWorker(ctx context.Context, workerID id.WorkerID) (*cluster.Worker, error) {
	var raw string
	err := s.do(ctx, "get worker", func() error {
		var err error
		raw, err = s.client.HGet(ctx, s.keys.workers(), workerID.String()).Result()
		return err
	})
	if errors.Is(err, goredis.Nil) {
		return nil, jobq.ErrWorkerNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.decodeWorker(raw)
}

// ListWorkers returns every registered worker, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	var vals map[string]string
	err := s.do(ctx, "list workers", func() error {
		var err error
		vals, err = s.client.HGetAll(ctx, s.keys.workers()).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	result := make([]*cluster.Worker, 0, len(vals))
	for _, raw := range vals {
		w, err := s.decodeWorker(raw)
		if err != nil {
			s.logger.Warn("skipping undecodable worker record", slog.String("error", err.Error()))
			continue
		}
		result = append(result, w)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].StartedAt.Before(result[k].StartedAt)
	})
	return result, nil
}

// WorkerAlive reports whether the worker's liveness key is still set.
// The key's TTL, set by the last heartbeat, stands in for timeout.
func (s *Store) WorkerAlive(ctx context.Context, workerID id.WorkerID, _ time.Duration) (bool, error) {
	var n int64
	err := s.do(ctx, "worker alive", func() error {
		var err error
		n, err = s.client.Exists(ctx, s.keys.workerAlive(workerID.String())).Result()
		return err
	})
	return n == 1, err
}

// PruneWorkers removes records last seen before the cutoff.
func (s *Store) PruneWorkers(ctx context.Context, before time.Time) (int64, error) {
	workers, err := s.ListWorkers(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, w := range workers {
		if !w.LastSeen.Before(before) {
			continue
		}
		if err := s.DeregisterWorker(ctx, w.ID); err != nil {
			if errors.Is(err, jobq.ErrWorkerNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// AcquireLeadership takes the lease if nobody holds it.
func (s *Store) AcquireLeadership(ctx context.Context, owner id.WorkerID, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.do(ctx, "acquire leadership", func() error {
		var err error
		ok, err = s.client.SetNX(ctx, s.keys.schedulerLock(), owner.String(), ttl).Result()
		return err
	})
	return ok, err
}

// RenewLeadership extends the lease if owner still holds it.
func (s *Store) RenewLeadership(ctx context.Context, owner id.WorkerID, ttl time.Duration) (bool, error) {
	var n int64
	err := s.do(ctx, "renew leadership", func() error {
		var err error
		n, err = renewLockScript.Run(ctx, s.client, []string{s.keys.schedulerLock()},
			owner.String(), ttl.Milliseconds()).Int64()
		return err
	})
	return n == 1, err
}

// ReleaseLeadership drops the lease if owner holds it.
func (s *Store) ReleaseLeadership(ctx context.Context, owner id.WorkerID) error {
	return s.do(ctx, "release leadership", func() error {
		return releaseLockScript.Run(ctx, s.client, []string{s.keys.schedulerLock()}, owner.String()).Err()
	})
}

// GetLeader returns the current lease holder, or the nil ID.
func (s *Store) GetLeader(ctx context.Context) (id.WorkerID, error) {
	var v string
	err := s.do(ctx, "get leader", func() error {
		var err error
		v, err = s.client.Get(ctx, s.keys.schedulerLock()).Result()
		return err
	})
	if errors.Is(err, goredis.Nil) {
		return id.Nil, nil
	}
	if err != nil {
		return id.Nil, err
	}
	wID, err := id.ParseWorkerID(v)
	if err != nil {
		return id.Nil, fmt.Errorf("jobq/redis: parse leader: %w", err)
	}
	return wID, nil
}
