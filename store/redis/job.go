package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// EnqueueJob persists a pending job, honouring its unique key and the
// queue's pending bound.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job, opts job.EnqueueOpts) (id.JobID, error) {
	fields, err := s.jobFields(j)
	if err != nil {
		return id.Nil, err
	}
	jID := j.ID.String()
	keys := []string{
		s.keys.job(jID),
		s.keys.unique(j.UniqueKey),
		s.keys.queues(),
		s.keys.tier(j.Queue, j.Priority),
		s.keys.queueDelayed(j.Queue),
		s.keys.delayed(),
		s.keys.stats(j.Queue),
		s.keys.jobs(),
	}
	keys = append(keys, s.keys.tierKeys(j.Queue)...)
	args := []any{
		jID,
		j.Queue,
		ms(j.ScheduledAt),
		flag(j.ScheduledAt.After(opts.Now)),
		opts.UniqueHold(j.ScheduledAt).Milliseconds(),
		opts.MaxPending,
		ms(j.CreatedAt),
		flag(j.UniqueKey != ""),
		s.keys.p,
	}
	args = append(args, fields...)

	var res []any
	err = s.do(ctx, "enqueue job", func() error {
		var err error
		res, err = enqueueScript.Run(ctx, s.client, keys, args...).Slice()
		return err
	})
	if err != nil {
		return id.Nil, err
	}
	code, ref, err := codeAndString(res)
	if err != nil {
		return id.Nil, err
	}
	switch code {
	case 0:
		return j.ID, nil
	case 1:
		holder, err := id.ParseJobID(ref)
		if err != nil {
			return id.Nil, fmt.Errorf("jobq/redis: parse unique holder: %w", err)
		}
		return holder, nil
	case 2:
		return id.Nil, jobq.ErrJobAlreadyExists
	default:
		return id.Nil, fmt.Errorf("%w: %s", jobq.ErrQueueFull, j.Queue)
	}
}

// ClaimJob takes the head of the first non-empty tier in req.Order.
func (s *Store) ClaimJob(ctx context.Context, req job.ClaimRequest) (*job.Claim, error) {
	keys := append([]string{
		s.keys.active(),
		s.keys.queueActive(req.Queue),
		s.keys.stats(req.Queue),
	}, s.keys.tierKeys(req.Queue)...)
	args := []any{req.WorkerID.String(), ts(req.Now), s.keys.p}
	for _, t := range req.Order {
		if i := tierIndex(t); i > 0 {
			args = append(args, i)
		}
	}

	var res []any
	err := s.do(ctx, "claim job", func() error {
		var err error
		res, err = claimScript.Run(ctx, s.client, keys, args...).Slice()
		return err
	})
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 5 {
		return nil, fmt.Errorf("jobq/redis: claim job: unexpected reply %v", res)
	}

	jID, _ := res[0].(string)
	score, err := strconv.ParseFloat(fmt.Sprint(res[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("jobq/redis: claim job: parse score: %w", err)
	}
	idx, _ := res[2].(int64)
	var waiting []job.Priority
	if ws, ok := res[3].([]any); ok {
		for _, w := range ws {
			if i, ok := w.(int64); ok {
				waiting = append(waiting, job.Tiers[i-1])
			}
		}
	}

	fields, _ := res[4].([]any)
	vals := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		vals[fmt.Sprint(fields[i])] = fmt.Sprint(fields[i+1])
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: claimed %s", jobq.ErrJobNotFound, jID)
	}
	j, err := s.mapToJob(vals)
	if err != nil {
		return nil, fmt.Errorf("jobq/redis: claim job %s: %w", jID, err)
	}
	return &job.Claim{
		Job:        j,
		Tier:       job.Tiers[idx-1],
		Waiting:    waiting,
		EnqueuedAt: fromMS(score),
	}, nil
}

// RequeueJob returns an active job to pending.
func (s *Store) RequeueJob(ctx context.Context, j *job.Job, workerID id.WorkerID, now time.Time, counters ...string) error {
	fields, err := s.jobFields(j)
	if err != nil {
		return err
	}
	delayed := j.ScheduledAt.After(now)
	target := s.keys.tier(j.Queue, j.Priority)
	if delayed {
		target = s.keys.queueDelayed(j.Queue)
	}
	keys := []string{
		s.keys.active(),
		s.keys.queueActive(j.Queue),
		s.keys.stats(j.Queue),
		s.keys.job(j.ID.String()),
		target,
		s.keys.delayed(),
	}
	args := []any{j.ID.String(), workerID.String(), ms(j.ScheduledAt), flag(delayed), len(counters)}
	for _, c := range counters {
		args = append(args, c)
	}
	args = append(args, fields...)

	var ok int64
	err = s.do(ctx, "requeue job", func() error {
		var err error
		ok, err = requeueScript.Run(ctx, s.client, keys, args...).Int64()
		return err
	})
	if err != nil {
		return err
	}
	if ok == 0 {
		return fmt.Errorf("%w: job %s is not claimed by %s", jobq.ErrInvalidState, j.ID, workerID)
	}
	return nil
}

// FinishJob settles an active job in the terminal state set on j.
func (s *Store) FinishJob(ctx context.Context, j *job.Job, workerID id.WorkerID) error {
	if !j.State.Terminal() {
		return fmt.Errorf("%w: cannot finish job in state %s", jobq.ErrInvalidState, j.State)
	}
	fields, err := s.jobFields(j)
	if err != nil {
		return err
	}
	at := j.UpdatedAt
	if j.CompletedAt != nil {
		at = *j.CompletedAt
	}
	log := s.keys.completed()
	switch j.State {
	case job.StateDeadLettered:
		log = s.keys.dlq()
	case job.StateCancelled:
		log = s.keys.cancelled()
	}
	counters := job.FinishCounters(j.State)

	keys := []string{
		s.keys.active(),
		s.keys.queueActive(j.Queue),
		s.keys.stats(j.Queue),
		s.keys.job(j.ID.String()),
		log,
		s.keys.unique(j.UniqueKey),
	}
	args := []any{j.ID.String(), workerID.String(), ms(at), flag(j.UniqueKey != ""), len(counters)}
	for _, c := range counters {
		args = append(args, c)
	}
	args = append(args, fields...)

	var ok int64
	err = s.do(ctx, "finish job", func() error {
		var err error
		ok, err = finishScript.Run(ctx, s.client, keys, args...).Int64()
		return err
	})
	if err != nil {
		return err
	}
	if ok == 0 {
		return fmt.Errorf("%w: job %s is not claimed by %s", jobq.ErrInvalidState, j.ID, workerID)
	}
	return nil
}

// CancelJob cancels a pending job.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (bool, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	keys := []string{
		s.keys.job(jobID.String()),
		s.keys.tier(j.Queue, j.Priority),
		s.keys.queueDelayed(j.Queue),
		s.keys.delayed(),
		s.keys.stats(j.Queue),
		s.keys.unique(j.UniqueKey),
		s.keys.cancelled(),
	}
	var code int64
	err = s.do(ctx, "cancel job", func() error {
		var err error
		code, err = cancelScript.Run(ctx, s.client, keys, jobID.String(), ts(now), flag(j.UniqueKey != ""), ms(now)).Int64()
		return err
	})
	if err != nil {
		return false, err
	}
	switch code {
	case -2:
		return false, jobq.ErrJobNotFound
	case -1:
		return false, fmt.Errorf("%w: job %s is being executed", jobq.ErrInvalidState, jobID)
	case 0:
		return false, nil
	}
	return true, nil
}

// PromoteDueJobs moves due delayed jobs into their tiers, oldest first.
func (s *Store) PromoteDueJobs(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	var n int64
	err := s.do(ctx, "promote due jobs", func() error {
		var err error
		n, err = promoteScript.Run(ctx, s.client, []string{s.keys.delayed()}, ms(now), limit, s.keys.p).Int64()
		return err
	})
	return int(n), err
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJob(ctx, jobID.String())
}

func (s *Store) getJob(ctx context.Context, jID string) (*job.Job, error) {
	var vals map[string]string
	err := s.do(ctx, "get job", func() error {
		var err error
		vals, err = s.client.HGetAll(ctx, s.keys.job(jID)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, jobq.ErrJobNotFound
	}
	return s.mapToJob(vals)
}

// getJobs loads jobs in order, skipping any that vanished meanwhile.
func (s *Store) getJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var cmds []*goredis.MapStringStringCmd
	err := s.do(ctx, "get jobs", func() error {
		pipe := s.client.Pipeline()
		cmds = make([]*goredis.MapStringStringCmd, len(ids))
		for i, jID := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.keys.job(jID))
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		j, err := s.mapToJob(vals)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// ActiveJobs lists every claimed job and its claimant.
func (s *Store) ActiveJobs(ctx context.Context) ([]job.ActiveEntry, error) {
	var vals map[string]string
	err := s.do(ctx, "active jobs", func() error {
		var err error
		vals, err = s.client.HGetAll(ctx, s.keys.active()).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]job.ActiveEntry, 0, len(vals))
	for jID, wID := range vals {
		jobID, err := id.ParseJobID(jID)
		if err != nil {
			s.logger.Warn("skipping malformed active entry", slog.String("job_id", jID))
			continue
		}
		workerID, _ := id.ParseWorkerID(wID) //nolint:errcheck // a garbled claimant is never alive, so the job is recovered
		out = append(out, job.ActiveEntry{JobID: jobID, WorkerID: workerID})
	}
	return out, nil
}

// PurgeQueue deletes every pending and delayed job of a queue.
func (s *Store) PurgeQueue(ctx context.Context, queue string) (int64, error) {
	keys := append([]string{s.keys.queueDelayed(queue)}, s.keys.tierKeys(queue)...)
	var n int64
	err := s.do(ctx, "purge queue", func() error {
		var err error
		n, err = purgeQueueScript.Run(ctx, s.client, keys, s.keys.p).Int64()
		return err
	})
	return n, err
}

// TrimCompleted bounds the completed log and the cancelled set by age
// and size, each on its own.
func (s *Store) TrimCompleted(ctx context.Context, before time.Time, maxSize int64) (int64, error) {
	n, err := s.trim(ctx, "trim completed", s.keys.completed(), before, maxSize)
	if err != nil {
		return n, err
	}
	m, err := s.trim(ctx, "trim cancelled", s.keys.cancelled(), before, maxSize)
	return n + m, err
}

func (s *Store) trim(ctx context.Context, op, set string, before time.Time, maxSize int64) (int64, error) {
	cutoff := ""
	if !before.IsZero() {
		cutoff = ms(before)
	}
	var n int64
	err := s.do(ctx, op, func() error {
		var err error
		n, err = trimScript.Run(ctx, s.client, []string{set}, s.keys.p, cutoff, maxSize).Int64()
		return err
	})
	return n, err
}

// ── helpers ──

func tierIndex(p job.Priority) int {
	for i, t := range job.Tiers {
		if t == p {
			return i + 1
		}
	}
	return 0
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTS(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	return t
}

func codeAndString(res []any) (int64, string, error) {
	if len(res) != 2 {
		return 0, "", fmt.Errorf("jobq/redis: unexpected reply %v", res)
	}
	code, ok := res[0].(int64)
	if !ok {
		return 0, "", fmt.Errorf("jobq/redis: unexpected reply %v", res)
	}
	str, _ := res[1].(string)
	return code, str, nil
}

// jobFields flattens a job into hash field/value pairs. Unset optional
// fields are omitted so a rewrite clears them.
func (s *Store) jobFields(j *job.Job) ([]any, error) {
	f := []any{
		"id", j.ID.String(),
		"name", j.Name,
		"queue", j.Queue,
		"payload", string(j.Payload),
		"priority", strconv.Itoa(int(j.Priority)),
		"state", string(j.State),
		"attempts", strconv.Itoa(j.Attempts),
		"max_retries", strconv.Itoa(j.MaxRetries),
		"created_at", ts(j.CreatedAt),
		"updated_at", ts(j.UpdatedAt),
		"scheduled_at", ts(j.ScheduledAt),
	}
	if j.UniqueKey != "" {
		f = append(f, "unique_key", j.UniqueKey)
	}
	if j.Timeout > 0 {
		f = append(f, "timeout", strconv.FormatInt(int64(j.Timeout), 10))
	}
	if !j.WorkerID.IsNil() {
		f = append(f, "worker_id", j.WorkerID.String())
	}
	if j.LastError != "" {
		f = append(f, "last_error", j.LastError, "last_error_kind", j.LastErrorKind)
	}
	if len(j.Failures) > 0 {
		b, err := s.codec.Marshal(j.Failures)
		if err != nil {
			return nil, jobq.Serialization(fmt.Errorf("jobq/redis: encode failures of %s: %w", j.ID, err))
		}
		f = append(f, "failures", string(b))
	}
	if j.StartedAt != nil {
		f = append(f, "started_at", ts(*j.StartedAt))
	}
	if j.CompletedAt != nil {
		f = append(f, "completed_at", ts(*j.CompletedAt))
	}
	return f, nil
}

func (s *Store) mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobq/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])           //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])      //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:            jID,
		Name:          m["name"],
		Queue:         m["queue"],
		Payload:       []byte(m["payload"]),
		Priority:      job.Priority(priority),
		State:         job.State(m["state"]),
		Attempts:      attempts,
		MaxRetries:    maxRetries,
		UniqueKey:     m["unique_key"],
		Timeout:       time.Duration(timeout),
		LastError:     m["last_error"],
		LastErrorKind: m["last_error_kind"],
		CreatedAt:     parseTS(m["created_at"]),
		UpdatedAt:     parseTS(m["updated_at"]),
		ScheduledAt:   parseTS(m["scheduled_at"]),
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["failures"]; v != "" {
		if err := s.codec.Unmarshal([]byte(v), &j.Failures); err != nil {
			return nil, jobq.Serialization(fmt.Errorf("jobq/redis: decode failures of %s: %w", jID, err))
		}
	}
	if v := m["started_at"]; v != "" {
		t := parseTS(v)
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t := parseTS(v)
		j.CompletedAt = &t
	}
	return j, nil
}
