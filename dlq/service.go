package dlq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// Service provides operator-facing DLQ operations over a Store.
type Service struct {
	store     Store
	logger    *slog.Logger
	maxSize   int64
	retention time.Duration
	uniqueTTL time.Duration
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithLimits sets the size and age bounds Trim enforces.
func WithLimits(cfg jobq.DLQConfig) ServiceOption {
	return func(s *Service) {
		s.maxSize = cfg.MaxSize
		s.retention = cfg.Retention
	}
}

// WithUniqueTTL sets how long a retried job's unique key blocks
// duplicates. Non-positive values keep the one hour default.
func WithUniqueTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.uniqueTTL = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a DLQ service.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, logger: slog.Default(), uniqueTTL: time.Hour, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns entries newest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Get returns a single entry.
func (s *Service) Get(ctx context.Context, jobID id.JobID) (*Entry, error) {
	return s.store.GetDLQ(ctx, jobID)
}

// Retry puts a dead-lettered job back into its queue as a fresh pending
// job: zero attempts, no claimant, due now. Its failure history is kept
// and it takes its unique key again, so it fails with
// jobq.ErrInvalidState while another pending or active job holds the key.
func (s *Service) Retry(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := s.store.RetryDLQ(ctx, jobID, s.now().UTC(), s.uniqueTTL)
	if err != nil {
		return nil, err
	}
	s.logger.Info("dead-lettered job retried",
		slog.String("job_id", jobID.String()),
		slog.String("job_name", j.Name),
		slog.String("queue", j.Queue),
	)
	return j, nil
}

// Delete removes one dead-lettered job.
func (s *Service) Delete(ctx context.Context, jobID id.JobID) error {
	return s.store.DeleteDLQ(ctx, jobID)
}

// Purge removes every dead-lettered job. Purging an empty DLQ returns 0.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeDLQ(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("dead-letter queue purged", slog.Int64("removed", n))
	}
	return n, nil
}

// Count returns the number of dead-lettered jobs.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}

// Trim enforces the retention age and the size bound. Either bound is
// skipped when zero.
func (s *Service) Trim(ctx context.Context) (int64, error) {
	var total int64
	var errs []error
	if s.retention > 0 {
		n, err := s.store.PurgeDLQBefore(ctx, s.now().UTC().Add(-s.retention))
		total += n
		errs = append(errs, err)
	}
	if s.maxSize > 0 {
		n, err := s.store.TrimDLQ(ctx, s.maxSize)
		total += n
		errs = append(errs, err)
	}
	if total > 0 {
		s.logger.Debug("dead-letter queue trimmed", slog.Int64("removed", total))
	}
	return total, errors.Join(errs...)
}
