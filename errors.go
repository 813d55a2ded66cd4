package jobq

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("jobq: no store configured")
	ErrStoreClosed = errors.New("jobq: store closed")

	// Not found errors.
	ErrJobNotFound      = errors.New("jobq: job not found")
	ErrScheduleNotFound = errors.New("jobq: schedule not found")
	ErrDLQEntryNotFound = errors.New("jobq: dead-letter entry not found")
	ErrWorkerNotFound   = errors.New("jobq: worker not found")
	ErrHandlerNotFound  = errors.New("jobq: no handler registered")

	// Conflict errors.
	ErrJobAlreadyExists  = errors.New("jobq: job already exists")
	ErrDuplicateSchedule = errors.New("jobq: duplicate schedule")

	// State errors.
	ErrInvalidState       = errors.New("jobq: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("jobq: max retries exceeded")
	ErrQueueFull          = errors.New("jobq: queue full")

	// Lock errors.
	ErrNotLockHolder = errors.New("jobq: scheduler lock not held")
)

// ErrorKind classifies a job failure. The kind decides whether the retry
// policy may requeue the job or must route it to the dead-letter queue.
type ErrorKind string

const (
	// KindExecution means the handler returned an error.
	KindExecution ErrorKind = "execution"
	// KindTimeout means the handler exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindCancelled means the job was cancelled by a producer or operator.
	KindCancelled ErrorKind = "cancelled"
	// KindBackend means the backing store failed (connection, pool, I/O).
	KindBackend ErrorKind = "backend"
	// KindSerialization means the payload could not be decoded.
	KindSerialization ErrorKind = "serialization"
	// KindConfiguration means a policy or definition is invalid.
	KindConfiguration ErrorKind = "configuration"
	// KindInvalidState means an operation targeted a job in the wrong state.
	KindInvalidState ErrorKind = "invalid_state"
	// KindMaxRetriesExceeded marks a job that used up its attempts.
	KindMaxRetriesExceeded ErrorKind = "max_retries_exceeded"
	// KindQueueFull means the target queue rejected the enqueue.
	KindQueueFull ErrorKind = "queue_full"
	// KindWorkerCrashed means the claimant stopped heartbeating mid-job.
	KindWorkerCrashed ErrorKind = "worker_crashed"
)

// Retryable reports whether a failure of this kind may be retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindExecution, KindTimeout, KindBackend, KindWorkerCrashed:
		return true
	default:
		return false
	}
}

// DeadLetters reports whether a failure of this kind routes the job
// straight to the dead-letter queue regardless of its attempt count.
func (k ErrorKind) DeadLetters() bool {
	switch k {
	case KindSerialization, KindConfiguration, KindMaxRetriesExceeded:
		return true
	default:
		return false
	}
}

// JobError attaches an ErrorKind to an underlying error.
type JobError struct {
	Kind ErrorKind
	Err  error
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// NewJobError wraps err with the given kind.
func NewJobError(kind ErrorKind, err error) *JobError {
	return &JobError{Kind: kind, Err: err}
}

// Timeout wraps err as a timeout failure.
func Timeout(err error) error { return NewJobError(KindTimeout, err) }

// Backend wraps err as a backend failure.
func Backend(err error) error { return NewJobError(KindBackend, err) }

// Serialization wraps err as a payload decoding failure.
func Serialization(err error) error { return NewJobError(KindSerialization, err) }

// Configuration wraps err as a configuration failure.
func Configuration(err error) error { return NewJobError(KindConfiguration, err) }

// WorkerCrashed wraps err as a worker crash failure.
func WorkerCrashed(err error) error { return NewJobError(KindWorkerCrashed, err) }

// Cancelled wraps err as a cancellation.
func Cancelled(err error) error { return NewJobError(KindCancelled, err) }

// KindOf classifies err. Explicit JobError kinds win; known sentinels and
// context deadline errors map to their kinds; everything else is an
// execution failure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrMaxRetriesExceeded):
		return KindMaxRetriesExceeded
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrQueueFull):
		return KindQueueFull
	case errors.Is(err, ErrHandlerNotFound):
		return KindConfiguration
	default:
		return KindExecution
	}
}
