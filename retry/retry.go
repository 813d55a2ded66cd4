// Package retry decides what happens to a job after a failed attempt:
// requeue it with a backoff delay, route it to the dead-letter queue, or
// settle it as cancelled.
package retry

import (
	"fmt"
	"sync"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/job"
)

// Action is the decision taken for a failed attempt.
type Action int

const (
	// Retry requeues the job after Outcome.Delay.
	Retry Action = iota
	// DeadLetter moves the job to the dead-letter queue.
	DeadLetter
	// Cancel settles the job as cancelled.
	Cancel
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case DeadLetter:
		return "dead_letter"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Outcome is the result of evaluating a failure against a Policy.
type Outcome struct {
	Action Action
	Delay  time.Duration
	Kind   jobq.ErrorKind
	Reason string
}

// Policy bounds the attempts of a job type and spaces its retries.
type Policy struct {
	// MaxRetries is the maximum number of attempts. A job whose MaxRetries
	// is not job.UnsetRetries overrides it. In a per-type entry of a Table,
	// job.UnsetRetries inherits the table default.
	MaxRetries int
	Backoff    backoff.Strategy
}

// OnFailure evaluates a failed attempt of j. j.Attempts already counts the
// attempt that failed.
func (p Policy) OnFailure(j *job.Job, err error) Outcome {
	kind := jobq.KindOf(err)
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	out := Outcome{Kind: kind, Reason: reason}

	switch {
	case kind == jobq.KindCancelled:
		out.Action = Cancel
		return out
	case kind.DeadLetters(), !kind.Retryable():
		out.Action = DeadLetter
		return out
	}

	limit := p.MaxRetries
	if j.MaxRetries >= 0 {
		limit = j.MaxRetries
	}
	if j.Attempts >= limit {
		out.Action = DeadLetter
		out.Kind = jobq.KindMaxRetriesExceeded
		out.Reason = fmt.Sprintf("%s after %d attempts: %s", jobq.ErrMaxRetriesExceeded, j.Attempts, reason)
		return out
	}

	out.Action = Retry
	if p.Backoff != nil {
		out.Delay = p.Backoff.Delay(j.Attempts)
	}
	return out
}

// Table resolves the policy for a job type: a per-type entry when one was
// set, the default otherwise. Safe for concurrent use.
type Table struct {
	Default Policy

	mu     sync.RWMutex
	byName map[string]Policy
}

// NewTable creates a table with the given default policy.
func NewTable(def Policy) *Table {
	return &Table{Default: def, byName: make(map[string]Policy)}
}

// Set installs a policy for a job type.
func (t *Table) Set(name string, p Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byName == nil {
		t.byName = make(map[string]Policy)
	}
	t.byName[name] = p
}

// PolicyFor returns the policy for a job type.
func (t *Table) PolicyFor(name string) Policy {
	t.mu.RLock()
	p, ok := t.byName[name]
	t.mu.RUnlock()
	if !ok {
		return t.Default
	}
	if p.Backoff == nil {
		p.Backoff = t.Default.Backoff
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = t.Default.MaxRetries
	}
	return p
}

// FromConfig builds the default policy described by cfg.
func FromConfig(cfg jobq.RetryConfig) (Policy, error) {
	s, err := StrategyFromConfig(cfg)
	if err != nil {
		return Policy{}, err
	}
	return Policy{MaxRetries: cfg.MaxRetries, Backoff: s}, nil
}

// StrategyFromConfig builds the retry schedule described by cfg.
func StrategyFromConfig(cfg jobq.RetryConfig) (backoff.Strategy, error) {
	curve, err := cfg.Curve()
	if err == nil {
		err = curve.Validate()
	}
	if err != nil {
		return nil, jobq.Configuration(err)
	}
	if curve.Kind == backoff.KindNone {
		return backoff.None{}, nil
	}
	return curve, nil
}
