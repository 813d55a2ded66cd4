package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/retry"
)

func policy() retry.Policy {
	return retry.Policy{MaxRetries: 3, Backoff: backoff.NewExponential(time.Second, time.Hour)}
}

func TestOnFailure_RetriesUntilMaxAttempts(t *testing.T) {
	p := policy()
	j := &job.Job{Name: "send_email", MaxRetries: 3}
	boom := errors.New("smtp unreachable")

	wantDelays := []time.Duration{time.Second, 2 * time.Second}
	for attempt := 1; attempt <= 2; attempt++ {
		j.Attempts = attempt
		out := p.OnFailure(j, boom)
		if out.Action != retry.Retry {
			t.Fatalf("attempt %d: action = %v, want retry", attempt, out.Action)
		}
		if out.Delay != wantDelays[attempt-1] {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, out.Delay, wantDelays[attempt-1])
		}
		if out.Kind != jobq.KindExecution {
			t.Errorf("kind = %q, want execution", out.Kind)
		}
	}

	j.Attempts = 3
	out := p.OnFailure(j, boom)
	if out.Action != retry.DeadLetter {
		t.Fatalf("attempt 3: action = %v, want dead_letter", out.Action)
	}
	if out.Kind != jobq.KindMaxRetriesExceeded {
		t.Errorf("kind = %q, want max_retries_exceeded", out.Kind)
	}
	if out.Reason == "" {
		t.Error("expected a reason on dead-letter outcome")
	}
}

func TestOnFailure_NonRetryableKindsDeadLetter(t *testing.T) {
	p := policy()
	j := &job.Job{MaxRetries: 5, Attempts: 1}

	for _, err := range []error{
		jobq.Serialization(errors.New("bad payload")),
		jobq.Configuration(errors.New("no handler")),
		fmt.Errorf("wrapped: %w", jobq.ErrHandlerNotFound),
	} {
		if out := p.OnFailure(j, err); out.Action != retry.DeadLetter {
			t.Errorf("OnFailure(%v) = %v, want dead_letter", err, out.Action)
		}
	}
}

func TestOnFailure_CancelledSettles(t *testing.T) {
	p := policy()
	j := &job.Job{MaxRetries: 5, Attempts: 1}
	out := p.OnFailure(j, jobq.Cancelled(errors.New("operator")))
	if out.Action != retry.Cancel {
		t.Errorf("action = %v, want cancel", out.Action)
	}
}

func TestOnFailure_TimeoutAndCrashRetry(t *testing.T) {
	p := policy()
	j := &job.Job{MaxRetries: 5, Attempts: 1}

	if out := p.OnFailure(j, context.DeadlineExceeded); out.Action != retry.Retry || out.Kind != jobq.KindTimeout {
		t.Errorf("deadline: got %v/%q, want retry/timeout", out.Action, out.Kind)
	}
	if out := p.OnFailure(j, jobq.WorkerCrashed(errors.New("gone"))); out.Action != retry.Retry || out.Kind != jobq.KindWorkerCrashed {
		t.Errorf("crash: got %v/%q, want retry/worker_crashed", out.Action, out.Kind)
	}
}

func TestOnFailure_PolicyLimitWhenJobUnset(t *testing.T) {
	p := retry.Policy{MaxRetries: 2, Backoff: backoff.None{}}
	j := &job.Job{Attempts: 1, MaxRetries: job.UnsetRetries}
	if out := p.OnFailure(j, errors.New("x")); out.Action != retry.Retry {
		t.Errorf("attempt 1: action = %v, want retry", out.Action)
	}
	j.Attempts = 2
	if out := p.OnFailure(j, errors.New("x")); out.Action != retry.DeadLetter {
		t.Errorf("attempt 2: action = %v, want dead_letter", out.Action)
	}
}

func TestOnFailure_ZeroMaxRetriesDeadLettersFirstFailure(t *testing.T) {
	p := policy()
	j := &job.Job{Name: "charge_card", MaxRetries: 0, Attempts: 1}
	out := p.OnFailure(j, errors.New("gateway unavailable"))
	if out.Action != retry.DeadLetter || out.Kind != jobq.KindMaxRetriesExceeded {
		t.Errorf("got %v/%q, want dead_letter/max_retries_exceeded", out.Action, out.Kind)
	}
}

func TestTable_PolicyFor(t *testing.T) {
	tbl := retry.NewTable(policy())
	tbl.Set("report", retry.Policy{MaxRetries: job.UnsetRetries, Backoff: backoff.NewConstant(time.Minute)})
	tbl.Set("charge_card", retry.Policy{MaxRetries: 0})

	got := tbl.PolicyFor("report")
	if got.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want default 3", got.MaxRetries)
	}
	if d := got.Backoff.Delay(4); d != time.Minute {
		t.Errorf("Delay = %v, want 1m", d)
	}

	if got := tbl.PolicyFor("charge_card"); got.MaxRetries != 0 {
		t.Errorf("explicit zero MaxRetries = %d, want 0", got.MaxRetries)
	}

	def := tbl.PolicyFor("unknown")
	if d := def.Backoff.Delay(2); d != 2*time.Second {
		t.Errorf("default Delay(2) = %v, want 2s", d)
	}
}

func TestStrategyFromConfig(t *testing.T) {
	cfg := jobq.DefaultConfig().Retry
	cfg.JitterFactor = 0

	s, err := retry.StrategyFromConfig(cfg)
	if err != nil {
		t.Fatalf("StrategyFromConfig: %v", err)
	}
	if d := s.Delay(3); d != 4*time.Second {
		t.Errorf("Delay(3) = %v, want 4s", d)
	}

	cfg.Strategy = "fibonacci"
	if _, err := retry.StrategyFromConfig(cfg); jobq.KindOf(err) != jobq.KindConfiguration {
		t.Errorf("unknown strategy: err = %v, want configuration error", err)
	}

	cfg.Strategy = "none"
	s, err = retry.StrategyFromConfig(cfg)
	if err != nil || s.Delay(7) != 0 {
		t.Errorf("none: got %v, %v", s, err)
	}
}
