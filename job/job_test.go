package job_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/xraph/jobq/job"
)

func TestPriority_Tier(t *testing.T) {
	tests := []struct {
		in   job.Priority
		want job.Priority
	}{
		{100, job.PriorityCritical},
		{job.PriorityCritical, job.PriorityCritical},
		{15, job.PriorityHigh},
		{job.PriorityHigh, job.PriorityHigh},
		{5, job.PriorityNormal},
		{-9, job.PriorityNormal},
		{job.PriorityLow, job.PriorityLow},
		{-50, job.PriorityLow},
	}
	for _, tt := range tests {
		if got := tt.in.Tier(); got != tt.want {
			t.Errorf("Priority(%d).Tier() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	for _, p := range job.Tiers {
		got, err := job.ParsePriority(p.String())
		if err != nil {
			t.Fatalf("ParsePriority(%q): %v", p.String(), err)
		}
		if got != p {
			t.Errorf("ParsePriority(%q) = %v, want %v", p.String(), got, p)
		}
	}
	if _, err := job.ParsePriority("urgent"); err == nil {
		t.Error("expected error for unknown priority")
	}
}

func TestState_Terminal(t *testing.T) {
	if job.StatePending.Terminal() || job.StateActive.Terminal() {
		t.Error("pending and active must not be terminal")
	}
	for _, s := range []job.State{job.StateCompleted, job.StateDeadLettered, job.StateCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestJob_RecordFailureBoundsHistory(t *testing.T) {
	j := &job.Job{Name: "flaky"}
	now := time.Now()
	for i := 1; i <= 30; i++ {
		j.Attempts = i
		j.RecordFailure("execution", fmt.Sprintf("boom %d", i), now)
	}
	if len(j.Failures) != 20 {
		t.Fatalf("len(Failures) = %d, want 20", len(j.Failures))
	}
	if j.Failures[0].Attempt != 11 {
		t.Errorf("oldest kept attempt = %d, want 11", j.Failures[0].Attempt)
	}
	if j.LastError != "boom 30" || j.LastErrorKind != "execution" {
		t.Errorf("last error = %q/%q", j.LastError, j.LastErrorKind)
	}
}

func TestOptions_DueAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	o := job.DefaultOptions()
	if got := o.DueAt(now); !got.Equal(now) {
		t.Errorf("immediate DueAt = %v, want %v", got, now)
	}

	job.WithDelay(5 * time.Second)(&o)
	if got := o.DueAt(now); !got.Equal(now.Add(5 * time.Second)) {
		t.Errorf("delayed DueAt = %v", got)
	}

	at := now.Add(time.Hour)
	job.WithRunAt(at)(&o)
	if got := o.DueAt(now); !got.Equal(at) {
		t.Errorf("RunAt DueAt = %v, want %v", got, at)
	}
}

func TestJob_CloneIsDeep(t *testing.T) {
	started := time.Now()
	j := &job.Job{Payload: []byte("abc"), StartedAt: &started}
	j.RecordFailure("timeout", "slow", started)

	cp := j.Clone()
	cp.Payload[0] = 'x'
	cp.Failures[0].Message = "changed"
	*cp.StartedAt = started.Add(time.Hour)

	if string(j.Payload) != "abc" || j.Failures[0].Message != "slow" || !j.StartedAt.Equal(started) {
		t.Fatal("clone shares memory with original")
	}
}
