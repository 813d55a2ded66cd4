package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/jobq/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
			if len(got) != len(tt.prefix)+32 {
				t.Errorf("unexpected length %d for %q", len(got), got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := id.NewJobID()
	parsed, err := id.ParseJobID(orig.String())
	if err != nil {
		t.Fatalf("ParseJobID: %v", err)
	}
	if parsed != orig {
		t.Errorf("round trip mismatch: %s != %s", parsed, orig)
	}
}

func TestParse_Errors(t *testing.T) {
	bad := []string{
		"",
		"job",
		"JOB_0190b3c1e2f47c4ba0d3a5b6c7d8e9f0",
		"job_xyz",
		"job_0190b3c1e2f47c4ba0d3a5b6c7d8e9zz",
	}
	for _, s := range bad {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	w := id.NewWorkerID()
	if _, err := id.ParseJobID(w.String()); err == nil {
		t.Fatal("expected prefix mismatch error")
	}
}

func TestIDsSortByCreation(t *testing.T) {
	prev := id.NewJobID().String()
	for range 50 {
		next := id.NewJobID().String()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		ID  id.JobID `json:"id"`
		Opt id.ID    `json:"opt"`
	}
	in := wrapper{ID: id.NewJobID()}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out wrapper
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.ID != in.ID {
		t.Errorf("ID = %s, want %s", out.ID, in.ID)
	}
	if !out.Opt.IsNil() {
		t.Errorf("Opt = %s, want nil", out.Opt)
	}
}
