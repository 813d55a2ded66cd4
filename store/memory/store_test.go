package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/store/memory"
	"github.com/xraph/jobq/store/storetest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(_ *testing.T) *storetest.Harness {
		c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		return &storetest.Harness{
			Store:   memory.New(memory.WithClock(c.Now)),
			Now:     c.Now,
			Advance: c.Advance,
		}
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	j := &job.Job{
		ID:          id.NewJobID(),
		Name:        "send_email",
		Queue:       "default",
		Payload:     []byte(`{"to":"alice"}`),
		State:       job.StatePending,
		ScheduledAt: now,
	}
	if _, err := s.EnqueueJob(ctx, j, job.EnqueueOpts{Now: now}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	j.Payload[0] = 'X'

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if string(got.Payload) != `{"to":"alice"}` {
		t.Errorf("store shares the caller's payload: %s", got.Payload)
	}
	got.Name = "mutated"
	again, _ := s.GetJob(ctx, j.ID)
	if again.Name != "send_email" {
		t.Error("GetJob must return a copy")
	}
}

func TestStore_ConcurrentClaimsAreExclusive(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	const jobs = 50
	for range jobs {
		j := &job.Job{ID: id.NewJobID(), Name: "n", Queue: "default", State: job.StatePending, ScheduledAt: now}
		if _, err := s.EnqueueJob(ctx, j, job.EnqueueOpts{Now: now}); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[id.JobID]int)
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := id.NewWorkerID()
			for {
				c, err := s.ClaimJob(ctx, job.ClaimRequest{Queue: "default", WorkerID: worker, Order: job.Tiers, Now: now})
				if err != nil || c == nil {
					return
				}
				mu.Lock()
				seen[c.Job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("claimed %d distinct jobs, want %d", len(seen), jobs)
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times", k, n)
		}
	}
}
