package queue_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/jobq/queue"
)

// ---------------------------------------------------------------------------
// Manager basics
// ---------------------------------------------------------------------------

func TestNewManager_Empty(t *testing.T) {
	m := queue.NewManager()
	// No configs; Acquire should always succeed.
	p := m.Acquire("any-queue")
	if p == nil {
		t.Fatal("expected Acquire to succeed for unconfigured queue")
	}
	p.Release()
}

func TestNewManager_WithConfig(t *testing.T) {
	m := queue.NewManager(queue.Limits{
		Name:           "emails",
		MaxConcurrency: 2,
	})
	if m.ActiveCount("emails") != 0 {
		t.Fatal("expected 0 active jobs initially")
	}
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestManager_MaxConcurrency(t *testing.T) {
	m := queue.NewManager(queue.Limits{
		Name:           "emails",
		MaxConcurrency: 2,
	})

	first := m.Acquire("emails")
	if first == nil {
		t.Fatal("first Acquire should succeed")
	}
	if m.Acquire("emails") == nil {
		t.Fatal("second Acquire should succeed")
	}
	// Third should be blocked.
	if m.Acquire("emails") != nil {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}

	// Release one slot.
	first.Release()
	if m.Acquire("emails") == nil {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestManager_AcquireRelease_ActiveCount(t *testing.T) {
	m := queue.NewManager(queue.Limits{
		Name:           "q",
		MaxConcurrency: 5,
	})

	var permits []*queue.Permit
	for i := range 3 {
		p := m.Acquire("q")
		if p == nil {
			t.Fatalf("Acquire %d should succeed", i)
		}
		permits = append(permits, p)
	}
	if m.ActiveCount("q") != 3 {
		t.Fatalf("expected 3 active, got %d", m.ActiveCount("q"))
	}

	permits[0].Release()
	permits[1].Refund()
	if m.ActiveCount("q") != 1 {
		t.Fatalf("expected 1 active, got %d", m.ActiveCount("q"))
	}
}

func TestManager_PermitSettlesOnce(t *testing.T) {
	m := queue.NewManager(queue.Limits{
		Name:           "q",
		MaxConcurrency: 5,
	})

	a := m.Acquire("q")
	_ = m.Acquire("q")
	a.Release()
	a.Release()
	a.Refund()
	if m.ActiveCount("q") != 1 {
		t.Fatalf("expected 1 active after repeated settle, got %d", m.ActiveCount("q"))
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestManager_RateLimit_Throttles(t *testing.T) {
	m := queue.NewManager(queue.Limits{
		Name:      "limited",
		RateLimit: 1.0, // 1 per second
		RateBurst: 1,
	})

	// First should succeed (burst allows it).
	p := m.Acquire("limited")
	if p == nil {
		t.Fatal("first Acquire should succeed (within burst)")
	}
	p.Release()

	// Immediately after, token bucket is empty.
	if m.Acquire("limited") != nil {
		t.Fatal("second Acquire should fail (rate limited)")
	}

	// Wait for token refill.
	time.Sleep(1100 * time.Millisecond)
	p = m.Acquire("limited")
	if p == nil {
		t.Fatal("Acquire should succeed after token refill")
	}
	p.Release()
}

func TestManager_RateLimit_EmptyPollKeepsToken(t *testing.T) {
	m := queue.NewManager(queue.Limits{
		Name:      "reports",
		RateLimit: 0.01, // one token per 100s
		RateBurst: 1,
	})

	// Repeated empty polls hand their token back.
	for i := range 5 {
		p := m.Acquire("reports")
		if p == nil {
			t.Fatalf("poll %d: Acquire should succeed after a refund", i)
		}
		p.Refund()
	}

	// A real claim spends it.
	p := m.Acquire("reports")
	if p == nil {
		t.Fatal("Acquire for the claim should succeed")
	}
	p.Release()
	if m.Acquire("reports") != nil {
		t.Fatal("Acquire after a spent token should fail")
	}
}

func TestManager_RateLimit_RefundStaysWithinBurst(t *testing.T) {
	m := queue.NewManager(queue.Limits{
		Name:      "bursty",
		RateLimit: 0.01,
		RateBurst: 2,
	})

	a := m.Acquire("bursty")
	b := m.Acquire("bursty")
	if a == nil || b == nil {
		t.Fatal("two Acquires should succeed (burst = 2)")
	}
	a.Refund()
	b.Refund()

	granted := 0
	for range 4 {
		if p := m.Acquire("bursty"); p != nil {
			granted++
			p.Release()
		}
	}
	if granted != 2 {
		t.Fatalf("granted %d after refunds, want burst 2", granted)
	}
}

func TestManager_RateLimit_BurstAllows(t *testing.T) {
	m := queue.NewManager(queue.Limits{
		Name:      "bursty",
		RateLimit: 10.0,
		RateBurst: 3,
	})

	// Three immediate acquires should succeed (burst = 3).
	for i := range 3 {
		p := m.Acquire("bursty")
		if p == nil {
			t.Fatalf("Acquire %d should succeed (within burst)", i)
		}
		p.Release()
	}
}

// ---------------------------------------------------------------------------
// Dynamic reconfiguration
// ---------------------------------------------------------------------------

func TestManager_SetLimits(t *testing.T) {
	m := queue.NewManager(queue.Limits{
		Name:           "dyn",
		MaxConcurrency: 1,
	})

	held := m.Acquire("dyn")
	if m.Acquire("dyn") != nil {
		t.Fatal("should be blocked at concurrency 1")
	}

	// Raise the limit dynamically.
	m.SetLimits(queue.Limits{
		Name:           "dyn",
		MaxConcurrency: 3,
	})

	// Now should succeed.
	p := m.Acquire("dyn")
	if p == nil {
		t.Fatal("should succeed after raising concurrency")
	}
	p.Release()
	held.Release()
	if m.ActiveCount("dyn") != 0 {
		t.Fatalf("expected 0 active, got %d", m.ActiveCount("dyn"))
	}
}

// ---------------------------------------------------------------------------
// Concurrency safety
// ---------------------------------------------------------------------------

func TestManager_ConcurrentAccess(t *testing.T) {
	m := queue.NewManager(queue.Limits{
		Name:           "concurrent",
		MaxConcurrency: 50,
	})

	var acquired atomic.Int64
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p := m.Acquire("concurrent"); p != nil {
				acquired.Add(1)
				// Simulate work.
				time.Sleep(time.Millisecond)
				p.Release()
			}
		}()
	}

	wg.Wait()

	// At least some should have succeeded.
	if acquired.Load() == 0 {
		t.Fatal("expected some Acquires to succeed")
	}

	// Active should be back to 0.
	if m.ActiveCount("concurrent") != 0 {
		t.Fatalf("expected 0 active after all goroutines, got %d", m.ActiveCount("concurrent"))
	}
}

func TestManager_UnconfiguredQueue_AlwaysSucceeds(t *testing.T) {
	m := queue.NewManager(queue.Limits{
		Name:           "configured",
		MaxConcurrency: 1,
	})

	// "other" queue has no limits configured.
	for range 10 {
		p := m.Acquire("other")
		if p == nil {
			t.Fatal("unconfigured queue should always allow Acquire")
		}
		defer p.Release()
	}
	if m.ActiveCount("other") != 0 {
		t.Fatal("unconfigured queue should not count active jobs")
	}
}

func TestManager_NilPermitIsSafe(t *testing.T) {
	var p *queue.Permit
	p.Release()
	p.Refund()
}
