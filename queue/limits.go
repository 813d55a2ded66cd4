package queue

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits defines per-queue local admission: a concurrency cap and a
// dequeue rate.
type Limits struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously across the local worker pool. Zero means no
	// queue-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second that may be
	// dequeued from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Limits
	limiter *rate.Limiter
	active  int
	// credit holds refunded rate tokens, spent before the limiter's own.
	credit float64
}

func (qs *queueState) takeToken(now time.Time) bool {
	if qs.limiter == nil {
		return false
	}
	qs.trimCredit(now)
	if qs.credit >= 1 {
		qs.credit--
		return true
	}
	return qs.limiter.AllowN(now, 1)
}

func (qs *queueState) refundToken(now time.Time) {
	if qs.limiter == nil {
		return
	}
	qs.credit++
	qs.trimCredit(now)
}

// trimCredit keeps refunded tokens plus the bucket within the burst.
func (qs *queueState) trimCredit(now time.Time) {
	room := float64(qs.limiter.Burst()) - math.Floor(qs.limiter.TokensAt(now))
	if room < 0 {
		room = 0
	}
	if qs.credit > room {
		qs.credit = room
	}
}

// Manager gates how many jobs of each queue the local pool claims and
// how fast. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager with the given queue limits.
// Queues not listed here have no limits.
func NewManager(configs ...Limits) *Manager {
	m := &Manager{
		queues: make(map[string]*queueState, len(configs)),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Limits) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// Permit is one admission granted by Manager.Acquire. Exactly one of
// Release or Refund must be called on it; later calls are no-ops.
type Permit struct {
	m     *Manager
	queue   string
	counted bool
	token   bool
	done    bool
}

// Acquire takes a permit for one claim from queue. It returns nil when the
// queue's concurrency cap is reached or its rate limit has no token left.
func (m *Manager) Acquire(queue string) *Permit {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &Permit{m: m, queue: queue}
	qs := m.queues[queue]
	if qs == nil {
		return p
	}
	if qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return nil
	}
	if qs.limiter != nil {
		if !qs.takeToken(time.Now()) {
			return nil
		}
		p.token = true
	}
	qs.active++
	p.counted = true
	return p
}

// Release returns the concurrency slot once the claimed job settles. The
// rate token stays spent.
func (p *Permit) Release() {
	p.settle(false)
}

// Refund returns the concurrency slot and the rate token. Use it when the
// claim came back empty, so idle polling does not consume the queue's
// rate.
func (p *Permit) Refund() {
	p.settle(true)
}

func (p *Permit) settle(refund bool) {
	if p == nil {
		return
	}
	p.m.mu.Lock()
	defer p.m.mu.Unlock()

	if p.done {
		return
	}
	p.done = true
	qs := p.m.queues[p.queue]
	if !p.counted || qs == nil {
		return
	}
	if refund && p.token {
		qs.refundToken(time.Now())
	}
	if qs.active > 0 {
		qs.active--
	}
}

// SetLimits updates (or creates) a queue's limits at runtime.
func (m *Manager) SetLimits(cfg Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.queues[cfg.Name]
	qs := newQueueState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
