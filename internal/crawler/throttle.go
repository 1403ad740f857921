package crawler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig configures the adaptive crawl throttle
type ThrottleConfig struct {
	// MaxWorkers is the ceiling the throttle recovers to
	MaxWorkers int
	// RequestsPerSecond is the sustained fetch rate at full speed (0 = unlimited)
	RequestsPerSecond float64
	// ErrorThreshold is the failure ratio over Window outcomes that triggers a slowdown
	ErrorThreshold float64
	// Window is the number of recent outcomes considered
	Window int
	// RecoverAfter is the success streak needed to raise the ceiling by one
	RecoverAfter int
	// MemoryLimitBytes triggers a slowdown when the heap grows past it (0 = off)
	MemoryLimitBytes uint64
}

// Throttle bounds how many workers may fetch at once and how fast. It halves
// both when the recent error ratio or memory use is too high and raises them
// back gradually while fetches succeed.
type Throttle struct {
	mu sync.Mutex

	limiter  *rate.Limiter
	baseRate rate.Limit

	maxWorkers int
	allowed    int
	changed    chan struct{}

	threshold    float64
	outcomes     []bool
	next         int
	filled       int
	streak       int
	recoverAfter int

	memLimit     uint64
	heapInUse    func() uint64
	lastMemCheck time.Time

	reductions int
}

// NewThrottle creates a throttle running at full speed
func NewThrottle(cfg ThrottleConfig) *Throttle {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.Window < 1 {
		cfg.Window = 20
	}
	if cfg.RecoverAfter < 1 {
		cfg.RecoverAfter = 10
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 0.5
	}

	base := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		base = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Throttle{
		limiter:      rate.NewLimiter(base, cfg.MaxWorkers),
		baseRate:     base,
		maxWorkers:   cfg.MaxWorkers,
		allowed:      cfg.MaxWorkers,
		changed:      make(chan struct{}),
		threshold:    cfg.ErrorThreshold,
		outcomes:     make([]bool, cfg.Window),
		recoverAfter: cfg.RecoverAfter,
		memLimit:     cfg.MemoryLimitBytes,
		heapInUse:    readHeapInUse,
	}
}

// Admit blocks worker while its index is at or above the current ceiling
func (t *Throttle) Admit(ctx context.Context, worker int) error {
	for {
		t.mu.Lock()
		allowed, changed := t.allowed, t.changed
		t.mu.Unlock()

		if worker < allowed {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Wait blocks until a rate token is available
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// Record feeds one fetch outcome into the throttle. It reports whether the
// ceiling was lowered.
func (t *Throttle) Record(ok bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.outcomes[t.next] = ok
	t.next = (t.next + 1) % len(t.outcomes)
	if t.filled < len(t.outcomes) {
		t.filled++
	}

	if t.underPressure() {
		t.slowDown()
		return true
	}

	if !ok {
		t.streak = 0
		return false
	}
	t.streak++
	if t.streak >= t.recoverAfter && t.allowed < t.maxWorkers {
		t.streak = 0
		t.allowed++
		t.setRate(t.limiter.Limit() * 2)
		t.notify()
	}
	return false
}

// Allowed returns the current worker ceiling
func (t *Throttle) Allowed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowed
}

// Reductions returns how many times the throttle slowed down
func (t *Throttle) Reductions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reductions
}

// underPressure must be called with mu held
func (t *Throttle) underPressure() bool {
	// Need at least half a window before judging the error ratio
	if t.filled*2 >= len(t.outcomes) {
		failures := 0
		for i := 0; i < t.filled; i++ {
			if !t.outcomes[i] {
				failures++
			}
		}
		if float64(failures)/float64(t.filled) > t.threshold {
			return true
		}
	}

	if t.memLimit > 0 && time.Since(t.lastMemCheck) > time.Second {
		t.lastMemCheck = time.Now()
		if t.heapInUse() > t.memLimit {
			return true
		}
	}
	return false
}

// slowDown must be called with mu held
func (t *Throttle) slowDown() {
	t.reductions++
	t.streak = 0
	t.filled = 0
	t.next = 0
	if t.allowed > 1 {
		t.allowed /= 2
	}
	t.setRate(t.limiter.Limit() / 2)
	t.notify()
}

func (t *Throttle) setRate(limit rate.Limit) {
	if t.baseRate == rate.Inf {
		return
	}
	if limit > t.baseRate {
		limit = t.baseRate
	}
	if floor := t.baseRate / 16; limit < floor {
		limit = floor
	}
	t.limiter.SetLimit(limit)
}

// notify wakes parked workers; must be called with mu held
func (t *Throttle) notify() {
	close(t.changed)
	t.changed = make(chan struct{})
}

func readHeapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}
