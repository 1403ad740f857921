package build

import (
	"sync"
	"sync/atomic"
)

// buildLock provides non-blocking lock semantics using atomic operations
type buildLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// tryAcquire attempts to acquire the lock without blocking
func (l *buildLock) tryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// release must only be called by the goroutine that acquired the lock
func (l *buildLock) release() {
	l.state.Store(0)
}

// tenantLocks holds one build lock per tenant. Racing triggers for the same
// tenant resolve to exactly one winner.
type tenantLocks struct {
	locks sync.Map // int64 -> *buildLock
}

func (t *tenantLocks) get(tenantID int64) *buildLock {
	l, _ := t.locks.LoadOrStore(tenantID, &buildLock{})
	return l.(*buildLock)
}

func (t *tenantLocks) tryAcquire(tenantID int64) bool {
	return t.get(tenantID).tryAcquire()
}

func (t *tenantLocks) release(tenantID int64) {
	t.get(tenantID).release()
}

func (t *tenantLocks) held(tenantID int64) bool {
	return t.get(tenantID).state.Load() == 1
}
