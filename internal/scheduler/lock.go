package scheduler

import (
	"sync"
	"sync/atomic"
)

// LockRegistry holds one run lock per tenant. Every lock starts unlocked.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*atomic.Bool
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*atomic.Bool)}
}

func (r *LockRegistry) lock(tenant string) *atomic.Bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[tenant]
	if !ok {
		l = new(atomic.Bool)
		r.locks[tenant] = l
	}
	return l
}

// TryLock takes the tenant's lock with a compare-and-swap and reports
// whether it succeeded. It never blocks.
func (r *LockRegistry) TryLock(tenant string) bool {
	return r.lock(tenant).CompareAndSwap(false, true)
}

// Unlock releases the tenant's lock.
func (r *LockRegistry) Unlock(tenant string) {
	r.lock(tenant).Store(false)
}

// Held reports whether a run currently holds the tenant's lock.
func (r *LockRegistry) Held(tenant string) bool {
	return r.lock(tenant).Load()
}
