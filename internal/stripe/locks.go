package stripe

import "sync"

// keyedLocks serializes reconciliation per Stripe customer so concurrent
// webhook deliveries for the same customer cannot interleave.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*customerLock
}

type customerLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*customerLock)}
}

// lock acquires the lock for key and returns its release function. Lock
// entries are dropped once no goroutine holds or waits on them.
func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &customerLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
