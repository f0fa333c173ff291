package plandi

import "sync"

// lockManager hands out one lock per scope key, so that a scope builds a given
// value at most once while other values are built concurrently.
type lockManager struct {
	mu    sync.Mutex
	locks map[ScopeKey]*sync.Mutex
}

func newLockManager() *lockManager {
	return &lockManager{
		locks: make(map[ScopeKey]*sync.Mutex),
	}
}

func (lm *lockManager) getLockFor(key ScopeKey) *sync.Mutex {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lock, exists := lm.locks[key]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	lm.locks[key] = lock
	return lock
}

func (lm *lockManager) releaseLock(key ScopeKey) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.locks, key)
}
