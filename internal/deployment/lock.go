package deployment

import "sync"

// TreeLock is the LockManager key guarding the shared deploy tree. Every
// run writes into it, so runs started by the webhook hold this key in
// addition to the project name.
const TreeLock = "__deploy_tree__"

// LockManager hands out non-blocking named locks so that two runs never
// write the same destination at once.
//
// The outer mutex only guards the map; each key has its own mutex.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// TryLock acquires the lock for key without blocking. It returns false
// when the key is already held.
func (lm *LockManager) TryLock(key string) bool {
	lm.mu.Lock()
	lock, exists := lm.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		lm.locks[key] = lock
	}
	lm.mu.Unlock()

	return lock.TryLock()
}

// TryLockAll acquires every key or none of them.
func (lm *LockManager) TryLockAll(keys ...string) bool {
	for i, k := range keys {
		if !lm.TryLock(k) {
			for _, held := range keys[:i] {
				lm.Unlock(held)
			}
			return false
		}
	}
	return true
}

// Unlock releases key. Unlocking an unknown key is a no-op.
func (lm *LockManager) Unlock(key string) {
	lm.mu.Lock()
	lock := lm.locks[key]
	lm.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}

// UnlockAll releases every key.
func (lm *LockManager) UnlockAll(keys ...string) {
	for _, k := range keys {
		lm.Unlock(k)
	}
}
