package service

import "sync"

// accountLocks is the per-account serialization point: operations for the
// same account are appended and merged strictly sequentially while
// different accounts proceed in parallel. Process-local; deployments that
// scale out shard accounts across nodes.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the account's critical section and returns its unlock func
func (a *accountLocks) Lock(accountID string) func() {
	a.mu.Lock()
	lock, ok := a.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[accountID] = lock
	}
	a.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
