// Package keylock provides string-keyed read/write locks with context-bounded
// acquisition. Reconciliations take an exclusive lock on their
// (account, instrument) key and a shared lock on the account key; rebuilds take
// the account key exclusively, so they cannot race individual reconciliations
// while disjoint pairs stay fully independent.
package keylock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// enough for any realistic number of concurrent readers
const maxWeight = 1 << 30

type item struct {
	sem  *semaphore.Weighted
	refs int
}

type KeyLock struct {
	mu    sync.Mutex
	items map[string]*item
}

func New() *KeyLock {
	return &KeyLock{items: make(map[string]*item)}
}

// Lock acquires key exclusively. It blocks until the lock is acquired or ctx
// is done; on success the returned func releases the lock.
func (l *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	return l.acquire(ctx, key, maxWeight)
}

// RLock acquires key shared: any number of RLock holders may coexist, but none
// while a Lock is held.
func (l *KeyLock) RLock(ctx context.Context, key string) (func(), error) {
	return l.acquire(ctx, key, 1)
}

func (l *KeyLock) acquire(ctx context.Context, key string, weight int64) (func(), error) {
	l.mu.Lock()
	it, ok := l.items[key]
	if !ok {
		it = &item{sem: semaphore.NewWeighted(maxWeight)}
		l.items[key] = it
	}
	it.refs++
	l.mu.Unlock()

	if err := it.sem.Acquire(ctx, weight); err != nil {
		l.put(key, it)
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			it.sem.Release(weight)
			l.put(key, it)
		})
	}
	return release, nil
}

// put drops one reference and removes the entry when nobody holds or waits on
// it, so the map does not grow with dead keys.
func (l *KeyLock) put(key string, it *item) {
	l.mu.Lock()
	it.refs--
	if it.refs == 0 {
		delete(l.items, key)
	}
	l.mu.Unlock()
}
