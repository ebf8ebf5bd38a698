package usecase

import (
	"context"
	"sync"
)

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// keyedLocks serializes work per key. Entries live only while someone holds
// or waits for them.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{
		locks: make(map[string]*lockEntry),
	}
}

// Lock blocks until key is free or ctx is done. On success it returns the
// function that frees the key.
func (that *keyedLocks) Lock(ctx context.Context, key string) (func(), error) {
	entry := that.acquire(key)

	select {
	case entry.sem <- struct{}{}:
		return func() {
			<-entry.sem
			that.release(key)
		}, nil
	case <-ctx.Done():
		that.release(key)
		return nil, ctx.Err()
	}
}

func (that *keyedLocks) acquire(key string) *lockEntry {
	that.mu.Lock()
	defer that.mu.Unlock()

	entry, ok := that.locks[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		that.locks[key] = entry
	}
	entry.refs++

	return entry
}

func (that *keyedLocks) release(key string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	entry, ok := that.locks[key]
	if !ok {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(that.locks, key)
	}
}

func (that *keyedLocks) size() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.locks)
}
