// Package lock serializes work on a single campaign across goroutines and,
// with RedisLocker, across processes.
package lock

import (
	"context"
	"sync"
)

// Locker acquires the per-campaign lock. The returned unlock func is safe to
// call more than once.
type Locker interface {
	Lock(ctx context.Context, campaignID int64) (func(), error)
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker with one mutex per campaign ID.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[int64]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[int64]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, campaignID int64) (func(), error) {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[int64]*keyedEntry)
	}
	e, ok := k.entries[campaignID]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.entries[campaignID] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(campaignID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(campaignID, e)
		})
	}, nil
}

func (k *KeyedMutex) release(campaignID int64, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, campaignID)
	}
}

var _ Locker = (*KeyedMutex)(nil)
