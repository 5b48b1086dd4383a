package service

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyedLocker hands out one exclusive lock per key. Link and sync operations
// for the same account take the lock keyed by the account ID, so they never
// write concurrently. Entries are dropped once no caller holds or waits on them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewKeyedLocker creates an empty KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

func (l *KeyedLocker) acquire(key string) *keyedLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.locks[key]
	if !ok {
		kl = &keyedLock{sem: semaphore.NewWeighted(1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *KeyedLocker) release(key string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// TryLock takes the lock for key without waiting. ok is false when someone
// else holds it.
func (l *KeyedLocker) TryLock(key string) (unlock func(), ok bool) {
	kl := l.acquire(key)
	if !kl.sem.TryAcquire(1) {
		l.release(key, kl)
		return nil, false
	}
	return l.unlocker(key, kl), true
}

// Lock waits for the lock for key until ctx is done.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (unlock func(), err error) {
	kl := l.acquire(key)
	if err := kl.sem.Acquire(ctx, 1); err != nil {
		l.release(key, kl)
		return nil, err
	}
	return l.unlocker(key, kl), nil
}

func (l *KeyedLocker) unlocker(key string, kl *keyedLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			kl.sem.Release(1)
			l.release(key, kl)
		})
	}
}

// Held reports whether key is currently locked or awaited.
func (l *KeyedLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.locks[key]
	return ok
}
