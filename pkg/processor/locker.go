package processor

import (
	"context"
	"sync"
)

// ContactLocker serializes the jobs of one contact across concurrent batches.
// The returned func releases the lock.
type ContactLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker is a keyed mutex for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*keyLock{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()

	lock, ok := l.locks[key]
	if !ok {
		lock = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lock
	}

	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lock, false)

		return nil, ctx.Err()
	}

	var once sync.Once

	return func() {
		once.Do(func() { l.release(key, lock, true) })
	}, nil
}

func (l *LocalLocker) release(key string, lock *keyLock, held bool) {
	if held {
		<-lock.ch
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}
