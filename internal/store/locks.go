package store

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// tupleLocks serializes work per tuple. Waiters are admitted in arrival
// order and give up when their context ends. Unused locks are dropped.
type tupleLocks struct {
	mu sync.Mutex
	m  map[string]*tupleLock
}

type tupleLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newTupleLocks() *tupleLocks {
	return &tupleLocks{m: make(map[string]*tupleLock)}
}

func (l *tupleLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	tl, ok := l.m[key]
	if !ok {
		tl = &tupleLock{sem: semaphore.NewWeighted(1)}
		l.m[key] = tl
	}
	tl.refs++
	l.mu.Unlock()

	if err := tl.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, tl)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			tl.sem.Release(1)
			l.unref(key, tl)
		})
	}, nil
}

func (l *tupleLocks) unref(key string, tl *tupleLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tl.refs--
	if tl.refs == 0 {
		delete(l.m, key)
	}
}

func (l *tupleLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
