// Package lock provides per-user locking so that concurrent award requests
// for the same user are serialized while requests for different users
// proceed in parallel.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when a lock cannot be acquired within the
// configured timeout. Callers may safely retry: the underlying ledger
// write is idempotent.
var ErrTimeout = errors.New("user lock acquisition timeout")

// UserLock serializes mutations per user id.
type UserLock struct {
	mu    sync.Mutex
	users map[int64]*entry
}

type entry struct {
	sem     chan struct{}
	waiters int
}

// NewUserLock creates a new UserLock.
func NewUserLock() *UserLock {
	return &UserLock{users: make(map[int64]*entry)}
}

func (l *UserLock) acquireEntry(userID int64) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.users[userID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.users[userID] = e
	}
	e.waiters++
	return e
}

func (l *UserLock) releaseEntry(userID int64, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.waiters--
	if e.waiters == 0 {
		delete(l.users, userID)
	}
}

// Acquire blocks until the user's lock is held, the timeout elapses, or
// the context is cancelled. The returned release function must be called
// exactly once after a successful acquire.
func (l *UserLock) Acquire(ctx context.Context, userID int64, timeout time.Duration) (func(), error) {
	e := l.acquireEntry(userID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			l.releaseEntry(userID, e)
		}, nil
	case <-timer.C:
		l.releaseEntry(userID, e)
		return nil, ErrTimeout
	case <-ctx.Done():
		l.releaseEntry(userID, e)
		return nil, ctx.Err()
	}
}

// TryAcquire acquires the user's lock only if it is immediately available.
func (l *UserLock) TryAcquire(userID int64) (func(), bool) {
	e := l.acquireEntry(userID)
	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			l.releaseEntry(userID, e)
		}, true
	default:
		l.releaseEntry(userID, e)
		return nil, false
	}
}

// With runs fn while holding the user's lock.
func (l *UserLock) With(ctx context.Context, userID int64, timeout time.Duration, fn func() error) error {
	release, err := l.Acquire(ctx, userID, timeout)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
