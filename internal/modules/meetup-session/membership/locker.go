package membership

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrLockHeld is returned by lockers that do not wait, when another
	// caller holds the key. The coordinator backs off and retries.
	ErrLockHeld = errors.New("session lock is held by another caller")

	// ErrLeaseLost is returned by Release when the lease expired and the key
	// now belongs to someone else (or nobody).
	ErrLeaseLost = errors.New("session lock lease was lost before release")
)

type Lease interface {
	Release(ctx context.Context) error
}

// Locker provides mutual exclusion per key. Acquire either waits while
// honouring ctx or fails fast with ErrLockHeld.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// NoopLocker is used with stores that serialize admission inside their own
// transactions.
type NoopLocker struct{}

func (NoopLocker) Acquire(ctx context.Context, _ string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return noopLease{}, nil
}

type noopLease struct{}

func (noopLease) Release(context.Context) error { return nil }

// LocalLocker is an in-process keyed mutex. Keys nobody holds or waits on
// are dropped.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	lock, found := l.locks[key]
	if !found {
		lock = &localLock{sem: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.sem <- struct{}{}:
		return &localLease{locker: l, key: key, lock: lock}, nil
	case <-ctx.Done():
		l.unref(key, lock)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) unref(key string, lock *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *LocalLocker) keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

type localLease struct {
	once   sync.Once
	locker *LocalLocker
	key    string
	lock   *localLock
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		<-l.lock.sem
		l.locker.unref(l.key, l.lock)
	})
	return nil
}
