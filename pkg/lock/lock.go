package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when another holder owns the lineage
var ErrLocked = errors.New("lineage is locked by another rollback")

// Locker grants exclusive per-lineage ownership for the duration of a rollback
type Locker interface {
	// TryLock acquires the lineage without waiting. It returns ErrLocked when
	// the lineage is already held. The returned function releases the lock.
	TryLock(ctx context.Context, lineage string) (func(), error)
}

// LocalLocker is an in-process Locker for loops sharing one process
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock implements Locker
func (l *LocalLocker) TryLock(ctx context.Context, lineage string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[lineage]; ok {
		return nil, ErrLocked
	}
	l.held[lineage] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, lineage)
			l.mu.Unlock()
		})
	}, nil
}
