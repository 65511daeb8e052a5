package namespace

import (
	"sync"
	"sync/atomic"

	"github.com/narwhaldb/narwhal/dberr"
)

// locker is the namespace reader-writer lock plus the invalidation
// flag a drop or rename raises. Write acquisition re-checks the flag
// after taking the lock so no writer slips past an invalidation.
type locker struct {
	mu       sync.RWMutex
	invalid  atomic.Bool
	readOnly atomic.Bool
}

func (l *locker) RLock() error {
	l.mu.RLock()
	if l.invalid.Load() {
		l.mu.RUnlock()
		return dberr.ErrNamespaceInvalidated
	}
	return nil
}

func (l *locker) RUnlock() { l.mu.RUnlock() }

func (l *locker) Lock() error {
	l.mu.Lock()
	if l.invalid.Load() {
		l.mu.Unlock()
		return dberr.ErrNamespaceInvalidated
	}
	if l.readOnly.Load() {
		l.mu.Unlock()
		return dberr.New(dberr.CodeLogic, "namespace is read only after a storage failure")
	}
	return nil
}

func (l *locker) Unlock() { l.mu.Unlock() }

// Invalidate marks the namespace dropped; every later lock fails.
func (l *locker) Invalidate() { l.invalid.Store(true) }

// MarkReadOnly blocks writers; readers keep working on the in-memory
// state until teardown.
func (l *locker) MarkReadOnly() { l.readOnly.Store(true) }

// IsReadOnly reports the flag.
func (l *locker) IsReadOnly() bool { return l.readOnly.Load() }
