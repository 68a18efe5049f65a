// Package interp provides the interpreter lock: the single process-wide
// mutex that serialises every goroutine running allocator or collector
// code.
//
// Goroutines release the lock only around blocking operations, through
// AllowConcurrency, and always hold it again before touching heap state.
package interp

import (
	"sync"
	"sync/atomic"

	"github.com/joshuapare/blockgc/heap/fault"
	"github.com/joshuapare/blockgc/internal/logger"
)

// Lock is the interpreter lock. The zero value is unlocked and ready to use.
type Lock struct {
	mu      sync.Mutex
	held    atomic.Bool
	threads atomic.Int32 // goroutines started with Go and still running
	wg      sync.WaitGroup
}

// Acquire blocks until the lock is held by the caller.
func (l *Lock) Acquire() {
	l.mu.Lock()
	l.held.Store(true)
}

// Release gives up the lock. Releasing an unheld lock is a violation.
func (l *Lock) Release() {
	if !l.held.Load() {
		fault.Raise("interp", "release of unheld interpreter lock")
	}
	l.held.Store(false)
	l.mu.Unlock()
}

// Held reports whether some goroutine holds the lock.
func (l *Lock) Held() bool { return l.held.Load() }

// Check raises a violation when more than one goroutine runs interpreter
// code and the lock is not held.
func (l *Lock) Check() {
	if l.threads.Load() > 0 && !l.held.Load() {
		fault.Raise("interp", "interpreter lock not held")
	}
}

// AllowConcurrency releases the lock around fn and reacquires it on every
// exit path, panics included. The caller must hold the lock.
func (l *Lock) AllowConcurrency(fn func() error) error {
	l.Release()
	defer l.Acquire()
	return fn()
}

// Go runs fn on a new goroutine that holds the lock for its whole run,
// except inside AllowConcurrency.
func (l *Lock) Go(fn func()) {
	l.threads.Add(1)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.threads.Add(-1)

		l.Acquire()
		defer l.Release()
		logger.Debug("interp: thread started", "threads", l.threads.Load())
		fn()
	}()
}

// Threads returns the number of goroutines started with Go still running.
func (l *Lock) Threads() int { return int(l.threads.Load()) }

// Wait blocks until every goroutine started with Go has returned. The
// caller must not hold the lock.
func (l *Lock) Wait() { l.wg.Wait() }
