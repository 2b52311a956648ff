package bridge

import (
	"context"
	"sync"
)

// Latch is a single-slot "migration in progress" flag. Share one Latch between every
// Bridge of a process.
type Latch struct {
	mu   sync.Mutex
	held bool
	done chan struct{}
}

func NewLatch() *Latch {
	return &Latch{}
}

// TryAcquire sets the latch. When it is already held it returns false and a channel
// that is closed on the next Release.
func (l *Latch) TryAcquire() (bool, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, l.done
	}
	l.held = true
	l.done = make(chan struct{})
	return true, nil
}

// Release clears the latch and wakes every waiter. Releasing an unset latch is a no-op.
func (l *Latch) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.held = false
	close(l.done)
	l.done = nil
}

// Wait blocks until no migration holds the latch or ctx is done.
func (l *Latch) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		held, done := l.held, l.done
		l.mu.Unlock()
		if !held {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}
}
