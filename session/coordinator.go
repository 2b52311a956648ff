package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hippocampus/sessionsync/internal/config"
)

// Coordinator owns the single in-flight auth check of a context and the cooldown
// between fresh checks. Concurrent callers await the same outcome.
type Coordinator struct {
	mu        sync.Mutex
	inflight  *checkCall
	lastFresh time.Time
	cooldown  time.Duration
	now       func() time.Time
	runs      atomic.Int64
}

type checkCall struct {
	done  chan struct{}
	state State
}

type CoordinatorOption func(*Coordinator)

func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

func NewCoordinator(cfg config.SessionConfig, options ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cooldown: cfg.GetCheckCooldown(),
		now:      time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Runs returns how many fresh checks have been started.
func (c *Coordinator) Runs() int64 {
	return c.runs.Load()
}

// Run executes check unless one is already in flight (its result is shared) or, when
// force is false, the cooldown since the last fresh check has not elapsed. The second
// return value is false when nothing ran or was awaited.
//
// The check itself is not cancelled by ctx; ctx only bounds this caller's wait.
func (c *Coordinator) Run(ctx context.Context, force bool, check func(context.Context) State) (State, bool) {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		return c.wait(ctx, call)
	}
	now := c.now()
	if !force && !c.lastFresh.IsZero() && now.Sub(c.lastFresh) < c.cooldown {
		c.mu.Unlock()
		return State{}, false
	}

	call := &checkCall{done: make(chan struct{})}
	c.inflight = call
	c.lastFresh = now
	c.runs.Add(1)
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.inflight = nil
			c.mu.Unlock()
			close(call.done)
		}()
		call.state = check(context.WithoutCancel(ctx))
	}()
	return c.wait(ctx, call)
}

// Reset forgets the cooldown so the next passive signal triggers a fresh check.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFresh = time.Time{}
}

func (c *Coordinator) wait(ctx context.Context, call *checkCall) (State, bool) {
	select {
	case <-call.done:
		return call.state, true
	case <-ctx.Done():
		return State{}, false
	}
}
