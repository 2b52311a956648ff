package flowstate

import (
	"errors"
	"sync"
	"time"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo keeps pending logins in process memory. Expired flows are dropped on Put.
type InMemoryRepo struct {
	mu    sync.Mutex
	flows map[string]FlowState
	now   func() time.Time
}

type Option func(*InMemoryRepo)

func WithNowTime(now func() time.Time) Option {
	return func(r *InMemoryRepo) {
		r.now = now
	}
}

func NewInMemoryRepo(options ...Option) *InMemoryRepo {
	r := &InMemoryRepo{
		flows: make(map[string]FlowState),
		now:   time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *InMemoryRepo) Put(state string, flowState FlowState) error {
	if state == "" {
		return errors.New("[InMemoryRepo Put] state is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for s, fs := range r.flows {
		if now.After(fs.ExpiresAt) {
			delete(r.flows, s)
		}
	}
	r.flows[state] = flowState
	return nil
}

func (r *InMemoryRepo) Take(state string) (FlowState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs, ok := r.flows[state]
	if !ok {
		return FlowState{}, ErrNotFound
	}
	delete(r.flows, state)
	if r.now().After(fs.ExpiresAt) {
		return FlowState{}, ErrExpired
	}
	return fs, nil
}
