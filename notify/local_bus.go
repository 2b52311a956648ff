package notify

import (
	"context"
	"sync"
)

var _ Bus = (*LocalBus)(nil)

// LocalBus fans messages out to subscribers of the same process. Each delivery runs on
// its own goroutine, so a slow context never blocks the publisher.
type LocalBus struct {
	mu          sync.RWMutex
	subscribers map[int]*localSubscription
	nextID      int
	wg          sync.WaitGroup
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subscribers: make(map[int]*localSubscription)}
}

type localSubscription struct {
	bus     *LocalBus
	id      int
	ctx     context.Context
	handler Handler
}

func (s *localSubscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subscribers, s.id)
	return nil
}

func (b *LocalBus) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.ctx.Err() != nil {
			continue
		}
		b.wg.Add(1)
		go func(sub *localSubscription) {
			defer b.wg.Done()
			sub.handler(sub.ctx, msg)
		}(sub)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &localSubscription{bus: b, id: b.nextID, ctx: ctx, handler: h}
	b.nextID++
	b.subscribers[sub.id] = sub
	return sub, nil
}

// Wait blocks until every delivery started so far has returned.
func (b *LocalBus) Wait() {
	b.wg.Wait()
}
