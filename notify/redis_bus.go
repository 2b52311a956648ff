package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ Bus = (*RedisBus)(nil)

const channelSuffix = "auth-events"

// RedisBus broadcasts messages over redis pub/sub for contexts living in other processes.
type RedisBus struct {
	rdb     redis.UniversalClient
	channel string
}

func NewRedisBus(rdb redis.UniversalClient, prefix string) *RedisBus {
	return &RedisBus{
		rdb:     rdb,
		channel: fmt.Sprintf("%s:%s", prefix, channelSuffix),
	}
}

func (b *RedisBus) Channel() string {
	return b.channel
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("[RedisBus Publish] marshal: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("[RedisBus Publish] PUBLISH %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server. Messages are
// handled sequentially until ctx is done or the subscription is closed.
func (b *RedisBus) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("[RedisBus Subscribe] SUBSCRIBE %s: %w", b.channel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					log.Warn().Err(err).Str("channel", m.Channel).Msg("notify: dropping malformed message")
					continue
				}
				h(ctx, msg)
			}
		}
	}()
	return pubsub, nil
}
