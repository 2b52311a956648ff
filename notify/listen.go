package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Revalidator is a context that re-runs its own auth check when signalled.
type Revalidator interface {
	HandleSignal(ctx context.Context, msg Message)
}

// Listen subscribes rv to every broadcast on bus until ctx is done.
func Listen(ctx context.Context, bus Bus, rv Revalidator) (Subscription, error) {
	sub, err := bus.Subscribe(ctx, func(ctx context.Context, msg Message) {
		log.Debug().Str("action", string(msg.Action)).Str("origin", msg.Origin).Msg("notify: signal received")
		rv.HandleSignal(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("[Listen] %w", err)
	}
	return sub, nil
}
