package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hippocampus/sessionsync/cookies"
	"github.com/hippocampus/sessionsync/token"
)

var _ token.ChangeNotifier = (*Notifier)(nil)

// Notifier turns local observations into broadcasts. Publishing is fire-and-forget:
// failures are logged and receivers converge by re-validating.
type Notifier struct {
	bus         Bus
	origin      string
	backendHost string
	now         func() time.Time
}

type NotifierOption func(*Notifier)

func WithOrigin(origin string) NotifierOption {
	return func(n *Notifier) {
		n.origin = origin
	}
}

func WithNowTime(now func() time.Time) NotifierOption {
	return func(n *Notifier) {
		n.now = now
	}
}

// NewNotifier creates a notifier that watches auth cookies of backendURL's host.
func NewNotifier(bus Bus, backendURL string, options ...NotifierOption) (*Notifier, error) {
	host, err := cookies.Host(backendURL)
	if err != nil {
		return nil, fmt.Errorf("[NewNotifier] backend url: %w", err)
	}
	n := &Notifier{
		bus:         bus,
		origin:      uuid.NewString(),
		backendHost: host,
		now:         time.Now,
	}
	for _, opt := range options {
		opt(n)
	}
	return n, nil
}

// Origin identifies the context that publishes through this notifier.
func (n *Notifier) Origin() string {
	return n.origin
}

// TokensChanged is the token store hook.
func (n *Notifier) TokensChanged(ctx context.Context, kind token.ChangeKind) {
	n.publish(ctx, ActionAuthStateChanged, "tokens_"+string(kind))
}

// CookieChanged broadcasts checkAuthStatus for access and refresh token cookies of the
// backend. It reports whether the change was relevant.
func (n *Notifier) CookieChanged(ctx context.Context, change cookies.Change) bool {
	if !cookies.IsAuthTokenChange(change, n.backendHost) {
		return false
	}
	reason := "cookie_set"
	if change.Removed {
		reason = "cookie_removed"
	}
	n.publish(ctx, ActionCheckAuthStatus, reason)
	return true
}

// AuthenticationFailed is raised by the request gateway after a terminal auth failure.
func (n *Notifier) AuthenticationFailed(ctx context.Context, reason string) {
	n.publish(ctx, ActionAuthenticationFailed, reason)
}

// AuthCompleted announces that a login finished in some context.
func (n *Notifier) AuthCompleted(ctx context.Context) {
	n.publish(ctx, ActionAuthStateChanged, "auth_completed")
}

// WatchCookies forwards every change of store to CookieChanged.
func (n *Notifier) WatchCookies(store cookies.Store) (unsubscribe func()) {
	return store.OnChanged(func(change cookies.Change) {
		n.CookieChanged(context.Background(), change)
	})
}

func (n *Notifier) publish(ctx context.Context, action Action, reason string) {
	msg := Message{
		ID:     uuid.New(),
		Action: action,
		Reason: reason,
		Origin: n.origin,
		SentAt: n.now(),
	}
	if err := n.bus.Publish(ctx, msg); err != nil {
		log.Warn().Err(err).Str("action", string(action)).Msg("notify: publish failed")
		return
	}
	log.Debug().Str("action", string(action)).Str("reason", reason).Str("id", msg.ID.String()).Msg("notify: broadcast")
}
