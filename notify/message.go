package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action is the signal broadcast to every extension context.
type Action string

const (
	ActionCheckAuthStatus      Action = "checkAuthStatus"
	ActionAuthStateChanged     Action = "authStateChanged"
	ActionAuthenticationFailed Action = "authenticationFailed"
)

// Message is a signal to re-validate. Receivers never treat it as state.
type Message struct {
	ID     uuid.UUID `json:"id"`
	Action Action    `json:"action"`
	Reason string    `json:"reason,omitempty"`
	Origin string    `json:"origin,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// Handler receives broadcast messages. Delivery order is not guaranteed.
type Handler func(ctx context.Context, msg Message)

type Subscription interface {
	Close() error
}

// Bus carries messages between extension contexts.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
}
