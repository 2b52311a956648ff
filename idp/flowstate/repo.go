package flowstate

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("login flow not found")
	ErrExpired  = errors.New("login flow expired")
)

// FlowState is what the daemon remembers about an interactive login between handing out
// the provider URL and receiving the redirect the web auth flow ended on.
type FlowState struct {
	Nonce     string
	AuthURL   string
	ExpiresAt time.Time
}

type Repo interface {
	Put(state string, flowState FlowState) error
	// Take removes and returns the flow for state. A flow can be completed once.
	Take(state string) (FlowState, error)
}
