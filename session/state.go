package session

import (
	"time"

	"github.com/hippocampus/sessionsync/internal/utils"
	"github.com/hippocampus/sessionsync/token"
)

type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusValidating      Status = "validating"
	StatusAuthenticated   Status = "authenticated"
	StatusRefreshing      Status = "refreshing"
	// StatusExpired is the unauthenticated state reached when a session was terminated.
	StatusExpired Status = "expired"
)

type User struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	DisplayName *string `json:"display_name,omitempty"`
	PictureURL  *string `json:"picture_url,omitempty"`
}

// userFromClaims builds a user from the access token, or nil for opaque tokens.
func userFromClaims(accessToken string) *User {
	claims, err := token.ParseClaims(accessToken)
	if err != nil || claims.Subject == "" {
		return nil
	}
	return &User{
		ID:          claims.Subject,
		Email:       claims.Email,
		DisplayName: utils.NonEmpty(claims.DisplayName()),
		PictureURL:  utils.NonEmpty(claims.PictureURL()),
	}
}

// State is one context's derived view of the session. It is never persisted.
type State struct {
	Status        Status    `json:"status"`
	User          *User     `json:"user,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	Err           string    `json:"error,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
}

// View is the projection the UI renders from.
type View struct {
	Authenticated bool   `json:"authenticated"`
	Loading       bool   `json:"loading"`
	Error         string `json:"error,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
	User          *User  `json:"user,omitempty"`
}

func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.User != nil
}

func (s State) View() View {
	v := View{
		Authenticated: s.Authenticated(),
		Loading:       s.Status == StatusValidating || s.Status == StatusRefreshing,
		Error:         s.Err,
		ErrorKind:     s.ErrorKind,
	}
	if v.Authenticated {
		v.User = s.User
	}
	return v
}
