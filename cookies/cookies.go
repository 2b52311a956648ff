package cookies

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hippocampus/sessionsync/token"
)

// AuthCookieNames are every cookie the backend and the auth site may set for a session.
var AuthCookieNames = []string{
	token.AccessTokenKey,
	token.RefreshTokenKey,
	"user_id",
	"user_name",
	"user_picture",
}

type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
}

// Change mirrors the platform's cookie onChanged event.
type Change struct {
	Cookie  Cookie `json:"cookie"`
	Removed bool   `json:"removed"`
	Cause   string `json:"cause,omitempty"`
}

// Store is the platform cookie store, scoped by URL.
type Store interface {
	Get(ctx context.Context, rawURL, name string) (Cookie, bool, error)
	Set(ctx context.Context, rawURL string, c Cookie) error
	Remove(ctx context.Context, rawURL, name string) error
	OnChanged(fn func(Change)) (unsubscribe func())
}

// IsAuthTokenChange reports whether a change concerns the access or refresh token cookie of host.
func IsAuthTokenChange(c Change, host string) bool {
	if c.Cookie.Domain != host && c.Cookie.Domain != "."+host {
		return false
	}
	return c.Cookie.Name == token.AccessTokenKey || c.Cookie.Name == token.RefreshTokenKey
}

// ReadPair reads the token cookies set for rawURL.
func ReadPair(ctx context.Context, store Store, rawURL string) (token.Pair, error) {
	access, _, err := store.Get(ctx, rawURL, token.AccessTokenKey)
	if err != nil {
		return token.Pair{}, fmt.Errorf("[ReadPair] %w", err)
	}
	refresh, _, err := store.Get(ctx, rawURL, token.RefreshTokenKey)
	if err != nil {
		return token.Pair{}, fmt.Errorf("[ReadPair] %w", err)
	}
	return token.Pair{AccessToken: access.Value, RefreshToken: refresh.Value}, nil
}

// ClearAuthCookies removes every auth cookie from each origin. Failures are logged and skipped.
func ClearAuthCookies(ctx context.Context, store Store, urls ...string) {
	seen := make(map[string]bool, len(urls))
	for _, raw := range urls {
		origin := raw
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			origin = u.Scheme + "://" + u.Host
		}
		if raw == "" || seen[origin] {
			continue
		}
		seen[origin] = true

		for _, name := range AuthCookieNames {
			if err := store.Remove(ctx, origin, name); err != nil {
				log.Warn().Err(err).Str("origin", origin).Str("cookie", name).Msg("cookies: failed to clear")
			}
		}
	}
}

// Host returns the hostname of rawURL.
func Host(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("[cookies Host] %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("[cookies Host] no host in %q", rawURL)
	}
	return u.Hostname(), nil
}
