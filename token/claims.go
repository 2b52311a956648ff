package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the identity fields carried by the provider's access token.
type Claims struct {
	jwt.RegisteredClaims
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
}

type UserMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Picture   string `json:"picture,omitempty"`
}

// DisplayName returns the best available human readable name.
func (c *Claims) DisplayName() string {
	if c.UserMetadata.FullName != "" {
		return c.UserMetadata.FullName
	}
	return c.UserMetadata.Name
}

// PictureURL returns the avatar url, preferring picture over avatar_url.
func (c *Claims) PictureURL() string {
	if c.UserMetadata.Picture != "" {
		return c.UserMetadata.Picture
	}
	return c.UserMetadata.AvatarURL
}

// ExpiredAt reports whether the token's exp has passed at now. Tokens without exp never expire here.
func (c *Claims) ExpiredAt(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(c.ExpiresAt.Time)
}

// ParseClaims decodes the access token's claims without verifying its signature. The
// backend is the authority on validity; these claims only fill in user details and let
// callers skip sending a token that has visibly expired.
func ParseClaims(accessToken string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("[ParseClaims] %w", err)
	}
	return claims, nil
}

// Expired reports whether accessToken is a JWT whose exp has passed. Opaque tokens report false.
func Expired(accessToken string, now time.Time) bool {
	claims, err := ParseClaims(accessToken)
	if err != nil {
		return false
	}
	return claims.ExpiredAt(now)
}
