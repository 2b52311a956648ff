package token

import (
	"context"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Storage keys shared by every backend. No other auth state is persisted.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Pair is the credential pair issued by the identity provider.
// AccessToken is a short-lived bearer token (~1 hour), RefreshToken is longer lived (~7 days).
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IsZero reports whether the pair holds no credentials at all.
func (p Pair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Complete reports whether both tokens are present.
func (p Pair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// Backend is one persistence layer for the pair (extension storage, the vendor SDK session, redis).
// Load returns a zero Pair and no error when nothing is stored.
type Backend interface {
	Load(ctx context.Context) (Pair, error)
	Save(ctx context.Context, pair Pair) error
	Delete(ctx context.Context) error
}

// ChangeKind identifies the mutation applied to the store.
type ChangeKind string

const (
	ChangeSet     ChangeKind = "set"
	ChangeCleared ChangeKind = "cleared"
)

// ChangeNotifier receives every mutation of the store after it has been written.
type ChangeNotifier interface {
	TokensChanged(ctx context.Context, kind ChangeKind)
}

// Fingerprint returns a short digest of a token that is safe to log.
func Fingerprint(tok string) string {
	if tok == "" {
		return "-"
	}
	sum := blake2b.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:4])
}
