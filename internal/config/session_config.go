package config

import "time"

type IdentityConfig interface {
	GetSupabaseURL() string
	GetSupabaseAnonKey() string
	GetSupabaseProvider() string
	GetOIDCIssuer() string
	GetOAuthClientID() string
	GetOAuthRedirectURL() string
}

// SessionConfig holds the timing bounds of the session protocol.
type SessionConfig interface {
	GetStatusCheckTimeout() time.Duration
	GetCheckCooldown() time.Duration
	GetMaxRequestAttempts() int
	GetRetryBackoff() time.Duration
	GetRefreshTimeout() time.Duration
	GetMigrationPolls() int
	GetMigrationBaseDelay() time.Duration
	GetMigrationWatchTimeout() time.Duration
	GetDefaultAccessTokenExpiry() time.Duration
	GetDefaultRefreshTokenExpiry() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetStatusCheckTimeout() time.Duration {
	return 10 * time.Second
}

func (Session) GetCheckCooldown() time.Duration {
	return 2 * time.Second
}

func (Session) GetMaxRequestAttempts() int {
	return 3
}

// GetRetryBackoff is multiplied by the attempt number between retries.
func (Session) GetRetryBackoff() time.Duration {
	return 1 * time.Second
}

func (Session) GetRefreshTimeout() time.Duration {
	return 15 * time.Second
}

func (Session) GetMigrationPolls() int {
	return 5
}

func (Session) GetMigrationBaseDelay() time.Duration {
	return 500 * time.Millisecond
}

func (Session) GetMigrationWatchTimeout() time.Duration {
	return 60 * time.Second
}

func (Session) GetDefaultAccessTokenExpiry() time.Duration {
	return 1 * time.Hour
}

func (Session) GetDefaultRefreshTokenExpiry() time.Duration {
	return 7 * 24 * time.Hour // 7 days
}
