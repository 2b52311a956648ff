package config

import (
	"fmt"
	"strings"
)

// EnvVars is populated from the process environment by env.ParseAs.
type EnvVars struct {
	Port     string `env:"PORT" envDefault:"8787"`
	AppName  string `env:"APP_NAME" envDefault:"Hippocampus Session"`
	Env      string `env:"ENV" envDefault:"DEV"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	BackendURL  string `env:"BACKEND_URL" envDefault:"http://127.0.0.1:8000"`
	AuthSiteURL string `env:"AUTH_SITE_URL" envDefault:"https://extension-auth.vercel.app"`

	SupabaseURL      string `env:"SUPABASE_URL"`
	SupabaseAnonKey  string `env:"SUPABASE_ANON_KEY"`
	SupabaseProvider string `env:"SUPABASE_PROVIDER" envDefault:"google"`
	OIDCIssuer       string `env:"OIDC_ISSUER"`
	OAuthClientID    string `env:"OAUTH_CLIENT_ID"`
	OAuthRedirect    string `env:"OAUTH_REDIRECT_URL"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"hippocampus"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

var _ EnvConfig = EnvVars{}
var _ BackendConfig = EnvVars{}
var _ IdentityConfig = EnvVars{}
var _ StorageConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.Port
	if port == "" {
		port = "8787"
	}
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return "DEV"
	}
	return strings.ToUpper(e.Env)
}

func (e EnvVars) GetLogLevel() string {
	return strings.ToLower(e.LogLevel)
}

// GetBackendURL returns the API base URL without a trailing slash.
func (e EnvVars) GetBackendURL() string {
	return strings.TrimSuffix(e.BackendURL, "/")
}

// GetAuthSiteURL returns the origin of the out-of-band login site.
func (e EnvVars) GetAuthSiteURL() string {
	return strings.TrimSuffix(e.AuthSiteURL, "/")
}

func (e EnvVars) GetSupabaseURL() string {
	return strings.TrimSuffix(e.SupabaseURL, "/")
}

func (e EnvVars) GetSupabaseAnonKey() string {
	return e.SupabaseAnonKey
}

// GetSupabaseProvider names the external provider Supabase's authorize endpoint redirects to.
func (e EnvVars) GetSupabaseProvider() string {
	return e.SupabaseProvider
}

func (e EnvVars) GetOIDCIssuer() string {
	return e.OIDCIssuer
}

func (e EnvVars) GetOAuthClientID() string {
	return e.OAuthClientID
}

func (e EnvVars) GetOAuthRedirectURL() string {
	return e.OAuthRedirect
}

func (e EnvVars) GetRedisAddr() string {
	return e.RedisAddr
}

func (e EnvVars) GetRedisPassword() string {
	return e.RedisPassword
}

func (e EnvVars) GetRedisPrefix() string {
	return e.RedisPrefix
}

// UseRedis is true when a shared redis is configured; otherwise tokens live in process memory.
func (e EnvVars) UseRedis() bool {
	return e.RedisAddr != ""
}
