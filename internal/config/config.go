package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config interface {
	EnvConfig
	BackendConfig
	IdentityConfig
	CorsConfig
	SessionConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type BackendConfig interface {
	GetBackendURL() string
	GetAuthSiteURL() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
}

type StorageConfig interface {
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisPrefix() string
	UseRedis() bool
}

type mainConfig struct {
	EnvVars
	Cors
	Session
}

// New parses the environment into a Config.
func New() (Config, error) {
	vars, err := env.ParseAs[EnvVars]()
	if err != nil {
		return nil, fmt.Errorf("[config New] failed to parse environment: %w", err)
	}
	return mainConfig{
		EnvVars: vars,
		Cors:    Cors{origins: newAllowedOrigins(vars.AllowedOrigins)},
	}, nil
}
