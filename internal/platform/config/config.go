// Copyright (c) 2026 Loop Server. All rights reserved.

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (store engines, resolver,
    orchestrator) via constructors.
  - Zero Hidden State: No global variables are used to store config.

This ensures the application is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage engine identifiers accepted in STORAGE_ENGINE.
const (
	EngineMemory   = "memory"
	EnginePostgres = "postgres"
	EngineRedis    = "redis"
)

// # Configuration Schema

// Config holds all runtime configuration for the loop-server API.
type Config struct {

	// Server settings
	ServerPort  string `env:"PORT"         envDefault:"5000"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// ServerRootURL is the public base URL of this server, used to
	// reconstruct shareable call-URL invitations.
	ServerRootURL string `env:"SERVER_ROOT_URL" envDefault:"http://localhost:5000"`

	// WebSocketURL is the public base URL of the real-time progress channel.
	WebSocketURL string `env:"WEBSOCKET_URL" envDefault:"ws://localhost:5020"`

	// Storage engine selection and connection settings
	StorageEngine string `env:"STORAGE_ENGINE" envDefault:"memory"`
	DatabaseURL   string `env:"DATABASE_URL"`
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`
	RedisURL      string `env:"REDIS_URL"`

	// Schema provisioning retry policy (Postgres engine)
	SchemaRetryAttempts int           `env:"SCHEMA_RETRY_ATTEMPTS" envDefault:"8"`
	SchemaRetryBackoff  time.Duration `env:"SCHEMA_RETRY_BACKOFF"  envDefault:"50ms"`

	// Secrets
	IdentitySecret  string `env:"IDENTITY_SECRET,required"`
	AssertionSecret string `env:"ASSERTION_SECRET,required"`

	// TrustedIssuers is the comma-separated allow-list of assertion issuers.
	TrustedIssuers []string `env:"TRUSTED_ISSUERS" envSeparator:"," envDefault:"accounts.firefox.com"`

	// Call-URL token lifetimes, in hours
	CallURLDefaultHours int `env:"CALL_URL_DEFAULT_HOURS" envDefault:"24"`
	CallURLMaxHours     int `env:"CALL_URL_MAX_HOURS"     envDefault:"744"`

	// CallSupervisoryWindow is how long an unanswered call may sit in the
	// init state before it is considered abandoned.
	CallSupervisoryWindow time.Duration `env:"CALL_SUPERVISORY_WINDOW" envDefault:"30s"`

	// NotifyTimeout bounds each push-notification dispatch.
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"2s"`

	// Media-session provider settings
	ProviderURL           string        `env:"PROVIDER_URL"`
	ProviderAPIKey        string        `env:"PROVIDER_API_KEY,required"`
	ProviderAPISecret     string        `env:"PROVIDER_API_SECRET"`
	ProviderHealthTimeout time.Duration `env:"PROVIDER_HEALTH_TIMEOUT" envDefault:"1500ms"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects combinations caarlos0/env cannot express as struct tags.
func (c *Config) validate() error {
	switch c.StorageEngine {
	case EngineMemory:
	case EnginePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required when STORAGE_ENGINE=postgres")
		}
	case EngineRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("config: REDIS_URL is required when STORAGE_ENGINE=redis")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_ENGINE %q (want memory, postgres or redis)", c.StorageEngine)
	}

	if c.CallURLDefaultHours <= 0 || c.CallURLDefaultHours > c.CallURLMaxHours {
		return fmt.Errorf("config: CALL_URL_DEFAULT_HOURS must be in (0, CALL_URL_MAX_HOURS]")
	}

	return nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// OriginAllowed reports whether a browser origin may make cross-origin
// requests. Development mode allows everything; production allows only the
// configured extra origins.
func (c *Config) OriginAllowed(origin string) bool {
	if c.IsDevelopment() {
		return true
	}
	for _, allowed := range strings.Split(c.ExtraOrigins, ",") {
		if allowed != "" && strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}

// IssuerTrusted reports whether the given assertion issuer is allow-listed.
func (c *Config) IssuerTrusted(issuer string) bool {
	for _, trusted := range c.TrustedIssuers {
		if strings.EqualFold(strings.TrimSpace(trusted), issuer) {
			return true
		}
	}
	return false
}
