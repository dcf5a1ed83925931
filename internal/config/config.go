// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

// Package config holds the Gatehouse runtime configuration and its loader.
//
// Configuration is loaded via Koanf v2 with layered sources (highest wins):
// environment variables, an optional YAML config file, built-in defaults.
// The resulting struct is validated with go-playground/validator before the
// server starts.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Gatehouse server.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Maintenance MaintenanceConfig `koanf:"maintenance"`
	CORS        CORSConfig        `koanf:"cors"`
	RateLimit   RateLimitConfig   `koanf:"rate_limit"`
	Session     SessionConfig     `koanf:"session"`
	Auth        AuthConfig        `koanf:"auth"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout     time.Duration `koanf:"timeout" validate:"min=1s"`
	Environment string        `koanf:"environment" validate:"oneof=development staging production"`
}

// IsProduction reports whether the server runs with production hardening
// (secure cookies, strict same-site, enforced CORS allow-list).
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// MaintenanceConfig controls the maintenance gate at startup. The gate can
// also be toggled at runtime.
type MaintenanceConfig struct {
	Enabled bool   `koanf:"enabled"`
	Message string `koanf:"message"`
}

// CORSConfig holds the cross-origin allow-list and method/header sets.
type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	ExposedHeaders   []string `koanf:"exposed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

// RateLimitConfig holds both limiter tiers. The global tier applies to all
// API traffic; the auth tier applies to authentication endpoints and counts
// only failed attempts.
type RateLimitConfig struct {
	Disabled bool          `koanf:"disabled"`
	Requests int           `koanf:"requests" validate:"min=1"`
	Window   time.Duration `koanf:"window" validate:"min=1s"`

	AuthRequests int           `koanf:"auth_requests" validate:"min=1"`
	AuthWindow   time.Duration `koanf:"auth_window" validate:"min=1s"`
}

// SessionConfig holds the Redis session store settings.
type SessionConfig struct {
	// RedisURL is a redis:// connection URL, e.g. redis://localhost:6379/0.
	RedisURL string `koanf:"redis_url" validate:"required"`

	// KeyPrefix namespaces session keys against other users of the cache.
	KeyPrefix string `koanf:"key_prefix" validate:"required"`

	// CookieName is the fixed session cookie name.
	CookieName string `koanf:"cookie_name" validate:"required"`

	// MaxAge is the rolling session lifetime; each request that touches the
	// session extends it by this much.
	MaxAge time.Duration `koanf:"max_age" validate:"min=1m"`

	// ConnectTimeout bounds how long a caller waits on an in-flight
	// connection attempt before failing with a timeout.
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"min=1s"`
}

// AuthConfig holds the credential collaborator settings for the login
// endpoint. Authorization decisions beyond credential verification live
// downstream of the pipeline.
type AuthConfig struct {
	AdminUsername     string `koanf:"admin_username"`
	AdminPasswordHash string `koanf:"admin_password_hash"`
}

// MetricsConfig controls the telemetry subsystem.
type MetricsConfig struct {
	// Enabled gates both collection and the /metrics scrape endpoint.
	Enabled bool   `koanf:"enabled"`
	Service string `koanf:"service" validate:"required"`
	Version string `koanf:"version"`
}

// LoggingConfig mirrors logging.Config for the koanf loader.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// validate is shared across Validate calls; validator caches struct info.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for structural and cross-field errors.
// Called by the loader after all layers are merged.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if ok := asValidationErrors(err, &errs); ok {
			fields := make([]string, 0, len(errs))
			for _, fe := range errs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Cross-field rules the tag syntax cannot express.
	if c.Server.IsProduction() {
		if len(c.CORS.AllowedOrigins) == 0 {
			return fmt.Errorf("invalid configuration: cors.allowed_origins must be set in production")
		}
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf("invalid configuration: wildcard CORS origin is not allowed in production")
			}
		}
		if c.Auth.AdminUsername != "" && c.Auth.AdminPasswordHash == "" {
			return fmt.Errorf("invalid configuration: auth.admin_password_hash is required in production when auth.admin_username is set")
		}
	}

	return nil
}

// asValidationErrors unwraps validator.ValidationErrors from err.
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	if errs, ok := err.(validator.ValidationErrors); ok { //nolint:errorlint // validator returns the concrete slice type
		*target = errs
		return true
	}
	return false
}
