// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/gatehouse/config.yaml",
	"/etc/gatehouse/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix is stripped from environment variable names before mapping them
// to config paths: GATEHOUSE_SERVER_PORT -> server.port.
const envPrefix = "GATEHOUSE_"

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			Timeout:     30 * time.Second,
			Environment: "development", // set GATEHOUSE_SERVER_ENVIRONMENT=production for hardening
		},
		Maintenance: MaintenanceConfig{
			Enabled: false,
			Message: "Service temporarily unavailable for scheduled maintenance",
		},
		CORS: CORSConfig{
			AllowedOrigins:   []string{}, // empty by default, must be configured for production
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			AllowCredentials: true,
			MaxAge:           86400,
		},
		RateLimit: RateLimitConfig{
			Disabled:     false,
			Requests:     100,
			Window:       time.Minute,
			AuthRequests: 10,
			AuthWindow:   15 * time.Minute, // brute-force window
		},
		Session: SessionConfig{
			RedisURL:       "redis://127.0.0.1:6379/0",
			KeyPrefix:      "gatehouse:sess:",
			CookieName:     "gatehouse_session",
			MaxAge:         24 * time.Hour,
			ConnectTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			AdminUsername:     "",
			AdminPasswordHash: "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Service: "gatehouse",
			Version: "dev",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: GATEHOUSE_* overrides (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// GATEHOUSE_RATE_LIMIT_AUTH_WINDOW -> rate_limit.auth_window etc.
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Outside production an unconfigured allow-list permits every origin so
	// local frontends work without config. Production still requires an
	// explicit list, enforced by Validate.
	if !cfg.Server.IsProduction() && len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, honoring CONFIG_PATH first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied through environment variables.
var sliceConfigPaths = []string{
	"cors.allowed_origins",
	"cors.allowed_methods",
	"cors.allowed_headers",
	"cors.exposed_headers",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars arrive as plain strings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// multiWordSections maps env-var name prefixes to their dotted config
// section. Needed because env names flatten multi-word section names:
// RATE_LIMIT_AUTH_WINDOW must become rate_limit.auth_window.
var multiWordSections = map[string]string{
	"rate_limit_": "rate_limit.",
}

// envTransformFunc maps an environment variable name (prefix already
// stripped) to its koanf config path.
//
// Examples:
//   - GATEHOUSE_SERVER_PORT -> server.port
//   - GATEHOUSE_SESSION_REDIS_URL -> session.redis_url
//   - GATEHOUSE_RATE_LIMIT_AUTH_WINDOW -> rate_limit.auth_window
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	for prefix, section := range multiWordSections {
		if strings.HasPrefix(key, prefix) {
			return section + strings.TrimPrefix(key, prefix)
		}
	}

	// First underscore separates the section from the field; the remainder
	// keeps its underscores (session_redis_url -> session.redis_url).
	if idx := strings.Index(key, "_"); idx > 0 {
		return key[:idx] + "." + key[idx+1:]
	}
	return key
}
