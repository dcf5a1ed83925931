// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

// Package main is the entry point for the Gatehouse server.
//
// Gatehouse is the edge request pipeline of a backend service: correlation
// ids, maintenance gating, CORS, Redis-backed sessions, two-tier rate
// limiting, and Prometheus instrumentation, assembled in front of the
// application's endpoints.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: load settings from defaults, config file, and
//     environment variables (Koanf v2)
//  2. Logging: zerolog with the configured level and format
//  3. Metrics: a dependency-injected Prometheus registry (if enabled)
//  4. Session store: connect to Redis; startup aborts if the store is
//     unreachable within the connect timeout
//  5. Router: middleware pipeline and routes
//  6. Supervisor tree: session keepalive and HTTP server under suture
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (GATEHOUSE_ prefix)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete (10s timeout)
//   - Closes the session store connection
//
// # Example Usage
//
// Development:
//
//	export GATEHOUSE_SESSION_REDIS_URL=redis://localhost:6379/0
//	./gatehouse
//
// Production:
//
//	export GATEHOUSE_SERVER_ENVIRONMENT=production
//	export GATEHOUSE_CORS_ALLOWED_ORIGINS=https://app.example.com
//	export GATEHOUSE_AUTH_ADMIN_USERNAME=admin
//	export GATEHOUSE_AUTH_ADMIN_PASSWORD_HASH='$2a$12$...'
//	export GATEHOUSE_SESSION_REDIS_URL=redis://redis:6379/0
//	./gatehouse
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mvillar/gatehouse/internal/api"
	"github.com/mvillar/gatehouse/internal/auth"
	"github.com/mvillar/gatehouse/internal/config"
	"github.com/mvillar/gatehouse/internal/logging"
	"github.com/mvillar/gatehouse/internal/metrics"
	"github.com/mvillar/gatehouse/internal/session"
	"github.com/mvillar/gatehouse/internal/supervisor"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Bool("maintenance", cfg.Maintenance.Enabled).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("Starting Gatehouse")

	// Metrics registry (dependency-injected, no package-level state)
	var registry *metrics.Registry
	if cfg.Metrics.Enabled {
		registry = metrics.NewRegistry(metrics.Opts{
			Service:     cfg.Metrics.Service,
			Version:     api.Version,
			Environment: cfg.Server.Environment,
		})
	} else {
		logging.Warn().Msg("Metrics collection disabled")
	}

	// Session store: a service without sessions is not worth starting,
	// so a connect failure here is fatal.
	sessions := session.NewManager(session.Config{
		RedisURL:       cfg.Session.RedisURL,
		KeyPrefix:      cfg.Session.KeyPrefix,
		CookieName:     cfg.Session.CookieName,
		MaxAge:         cfg.Session.MaxAge,
		ConnectTimeout: cfg.Session.ConnectTimeout,
		SecureCookies:  cfg.Server.IsProduction(),
	}, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sessions.Connect(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to session store")
	}

	// Admin credentials are optional; without them login always fails.
	var verifier *auth.Verifier
	if cfg.Auth.AdminUsername != "" {
		verifier, err = auth.NewVerifier(cfg.Auth.AdminUsername, cfg.Auth.AdminPasswordHash)
		if err != nil {
			logging.Fatal().Err(err).Msg("Invalid admin credentials configuration")
		}
		logging.Info().Str("user", cfg.Auth.AdminUsername).Msg("Admin account configured")
	} else {
		logging.Warn().Msg("No admin account configured; login is disabled")
	}

	router := api.NewRouter(cfg, registry, sessions, verifier)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	// Supervisor tree: zerolog bridged to slog for sutureslog
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddStorageService(supervisor.NewSessionService(sessions, 30*time.Second))
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor has fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
