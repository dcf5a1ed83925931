// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mvillar/gatehouse/internal/auth"
	"github.com/mvillar/gatehouse/internal/config"
	"github.com/mvillar/gatehouse/internal/metrics"
	"github.com/mvillar/gatehouse/internal/middleware"
	"github.com/mvillar/gatehouse/internal/session"
)

// Router assembles the request pipeline and routes. Middleware order is
// load-bearing: correlation ids come first so every later stage can log
// them, the maintenance gate sits before any expensive work,
// instrumentation wraps both the recoverer and the limiters so panics and
// 429 rejections land in the HTTP metrics with their real status, CORS
// must see OPTIONS preflights before auth-sensitive stages, and sessions
// load only after the global limiter so a throttled client never costs a
// Redis round trip.
type Router struct {
	cfg         *config.Config
	registry    *metrics.Registry
	sessions    *session.Manager
	maintenance *middleware.Maintenance
	limiter     *middleware.RateLimiter
	verifier    *auth.Verifier
	handler     *Handler

	// mounts are extension points attached under the pipeline.
	mounts map[string]http.Handler
}

// NewRouter wires the pipeline components. registry may be nil when
// metrics are disabled; verifier may be nil when no admin account is
// configured (login then always fails closed).
func NewRouter(cfg *config.Config, registry *metrics.Registry, sessions *session.Manager, verifier *auth.Verifier) *Router {
	maintenance := middleware.NewMaintenance(
		cfg.Maintenance.Enabled,
		cfg.Maintenance.Message,
		5*time.Minute,
	)
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Disabled:     cfg.RateLimit.Disabled,
		Requests:     cfg.RateLimit.Requests,
		Window:       cfg.RateLimit.Window,
		AuthRequests: cfg.RateLimit.AuthRequests,
		AuthWindow:   cfg.RateLimit.AuthWindow,
	}, registry)

	r := &Router{
		cfg:         cfg,
		registry:    registry,
		sessions:    sessions,
		maintenance: maintenance,
		limiter:     limiter,
		verifier:    verifier,
		mounts:      make(map[string]http.Handler),
	}
	r.handler = NewHandler(r)
	return r
}

// Maintenance exposes the runtime maintenance gate for admin toggling.
func (router *Router) Maintenance() *middleware.Maintenance {
	return router.maintenance
}

// Mount attaches an extension handler under the given path prefix. Mounted
// handlers sit behind the full pipeline. Must be called before Setup.
func (router *Router) Mount(pattern string, h http.Handler) {
	router.mounts[pattern] = h
}

// Setup configures all HTTP routes and returns the root handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	// Applied to ALL routes in order
	r.Use(middleware.RequestID)                   // Correlation id before anything else
	r.Use(router.maintenance.Handler)             // Gate closed work early
	r.Use(chimiddleware.RealIP)                   // Extract real IP from X-Forwarded-For
	r.Use(middleware.Instrument(router.registry)) // Wraps recoverer and limiters: 500s and 429s are recorded
	r.Use(chimiddleware.Recoverer)                // Recover from panics
	r.Use(router.corsHandler())                   // CORS must be global to handle OPTIONS preflight
	r.Use(router.limiter.Global())                // Throttled clients never reach the session store
	r.Use(session.Middleware(router.sessions))
	r.Use(chimiddleware.Compress(5))
	r.Use(APISecurityHeaders())

	// ========================
	// Health Endpoints
	// ========================
	// Exempt from maintenance mode so probes keep working
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// ========================
	// Authentication Endpoints
	// ========================
	// The auth tier counts only failed attempts, so legitimate users are
	// never locked out by their own successful logins.
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(router.limiter.Auth()).Post("/login", router.handler.Login)
		r.Post("/logout", router.handler.Logout)
		r.Get("/session", router.handler.SessionInfo)
	})

	// ========================
	// Admin Endpoints
	// ========================
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(RequireAuth())
		r.Get("/maintenance", router.handler.MaintenanceStatus)
		r.Put("/maintenance", router.handler.MaintenanceUpdate)
	})

	// ========================
	// Webhook Endpoints
	// ========================
	// Webhooks stay reachable during maintenance; upstreams drop events
	// they cannot deliver.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/{source}", router.handler.Webhook)
	})

	// ========================
	// Metrics Endpoint
	// ========================
	if router.registry != nil && router.cfg.Metrics.Enabled {
		r.Get("/metrics", router.registry.Handler().ServeHTTP)
	} else {
		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			WriteNotFound(w, req, "Metrics collection is disabled")
		})
	}

	// Extension mounts behind the full pipeline
	for pattern, h := range router.mounts {
		r.Mount(pattern, h)
	}

	// Unmatched routes get a structured JSON body, not the default
	// text/plain 404.
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		WriteRouteFallback(w, req, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		WriteError(w, req, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	return r
}

// corsHandler builds the CORS middleware from configuration using
// go-chi/cors. Origins default to empty, requiring explicit configuration;
// production rejects wildcards at config validation time.
func (router *Router) corsHandler() func(http.Handler) http.Handler {
	c := router.cfg.CORS
	return cors.Handler(cors.Options{
		AllowedOrigins:   c.AllowedOrigins,
		AllowedMethods:   c.AllowedMethods,
		AllowedHeaders:   c.AllowedHeaders,
		ExposedHeaders:   c.ExposedHeaders,
		AllowCredentials: c.AllowCredentials,
		MaxAge:           c.MaxAge,
	})
}

// APISecurityHeaders returns a middleware that adds security headers to
// API responses. HSTS is added only when the request arrived over HTTPS
// or through a TLS-terminating proxy.
func APISecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth returns a middleware that rejects unauthenticated requests.
// A request whose session store is unavailable gets 503, not 401: the
// caller may well hold a valid session we cannot see right now.
func RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := session.FromContext(r.Context())
			if sess.Err() != nil {
				NewResponseWriter(w, r).ServiceUnavailable("Session store unavailable")
				return
			}
			if !sess.Authenticated() {
				NewResponseWriter(w, r).Unauthorized("Authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
