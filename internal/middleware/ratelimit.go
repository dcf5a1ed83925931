// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"

	"github.com/mvillar/gatehouse/internal/cache"
	"github.com/mvillar/gatehouse/internal/logging"
	"github.com/mvillar/gatehouse/internal/metrics"
)

// rateLimitResponse is the 429 body for both limiter tiers.
type rateLimitResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// RateLimitConfig holds the two limiter tiers: a per-IP global ceiling over
// all routes, and a stricter auth tier that only counts failed attempts so
// legitimate logins are never throttled by their own successes.
type RateLimitConfig struct {
	Disabled bool

	// Global tier: all requests per client IP.
	Requests int
	Window   time.Duration

	// Auth tier: failed attempts per client IP.
	AuthRequests int
	AuthWindow   time.Duration
}

// RateLimiter builds the pipeline's limiter middlewares.
type RateLimiter struct {
	cfg      RateLimitConfig
	reg      *metrics.Registry
	failures *cache.SlidingWindowStore
}

// NewRateLimiter creates both tiers. reg may be nil when metrics are
// disabled; limiting still applies, only the counters are skipped.
func NewRateLimiter(cfg RateLimitConfig, reg *metrics.Registry) *RateLimiter {
	return &RateLimiter{
		cfg:      cfg,
		reg:      reg,
		failures: cache.NewSlidingWindowStore(cfg.AuthWindow, 10, 10000),
	}
}

// rateLimitExemptPrefixes lists paths neither tier throttles: orchestration
// probes and metric scrapes must keep working while a client is throttled.
var rateLimitExemptPrefixes = []string{
	"/api/v1/health",
	"/metrics",
}

func rateLimitExempt(path string) bool {
	for _, prefix := range rateLimitExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Global returns the per-IP limiter applied to every route except the
// exempt prefixes. Built on httprate's sliding-window counter; rejections
// produce a structured 429 with a retry hint and are recorded in the
// rate-limit metric.
func (rl *RateLimiter) Global() func(http.Handler) http.Handler {
	if rl.cfg.Disabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	limit := httprate.Limit(
		rl.cfg.Requests,
		rl.cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			rl.reject(w, r, "global", rl.cfg.Requests, int(rl.cfg.Window.Seconds()))
		}),
	)

	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rateLimitExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// Auth returns the authentication-tier limiter. Unlike the global tier it
// counts only failed attempts: the request is let through, and the
// response status decides whether the client's failure window grows.
// Clients over the threshold are rejected before the handler runs.
func (rl *RateLimiter) Auth() func(http.Handler) http.Handler {
	if rl.cfg.Disabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)

			if rl.failures.Count(key) >= int64(rl.cfg.AuthRequests) {
				rl.reject(w, r, "auth", rl.cfg.AuthRequests, int(rl.cfg.AuthWindow.Seconds()))
				return
			}

			wrapper := &instrumentWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			if wrapper.statusCode >= http.StatusBadRequest {
				rl.failures.Increment(key)
			}
		})
	}
}

// reject writes the 429 envelope, records the hit, and logs at warning
// level with the request id for correlation. The endpoint label is
// normalized so abusive clients cannot mint one series per URL.
func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, tier string, limit, retryAfter int) {
	if rl.reg != nil {
		rl.reg.RecordRateLimitHit(NormalizePath(r.URL.Path), r.RemoteAddr)
	}
	logging.Ctx(r.Context()).Warn().
		Str("tier", tier).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Msg("Rate limit exceeded")

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	resp := rateLimitResponse{
		Error:      "TooManyRequests",
		Message:    "Rate limit exceeded, slow down",
		RetryAfter: retryAfter,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to write rate limit response")
	}
}

// clientIP extracts the remote IP, dropping the port when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
