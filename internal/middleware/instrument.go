// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mvillar/gatehouse/internal/logging"
	"github.com/mvillar/gatehouse/internal/metrics"
)

// SlowRequestThreshold is the latency above which a completed request is
// logged at warning level.
const SlowRequestThreshold = 5 * time.Second

// Instrument records per-request telemetry: the active-request gauge is
// bumped for the request's lifetime, and on completion the counter and
// latency histogram are updated with the normalized route, status, and
// caller class. Completion runs exactly once per request, including the
// panic path. When reg is nil the middleware is a pass-through.
func Instrument(reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if reg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reg.TrackActiveRequest(true)

			start := time.Now()
			wrapper := &instrumentWriter{ResponseWriter: w, statusCode: http.StatusOK}
			caller := ClassifyCaller(r)

			done := false
			complete := func() {
				if done {
					return
				}
				done = true
				reg.TrackActiveRequest(false)

				duration := time.Since(start)
				route := routePattern(r)
				status := strconv.Itoa(wrapper.statusCode)
				reg.RecordHTTPRequest(r.Method, route, status, caller, duration)

				if duration > SlowRequestThreshold {
					logging.Ctx(r.Context()).Warn().
						Str("method", r.Method).
						Str("route", route).
						Str("status", status).
						Dur("duration", duration).
						Str("caller", caller).
						Str("remote_addr", r.RemoteAddr).
						Str("user_agent", r.UserAgent()).
						Msg("Slow request detected")
				}
			}
			defer complete()

			next.ServeHTTP(wrapper, r)
			complete()
		})
	}
}

// ClassifyCaller buckets a request into a bounded caller vocabulary so the
// metric label set stays small: session or bearer callers are
// "authenticated", key-carrying integrations are "api_client", webhook
// deliveries are "webhook", everyone else "anonymous".
func ClassifyCaller(r *http.Request) string {
	switch {
	case r.Header.Get("Authorization") != "":
		return metrics.CallerAuthenticated
	case r.Header.Get("X-API-Key") != "":
		return metrics.CallerAPIClient
	case strings.HasPrefix(r.URL.Path, "/api/v1/webhooks"):
		return metrics.CallerWebhook
	default:
		return metrics.CallerAnonymous
	}
}

// routePattern resolves the route label for metrics. The router's matched
// pattern is preferred because it already carries placeholders; for
// unmatched paths the raw path is normalized so per-entity URLs do not
// explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return NormalizePath(r.URL.Path)
}

// NormalizePath rewrites identifier-like path segments to "{id}". A segment
// qualifies when it is all digits, a UUID, or a token of at least six
// characters mixing letters and digits. "abc123" and "def456" normalize to
// the same route.
func NormalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if isIdentifierSegment(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isIdentifierSegment(seg string) bool {
	if allDigits(seg) {
		return true
	}
	if _, err := uuid.Parse(seg); err == nil {
		return true
	}
	if len(seg) >= 6 && alphanumericWithDigit(seg) {
		return true
	}
	return false
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

func alphanumericWithDigit(s string) bool {
	hasDigit := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsLetter(r):
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return hasDigit
}

// instrumentWriter wraps http.ResponseWriter to capture status code
type instrumentWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

// WriteHeader captures the status code
func (rw *instrumentWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}
