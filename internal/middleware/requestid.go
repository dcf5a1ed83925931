// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package middleware

import (
	"context"
	"net/http"

	"github.com/mvillar/gatehouse/internal/logging"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// RequestID assigns a correlation id to every request before any other
// processing. The inbound X-Request-ID header wins; X-Correlation-ID is
// accepted as a fallback for callers using that convention; otherwise a
// fresh UUID v4 is generated. The id is mirrored on the X-Request-ID
// response header and attached to the logging context so every log line
// for the request carries it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = r.Header.Get("X-Correlation-ID")
		}
		if requestID == "" {
			requestID = logging.GenerateRequestID()
		}

		// Mirror on the response for client-side correlation
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = logging.ContextWithRequestID(ctx, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
