// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// contextKey is the private type for context keys in this package.
type contextKey string

const (
	// requestIDKey is the context key for the request correlation id.
	requestIDKey contextKey = "request_id"
)

// GenerateRequestID creates a new globally unique request id.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithRequestID returns a new context carrying the given request id.
//
//	ctx = logging.ContextWithRequestID(ctx, requestID)
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request id from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger with the request id automatically attached.
// This is the recommended way to log inside handlers and middleware.
//
//	logging.Ctx(ctx).Info().Msg("Session resumed")
//	// {"level":"info","request_id":"uuid","message":"Session resumed"}
func Ctx(ctx context.Context) *zerolog.Logger {
	logger := Logger()
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		logger = logger.With().Str("request_id", requestID).Logger()
	}
	return &logger
}

// CtxWith returns a logger context builder with the request id pre-populated.
// Use when additional default fields are needed beyond the request id.
//
//	logger := logging.CtxWith(ctx).Str("component", "session").Logger()
func CtxWith(ctx context.Context) zerolog.Context {
	logCtx := Logger().With()
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		logCtx = logCtx.Str("request_id", requestID)
	}
	return logCtx
}

// WithComponent creates a child logger with a component field.
//
//	sessLogger := logging.WithComponent("session")
func WithComponent(component string) zerolog.Logger {
	return With().Str("component", component).Logger()
}
