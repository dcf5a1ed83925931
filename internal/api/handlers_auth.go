// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/mvillar/gatehouse/internal/auth"
	"github.com/mvillar/gatehouse/internal/logging"
	"github.com/mvillar/gatehouse/internal/session"
)

// loginRequest is the login endpoint payload.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// recordAuthAttempt is nil-safe for the metrics-disabled case.
func (h *Handler) recordAuthAttempt(result string) {
	if h.router.registry != nil {
		h.router.registry.RecordAuthAttempt("password", result)
	}
}

// Login verifies admin credentials and establishes a session. Failed
// attempts feed the auth-tier rate limiter via their 401 status; the
// response never reveals which credential field was wrong.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess.Err() != nil {
		// Cannot persist a session right now; do not burn a failed
		// attempt against the client.
		NewResponseWriter(w, r).ServiceUnavailable("Session store unavailable")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		NewResponseWriter(w, r).BadRequest("Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		NewResponseWriter(w, r).BadRequest("Username and password are required")
		return
	}

	if h.router.verifier == nil {
		logging.Ctx(r.Context()).Warn().Msg("Login attempted with no admin account configured")
		h.recordAuthAttempt("failure")
		NewResponseWriter(w, r).Unauthorized("Invalid credentials")
		return
	}

	if err := h.router.verifier.Verify(req.Username, req.Password); err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Credential verification failed")
		}
		h.recordAuthAttempt("failure")
		NewResponseWriter(w, r).Unauthorized("Invalid credentials")
		return
	}

	sess.Login(req.Username)
	h.recordAuthAttempt("success")
	logging.Ctx(r.Context()).Info().Str("user", req.Username).Msg("User logged in")

	WriteSuccess(w, r, map[string]interface{}{
		"user": req.Username,
	})
}

// Logout destroys the current session. Idempotent: logging out without a
// session still succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess.Err() != nil {
		NewResponseWriter(w, r).ServiceUnavailable("Session store unavailable")
		return
	}

	if sess.Authenticated() {
		logging.Ctx(r.Context()).Info().Str("user", sess.UserID()).Msg("User logged out")
		sess.Destroy()
	}
	NewResponseWriter(w, r).NoContent()
}

// SessionInfo reports the caller's session state.
func (h *Handler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess.Err() != nil {
		NewResponseWriter(w, r).ServiceUnavailable("Session store unavailable")
		return
	}

	if !sess.Authenticated() {
		WriteSuccess(w, r, map[string]interface{}{
			"authenticated": false,
		})
		return
	}
	WriteSuccess(w, r, map[string]interface{}{
		"authenticated": true,
		"user":          sess.UserID(),
		"issued_at":     sess.IssuedAt(),
	})
}
