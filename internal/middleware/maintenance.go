// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/mvillar/gatehouse/internal/logging"
)

// maintenanceExemptPrefixes lists path prefixes that keep working during
// maintenance: health probes, the metrics endpoint, and inbound webhooks
// whose upstreams would otherwise drop events.
var maintenanceExemptPrefixes = []string{
	"/api/v1/health",
	"/metrics",
	"/api/v1/webhooks",
}

// DefaultMaintenanceMessage is served when no custom message is configured.
const DefaultMaintenanceMessage = "Service temporarily unavailable for maintenance"

// maintenanceResponse is the 503 envelope served to gated requests.
type maintenanceResponse struct {
	Success         bool   `json:"success"`
	Error           string `json:"error"`
	Message         string `json:"message"`
	Status          int    `json:"status"`
	Timestamp       string `json:"timestamp"`
	Path            string `json:"path"`
	RequestID       string `json:"requestId,omitempty"`
	MaintenanceMode bool   `json:"maintenanceMode"`
}

// Maintenance gates the pipeline behind a runtime-togglable flag. While
// enabled, non-exempt requests receive 503 with a structured envelope and a
// Retry-After hint; exempt paths pass through so probes and webhooks keep
// working. The flag can flip at any time without a restart.
type Maintenance struct {
	enabled atomic.Bool

	mu      sync.RWMutex
	message string

	retryAfter time.Duration
}

// NewMaintenance builds the gate. A non-empty message overrides the default
// served to gated clients.
func NewMaintenance(enabled bool, message string, retryAfter time.Duration) *Maintenance {
	if message == "" {
		message = DefaultMaintenanceMessage
	}
	if retryAfter <= 0 {
		retryAfter = 5 * time.Minute
	}
	m := &Maintenance{message: message, retryAfter: retryAfter}
	m.enabled.Store(enabled)
	return m
}

// Enabled reports whether the gate is active.
func (m *Maintenance) Enabled() bool {
	return m.enabled.Load()
}

// SetEnabled flips the gate at runtime.
func (m *Maintenance) SetEnabled(on bool) {
	was := m.enabled.Swap(on)
	if was != on {
		logging.Info().Bool("enabled", on).Msg("Maintenance mode toggled")
	}
}

// SetMessage replaces the client-facing maintenance message.
func (m *Maintenance) SetMessage(msg string) {
	if msg == "" {
		msg = DefaultMaintenanceMessage
	}
	m.mu.Lock()
	m.message = msg
	m.mu.Unlock()
}

// Message returns the current client-facing message.
func (m *Maintenance) Message() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.message
}

// Exempt reports whether the path bypasses the gate.
func (m *Maintenance) Exempt(path string) bool {
	for _, prefix := range maintenanceExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Handler returns the gating middleware.
func (m *Maintenance) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled.Load() || m.Exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		resp := maintenanceResponse{
			Success:         false,
			Error:           "ServiceUnavailable",
			Message:         m.Message(),
			Status:          http.StatusServiceUnavailable,
			Timestamp:       time.Now().UTC().Format(time.RFC3339),
			Path:            r.URL.Path,
			RequestID:       GetRequestID(r.Context()),
			MaintenanceMode: true,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(int(m.retryAfter.Seconds())))
		w.WriteHeader(http.StatusServiceUnavailable)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to write maintenance response")
		}
	})
}
