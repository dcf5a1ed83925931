// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package api

import (
	"net/http"
	"time"
)

// HealthStatus is the payload for the full health endpoint.
type HealthStatus struct {
	Status          string  `json:"status"`
	Version         string  `json:"version"`
	SessionStore    string  `json:"session_store"`
	MaintenanceMode bool    `json:"maintenance_mode"`
	Uptime          float64 `json:"uptime_seconds"`
}

// Health returns comprehensive health status: session store connectivity,
// maintenance mode, and uptime.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	storeState := h.router.sessions.State().String()
	storeOK := h.router.sessions.Ping(r.Context()) == nil

	status := "healthy"
	if !storeOK {
		status = "degraded"
	}

	WriteSuccess(w, r, HealthStatus{
		Status:          status,
		Version:         Version,
		SessionStore:    storeState,
		MaintenanceMode: h.router.maintenance.Enabled(),
		Uptime:          time.Since(h.startTime).Seconds(),
	})
}

// HealthLive handles liveness probe requests (Kubernetes-style).
// Returns 200 OK if the process is alive, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles readiness probe requests (Kubernetes-style).
// Returns 200 OK only when the session store is reachable.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.router.sessions.Ping(r.Context()); err != nil {
		NewResponseWriter(w, r).ServiceUnavailable("Session store not ready")
		return
	}
	WriteSuccess(w, r, map[string]interface{}{
		"ready": true,
	})
}
