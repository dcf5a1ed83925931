// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/mvillar/gatehouse/internal/logging"
	"github.com/mvillar/gatehouse/internal/session"
)

// maintenanceUpdateRequest toggles maintenance mode at runtime.
type maintenanceUpdateRequest struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
}

// MaintenanceStatus reports the current maintenance gate state.
func (h *Handler) MaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]interface{}{
		"enabled": h.router.maintenance.Enabled(),
		"message": h.router.maintenance.Message(),
	})
}

// MaintenanceUpdate flips the maintenance gate without a restart. Takes
// effect on the next request. Note the admin endpoints themselves are
// gated while maintenance is on; flip it back off via configuration reload
// or by restarting with maintenance disabled.
func (h *Handler) MaintenanceUpdate(w http.ResponseWriter, r *http.Request) {
	var req maintenanceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		NewResponseWriter(w, r).BadRequest("Invalid request body")
		return
	}

	h.router.maintenance.SetEnabled(req.Enabled)
	if req.Message != "" {
		h.router.maintenance.SetMessage(req.Message)
	}

	logging.Ctx(r.Context()).Info().
		Bool("enabled", req.Enabled).
		Str("user", session.FromContext(r.Context()).UserID()).
		Msg("Maintenance mode updated")

	WriteSuccess(w, r, map[string]interface{}{
		"enabled": h.router.maintenance.Enabled(),
		"message": h.router.maintenance.Message(),
	})
}
