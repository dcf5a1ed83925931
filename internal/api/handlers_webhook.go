// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/mvillar/gatehouse/internal/logging"
)

// maxWebhookBody bounds inbound webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// Webhook accepts inbound event deliveries from external systems. The
// route is exempt from maintenance gating because upstreams drop events
// they cannot deliver. Payloads are validated as JSON and acknowledged
// with 202; processing happens out of band.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		NewResponseWriter(w, r).BadRequest("Failed to read request body")
		return
	}
	if len(body) > maxWebhookBody {
		NewResponseWriter(w, r).Error(http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Payload too large")
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		if h.router.registry != nil {
			h.router.registry.RecordQueueJob("webhooks", "rejected", time.Since(start))
		}
		NewResponseWriter(w, r).BadRequest("Payload must be valid JSON")
		return
	}

	if h.router.registry != nil {
		h.router.registry.RecordQueueJob("webhooks", "accepted", time.Since(start))
	}
	logging.Ctx(r.Context()).Info().
		Str("source", source).
		Int("payload_bytes", len(body)).
		Msg("Webhook received")

	NewResponseWriter(w, r).writeJSON(http.StatusAccepted, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"source":   source,
			"accepted": true,
		},
	})
}
