// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package api

import (
	"time"
)

// Version is the reported service version, overridable at build time via
// -ldflags "-X github.com/mvillar/gatehouse/internal/api.Version=...".
var Version = "dev"

// Handler implements the HTTP endpoints. Pipeline wiring lives on Router;
// Handler holds only what the endpoints themselves need.
type Handler struct {
	router    *Router
	startTime time.Time
}

// NewHandler creates the endpoint handler.
func NewHandler(router *Router) *Handler {
	return &Handler{
		router:    router,
		startTime: time.Now(),
	}
}
