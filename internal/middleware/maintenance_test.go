// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMaintenanceDisabledPassesThrough(t *testing.T) {
	m := NewMaintenance(false, "", time.Minute)
	rr := httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestMaintenanceGatesWithEnvelope(t *testing.T) {
	m := NewMaintenance(true, "Back at noon", 5*time.Minute)
	handler := RequestID(m.Handler(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("X-Request-ID", "req-77")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "300" {
		t.Errorf("Retry-After = %q, want 300", got)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}

	var resp maintenanceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Success {
		t.Error("success = true, want false")
	}
	if resp.Error != "ServiceUnavailable" {
		t.Errorf("error = %q, want ServiceUnavailable", resp.Error)
	}
	if resp.Message != "Back at noon" {
		t.Errorf("message = %q, want custom message", resp.Message)
	}
	if resp.Status != http.StatusServiceUnavailable {
		t.Errorf("status field = %d, want 503", resp.Status)
	}
	if resp.Path != "/api/v1/status" {
		t.Errorf("path = %q, want /api/v1/status", resp.Path)
	}
	if resp.RequestID != "req-77" {
		t.Errorf("requestId = %q, want req-77", resp.RequestID)
	}
	if !resp.MaintenanceMode {
		t.Error("maintenanceMode = false, want true")
	}
}

func TestMaintenanceExemptPaths(t *testing.T) {
	m := NewMaintenance(true, "", time.Minute)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/health", http.StatusOK},
		{"/api/v1/health/ready", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/v1/webhooks/github", http.StatusOK},
		{"/api/v1/status", http.StatusServiceUnavailable},
		{"/", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			m.Handler(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestMaintenanceRuntimeToggle(t *testing.T) {
	m := NewMaintenance(false, "", time.Minute)
	handler := m.Handler(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("before toggle: status = %d, want 200", rr.Code)
	}

	m.SetEnabled(true)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("after enable: status = %d, want 503", rr.Code)
	}

	m.SetEnabled(false)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("after disable: status = %d, want 200", rr.Code)
	}
}

func TestMaintenanceDefaultMessage(t *testing.T) {
	m := NewMaintenance(true, "", time.Minute)
	if got := m.Message(); got != DefaultMaintenanceMessage {
		t.Fatalf("Message() = %q, want default", got)
	}

	m.SetMessage("custom")
	if got := m.Message(); got != "custom" {
		t.Fatalf("Message() = %q, want custom", got)
	}

	m.SetMessage("")
	if got := m.Message(); got != DefaultMaintenanceMessage {
		t.Fatalf("Message() after reset = %q, want default", got)
	}
}
