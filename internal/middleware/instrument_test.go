// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mvillar/gatehouse/internal/metrics"
)

func testRegistry() *metrics.Registry {
	return metrics.NewRegistry(metrics.Opts{
		Service:     "gatehouse",
		Version:     "test",
		Environment: "test",
	})
}

func TestInstrumentRecordsRequest(t *testing.T) {
	reg := testRegistry()
	r := chi.NewRouter()
	r.Use(Instrument(reg))
	r.Get("/api/v1/items/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/items/42", nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, mf := range families {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == "/api/v1/items/{id}" &&
				labels["method"] == "GET" &&
				labels["status"] == "200" &&
				labels["caller"] == metrics.CallerAnonymous {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("http_requests_total not recorded with chi route pattern")
	}
}

func TestInstrumentActiveGaugeReturnsToBaseline(t *testing.T) {
	reg := testRegistry()

	var during float64
	handler := Instrument(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = reg.ActiveRequests()
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	if during != 1 {
		t.Errorf("active gauge during request = %v, want 1", during)
	}
	if after := reg.ActiveRequests(); after != 0 {
		t.Errorf("active gauge after request = %v, want 0", after)
	}
}

func TestInstrumentActiveGaugeRecoversFromAbortedRequest(t *testing.T) {
	reg := testRegistry()

	// A client disconnect surfaces as http.ErrAbortHandler; the gauge must
	// still return to baseline even though the handler never completed.
	handler := Instrument(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected abort panic to propagate")
			}
		}()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	}()

	if after := reg.ActiveRequests(); after != 0 {
		t.Errorf("active gauge after aborted request = %v, want 0", after)
	}
}

func TestInstrumentCompletesOncePerRequest(t *testing.T) {
	reg := testRegistry()

	// Handler writes the header twice; completion must still record a
	// single sample with the first status.
	handler := Instrument(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var total float64
	var status string
	for _, mf := range families {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "status" {
					status = lp.GetValue()
				}
			}
		}
	}
	if total != 1 {
		t.Errorf("recorded %v samples, want 1", total)
	}
	if status != "418" {
		t.Errorf("recorded status %q, want 418 (first write wins)", status)
	}
}

func TestInstrumentNilRegistryPassThrough(t *testing.T) {
	handler := Instrument(nil)(okHandler())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestClassifyCaller(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   string
	}{
		{"bearer token", "/api/v1/status", map[string]string{"Authorization": "Bearer x"}, metrics.CallerAuthenticated},
		{"api key", "/api/v1/status", map[string]string{"X-API-Key": "k"}, metrics.CallerAPIClient},
		{"authorization beats api key", "/api/v1/status", map[string]string{"Authorization": "Bearer x", "X-API-Key": "k"}, metrics.CallerAuthenticated},
		{"webhook path", "/api/v1/webhooks/github", nil, metrics.CallerWebhook},
		{"anonymous", "/api/v1/status", nil, metrics.CallerAnonymous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := ClassifyCaller(req); got != tt.want {
				t.Errorf("ClassifyCaller() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"", "/"},
		{"/api/v1/status", "/api/v1/status"},
		{"/api/v1/items/12345", "/api/v1/items/{id}"},
		{"/api/v1/items/550e8400-e29b-41d4-a716-446655440000", "/api/v1/items/{id}"},
		{"/api/v1/items/abc123", "/api/v1/items/{id}"},
		{"/api/v1/items/def456", "/api/v1/items/{id}"},
		{"/api/v1/items/abc123/tags/99", "/api/v1/items/{id}/tags/{id}"},
		// Short alphanumeric tokens and plain words are kept.
		{"/api/v1/items/ab1", "/api/v1/items/ab1"},
		{"/api/v2/export", "/api/v2/export"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := NormalizePath(tt.path); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}

	// Distinct raw ids must collapse to the same route label.
	if NormalizePath("/u/abc123") != NormalizePath("/u/def456") {
		t.Error("identifier segments did not normalize to a shared label")
	}
}

func TestNormalizePathFallbackUsedForUnmatchedRoutes(t *testing.T) {
	reg := testRegistry()
	handler := Instrument(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/unknown/123456", nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var route string
	for _, mf := range families {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "route" {
					route = lp.GetValue()
				}
			}
		}
	}
	if !strings.Contains(route, "{id}") {
		t.Fatalf("route label = %q, want normalized with {id}", route)
	}
}
