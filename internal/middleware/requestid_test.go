// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("no request id in context")
	}
	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("generated id %q is not a UUID: %v", seen, err)
	}
	if got := rr.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("response header = %q, want %q", got, seen)
	}
}

func TestRequestIDHeaderPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "x-request-id wins",
			headers: map[string]string{"X-Request-ID": "req-123", "X-Correlation-ID": "corr-456"},
			want:    "req-123",
		},
		{
			name:    "correlation id fallback",
			headers: map[string]string{"X-Correlation-ID": "corr-456"},
			want:    "corr-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if seen != tt.want {
				t.Errorf("context id = %q, want %q", seen, tt.want)
			}
			if got := rr.Header().Get("X-Request-ID"); got != tt.want {
				t.Errorf("response header = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetRequestIDWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Fatalf("GetRequestID = %q, want empty", got)
	}
}
