// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

/*
Package middleware provides the HTTP middleware components of the request
pipeline.

This package implements the edge concerns every request passes through
before reaching a handler: correlation-id assignment, maintenance-mode
gating, request instrumentation, and two-tier rate limiting. The router in
internal/api composes these with CORS and session handling into the full
ordered pipeline.

Key Components:

  - Request ID: correlation id from X-Request-ID / X-Correlation-ID
    headers, generated when absent, mirrored on the response
  - Maintenance: runtime-togglable 503 gate with exemptions for health
    probes, metrics, and webhooks
  - Instrument: Prometheus request counter, latency histogram, and
    active-request gauge with normalized route and caller-class labels
  - RateLimiter: per-IP global ceiling plus an auth tier that counts
    only failed attempts

Pipeline Order:

The router applies the components outermost first:

	RequestID -> Maintenance -> CORS -> Session -> Instrument -> RateLimit -> handler

Instrumentation deliberately wraps the limiters so rejected requests still
show up in the HTTP metrics with their 429 status.

Thread Safety:

All components are safe for concurrent use:
  - Maintenance uses atomic flag reads on the hot path
  - Instrument delegates to Prometheus vectors (atomic operations)
  - RateLimiter's failure windows use an internally locked store
  - Request ID uses context.Context (immutable)

See Also:

  - internal/api: router composing the pipeline
  - internal/session: session middleware inserted between CORS and metrics
  - internal/metrics: metric definitions and recorders
*/
package middleware
