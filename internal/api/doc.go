// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

/*
Package api assembles the HTTP request pipeline and implements the
service's endpoints.

The Router composes the middleware stack in a fixed order:

	RequestID -> Maintenance -> RealIP -> Recoverer -> CORS ->
	Session -> Instrument -> RateLimit -> Compress -> SecurityHeaders

and routes requests to health probes, authentication, admin controls,
webhook intake, and the Prometheus metrics endpoint. Responses use a
standardized envelope from response.go; unmatched routes get the same
envelope instead of the router's default text response.

Extension handlers can be attached under a path prefix with Router.Mount
before Setup is called; they inherit the full pipeline.
*/
package api
