// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package metrics

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Prometheus Metrics for Production Observability
// This package instruments:
// - HTTP request latency, throughput, and in-flight count
// - Database query performance
// - External API calls and remaining quota
// - Background queue jobs and queue depth
// - Detection events and confidence distribution
// - Session cache efficiency, notifications, auth attempts, rate limiting

// Caller classes used as metric label values. The vocabulary is fixed so
// series cardinality stays bounded.
const (
	CallerAuthenticated = "authenticated"
	CallerAPIClient     = "api_client"
	CallerWebhook       = "webhook"
	CallerAnonymous     = "anonymous"
)

// Opts configures a Registry. Service, Version, and Environment become
// constant labels applied to every series.
type Opts struct {
	Service     string
	Version     string
	Environment string
}

// Registry is a process-wide metrics collector. It is constructed once at
// startup and passed to the pipeline explicitly rather than living as
// module-level state, so tests can instantiate isolated registries.
type Registry struct {
	registry *prometheus.Registry

	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpActiveRequests  prometheus.Gauge

	// Database
	dbQueriesTotal  *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	// External API
	externalRequestsTotal  *prometheus.CounterVec
	externalRequestLatency *prometheus.HistogramVec
	externalQuotaRemaining *prometheus.GaugeVec

	// Background queue
	queueJobsTotal   *prometheus.CounterVec
	queueJobDuration *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec

	// Detection
	detectionEventsTotal *prometheus.CounterVec
	detectionConfidence  *prometheus.HistogramVec

	// Session cache
	cacheOperationsTotal *prometheus.CounterVec

	// Notifications
	notificationsTotal *prometheus.CounterVec

	// Auth
	authAttemptsTotal *prometheus.CounterVec

	// Rate limiting
	rateLimitHitsTotal *prometheus.CounterVec

	// Users
	activeUsers prometheus.Gauge
}

// NewRegistry creates a Registry with all metric families pre-declared.
// The returned Registry carries service/version/environment as constant
// labels on every series it exposes.
func NewRegistry(opts Opts) *Registry {
	reg := prometheus.NewRegistry()

	constLabels := prometheus.Labels{
		"service":     opts.Service,
		"version":     opts.Version,
		"environment": opts.Environment,
	}
	factory := promauto.With(prometheus.WrapRegistererWith(constLabels, reg))

	// Runtime metrics are registered unwrapped; the Go collector manages its
	// own label sets.
	reg.MustRegister(collectors.NewGoCollector())

	return &Registry{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status", "caller"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.1, 0.3, 0.5, 0.7, 1, 3, 5, 7, 10},
			},
			[]string{"method", "route", "status", "caller"},
		),
		httpActiveRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_active_requests",
				Help: "Current number of in-flight HTTP requests",
			},
		),

		dbQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		externalRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_api_requests_total",
				Help: "Total number of external API calls",
			},
			// "service" is taken by the registry-wide constant labels, so the
			// upstream being called is labeled "target".
			[]string{"target", "status"},
		),
		externalRequestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "external_api_request_duration_seconds",
				Help:    "External API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"target"},
		),
		externalQuotaRemaining: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "external_api_quota_remaining",
				Help: "Remaining request quota reported by the external API",
			},
			[]string{"target"},
		),

		queueJobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_jobs_total",
				Help: "Total number of background queue jobs by completion status",
			},
			[]string{"queue", "status"},
		),
		queueJobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "queue_job_duration_seconds",
				Help:    "Background job duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300}, // jobs can take minutes
			},
			[]string{"queue"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "queue_depth",
				Help: "Current number of pending jobs in the queue",
			},
			[]string{"queue"},
		),

		detectionEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "detection_events_total",
				Help: "Total number of detection events",
			},
			[]string{"type", "action", "source"},
		),
		detectionConfidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "detection_confidence_score",
				Help:    "Confidence score distribution of detection events",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
			[]string{"type"},
		),

		cacheOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_operations_total",
				Help: "Total number of session cache operations",
			},
			[]string{"operation", "result"},
		),

		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_total",
				Help: "Total number of notifications dispatched",
			},
			[]string{"type", "channel", "status"},
		),

		authAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_attempts_total",
				Help: "Total number of authentication attempts",
			},
			[]string{"method", "result"},
		),

		rateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_hits_total",
				Help: "Total number of rate limit rejections",
			},
			[]string{"endpoint", "ip_class"},
		),

		activeUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_users",
				Help: "Current number of users with a live session",
			},
		),
	}
}

// Handler returns the scrape endpoint handler serving the text exposition
// format for this registry only.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gather exposes the underlying gatherer, used by tests to decode families.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.registry.Gather()
}

// RecordHTTPRequest records one completed request/response cycle.
func (r *Registry) RecordHTTPRequest(method, route, status, caller string, duration time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, route, status, caller).Inc()
	r.httpRequestDuration.WithLabelValues(method, route, status, caller).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func (r *Registry) TrackActiveRequest(inc bool) {
	if inc {
		r.httpActiveRequests.Inc()
	} else {
		r.httpActiveRequests.Dec()
	}
}

// ActiveRequests reads the current in-flight gauge value. Test helper.
func (r *Registry) ActiveRequests() float64 {
	var m dto.Metric
	if err := r.httpActiveRequests.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// RecordDBQuery records a database query metric.
func (r *Registry) RecordDBQuery(operation, table string, duration time.Duration) {
	r.dbQueriesTotal.WithLabelValues(operation, table).Inc()
	r.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordExternalAPICall records one call to an upstream API.
func (r *Registry) RecordExternalAPICall(target, status string, duration time.Duration) {
	r.externalRequestsTotal.WithLabelValues(target, status).Inc()
	r.externalRequestLatency.WithLabelValues(target).Observe(duration.Seconds())
}

// SetExternalAPIQuota updates the remaining-quota gauge for an upstream API.
func (r *Registry) SetExternalAPIQuota(target string, remaining float64) {
	r.externalQuotaRemaining.WithLabelValues(target).Set(remaining)
}

// RecordQueueJob records a completed background job.
func (r *Registry) RecordQueueJob(queue, status string, duration time.Duration) {
	r.queueJobsTotal.WithLabelValues(queue, status).Inc()
	r.queueJobDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// SetQueueDepth updates the pending-job gauge for a queue.
func (r *Registry) SetQueueDepth(queue string, depth int64) {
	r.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordDetectionEvent records a detection event and its confidence score.
func (r *Registry) RecordDetectionEvent(eventType, action, source string, confidence float64) {
	r.detectionEventsTotal.WithLabelValues(eventType, action, source).Inc()
	r.detectionConfidence.WithLabelValues(eventType).Observe(confidence)
}

// RecordCacheOperation records a session cache operation and its result.
// Operation is one of get/set/delete/touch; result is hit/miss/ok/error.
func (r *Registry) RecordCacheOperation(operation, result string) {
	r.cacheOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordNotification records a dispatched notification.
func (r *Registry) RecordNotification(notificationType, channel, status string) {
	r.notificationsTotal.WithLabelValues(notificationType, channel, status).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func (r *Registry) RecordAuthAttempt(method, result string) {
	r.authAttemptsTotal.WithLabelValues(method, result).Inc()
}

// RecordRateLimitHit records a rate limit rejection. The remote address is
// classified into a bounded vocabulary (ipv4/ipv6/unknown) rather than
// labeled with the raw IP, which would blow up series cardinality.
func (r *Registry) RecordRateLimitHit(endpoint, remoteAddr string) {
	r.rateLimitHitsTotal.WithLabelValues(endpoint, ClassifyIP(remoteAddr)).Inc()
}

// SetActiveUsers updates the live-session user gauge.
func (r *Registry) SetActiveUsers(count int64) {
	r.activeUsers.Set(float64(count))
}

// Reset clears every vector family and zeroes the gauges. It exists for test
// isolation only and must never be called in a live process.
func (r *Registry) Reset() {
	r.httpRequestsTotal.Reset()
	r.httpRequestDuration.Reset()
	r.httpActiveRequests.Set(0)
	r.dbQueriesTotal.Reset()
	r.dbQueryDuration.Reset()
	r.externalRequestsTotal.Reset()
	r.externalRequestLatency.Reset()
	r.externalQuotaRemaining.Reset()
	r.queueJobsTotal.Reset()
	r.queueJobDuration.Reset()
	r.queueDepth.Reset()
	r.detectionEventsTotal.Reset()
	r.detectionConfidence.Reset()
	r.cacheOperationsTotal.Reset()
	r.notificationsTotal.Reset()
	r.authAttemptsTotal.Reset()
	r.rateLimitHitsTotal.Reset()
	r.activeUsers.Set(0)
}

// ClassifyIP maps a remote address to a bounded label value.
func ClassifyIP(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.TrimSpace(host))
	switch {
	case ip == nil:
		return "unknown"
	case ip.To4() != nil:
		return "ipv4"
	default:
		return "ipv6"
	}
}
