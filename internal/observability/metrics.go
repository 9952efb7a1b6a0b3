// Package observability 暴露 Prometheus 指标与 OpenTelemetry 追踪。
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nur_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nur_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nur_submissions_total",
			Help: "Submissions by outcome (answered, failed, warned, suspended, gated)",
		},
		[]string{"outcome"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nur_status_transitions_total",
			Help: "Session status transitions",
		},
		[]string{"from", "to"},
	)

	collaboratorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nur_collaborator_calls_total",
			Help: "Calls to safety, answer, translation and speech backends",
		},
		[]string{"collaborator", "result"},
	)

	collaboratorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nur_collaborator_call_duration_seconds",
			Help:    "Collaborator call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"collaborator"},
	)

	loadedSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nur_loaded_sessions",
			Help: "Number of sessions held in memory",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			submissionsTotal,
			transitionsTotal,
			collaboratorCallsTotal,
			collaboratorDuration,
			loadedSessions,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSubmission counts a submission outcome.
func RecordSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a status change.
func RecordTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordCollaboratorCall records one backend call.
func RecordCollaboratorCall(collaborator string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	collaboratorCallsTotal.WithLabelValues(collaborator, result).Inc()
	collaboratorDuration.WithLabelValues(collaborator).Observe(duration.Seconds())
}

// SetLoadedSessions reports how many sessions are cached.
func SetLoadedSessions(n int) {
	loadedSessions.Set(float64(n))
}
