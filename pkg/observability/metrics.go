// Package observability holds the process-wide Prometheus metrics and the
// HTTP middleware that records them.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets covers request latencies from 10ms up to the two minute
// sandbox client timeout.
var ExecutionBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts HTTP requests by method, route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pysandbox_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pysandbox_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"method", "route"},
	)

	// InFlightRequests tracks requests currently being served. MCP
	// streams stay in flight for the lifetime of the stream.
	InFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pysandbox_http_requests_in_flight",
			Help: "HTTP requests in flight",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pysandbox_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)

	// AuthFailuresTotal counts rejected authentication attempts by reason.
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pysandbox_auth_failures_total",
			Help: "Authentication failures",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InFlightRequests,
		RateLimitRejectedTotal,
		AuthFailuresTotal,
	)
}
