package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// knownRoutes bounds the route label. Anything else is reported as "other".
var knownRoutes = []string{"/mcp", "/v1/executions", "/v1/session", "/healthz", "/readyz", "/metrics"}

// MetricsMiddleware records pysandbox_http_requests_total,
// pysandbox_http_request_duration_seconds and the in-flight gauge.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlightRequests.Inc()
		defer InFlightRequests.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := RouteLabel(r.URL.Path)
		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status/100)+"xx").Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RouteLabel maps a request path to a bounded metric label.
func RouteLabel(path string) string {
	for _, route := range knownRoutes {
		if path == route || strings.HasPrefix(path, route+"/") {
			return route
		}
	}
	return "other"
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Flush keeps server-sent event streams of the MCP transport working.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
