package registry

import (
	"net/http"
	"strconv"
	"time"
)

// instrumentRoute records request count and latency for a provider route.
func instrumentRoute(providerName string, route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		route.Handler.ServeHTTP(rec, r)

		routeRequests.WithLabelValues(providerName, r.Method, route.Pattern, strconv.Itoa(rec.status)).Inc()
		routeDuration.WithLabelValues(providerName, r.Method, route.Pattern).Observe(time.Since(start).Seconds())
	}
}

// statusRecorder remembers the first status code written.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusRecorder) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
