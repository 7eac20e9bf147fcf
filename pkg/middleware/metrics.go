// Package middleware provides the HTTP middleware of the termfreq service:
// request IDs, Prometheus metrics, per-client rate limits and request
// timeouts.
package middleware

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/metrics"
)

// Metrics returns middleware that tracks in-flight requests and records
// count, latency and response size per route.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			start := time.Now()
			rw := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			m.ObserveHTTP(r.Method, routeLabel(r.URL.Path), rw.status, time.Since(start), rw.size)
		})
	}
}

// recordingWriter captures the status code and the number of body bytes
// written.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
}

func (rw *recordingWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

func (rw *recordingWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

var routes = map[string]bool{
	"/api/v1/count":       true,
	"/api/v1/runs":        true,
	"/api/v1/cache":       true,
	"/api/v1/cache/stats": true,
	"/health/live":        true,
	"/health/ready":       true,
	"/metrics":            true,
}

// routeLabel keeps the path label bounded: unknown paths share "other".
func routeLabel(path string) string {
	if routes[path] {
		return path
	}
	return "other"
}
