// Package router wires the termfreq service routes and applies the
// middleware chain.
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/server/handler"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/ratelimit"
)

// Config holds the optional pieces of the chain. A nil Metrics or Limiter
// leaves that middleware out; a zero Timeout disables the request deadline.
type Config struct {
	Metrics         *metrics.Metrics
	Limiter         *ratelimit.Limiter
	RateLimitWindow time.Duration
	Timeout         time.Duration
}

// New builds the service handler.
//
// Route table:
//
//	POST   /api/v1/count        count a file below the input root
//	GET    /api/v1/runs         recent runs from the history store
//	GET    /api/v1/cache/stats  report cache hit/miss counters
//	DELETE /api/v1/cache        drop every cached report
//	GET    /health/live         liveness
//	GET    /health/ready        readiness of the handoff dir and backends
//	GET    /metrics             Prometheus
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → RateLimit → Timeout → mux
func New(h *handler.Handler, checker *health.Checker, cfg Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/count", h.Count)
	mux.HandleFunc("GET /api/v1/runs", h.Runs)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("DELETE /api/v1/cache", h.CacheInvalidate)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	if cfg.Timeout > 0 {
		chain = middleware.Timeout(cfg.Timeout)(chain)
	}
	if cfg.Limiter != nil {
		chain = middleware.RateLimit(cfg.Limiter, cfg.RateLimitWindow)(chain)
	}
	if cfg.Metrics != nil {
		chain = middleware.Metrics(cfg.Metrics)(chain)
	}
	chain = middleware.RequestID(chain)
	return chain
}
