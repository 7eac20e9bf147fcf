package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/server/handler"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/ratelimit"
)

func newServer(t *testing.T, limit int) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "corpus.txt"), []byte("b a b"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := counter.DefaultOptions()
	opts.Strategy = "sequential"
	engine, err := counter.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	h, err := handler.New(engine, root, 8)
	if err != nil {
		t.Fatal(err)
	}
	checker := health.NewChecker()
	checker.Register("input_root", health.DirReadableCheck(root))

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	limiter := ratelimit.New(limit, time.Minute)
	t.Cleanup(limiter.Stop)

	srv := httptest.NewServer(New(h, checker, Config{
		Metrics:         m,
		Limiter:         limiter,
		RateLimitWindow: time.Minute,
		Timeout:         10 * time.Second,
	}))
	t.Cleanup(srv.Close)
	return srv, m
}

func TestRoutes(t *testing.T) {
	srv, m := newServer(t, 100)
	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health/live", "", http.StatusOK},
		{http.MethodGet, "/health/ready", "", http.StatusOK},
		{http.MethodPost, "/api/v1/count", `{"path":"corpus.txt"}`, http.StatusOK},
		{http.MethodGet, "/api/v1/count", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/runs", "", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/v1/cache/stats", "", http.StatusOK},
		{http.MethodDelete, "/api/v1/cache", "", http.StatusServiceUnavailable},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequestWithContext(context.Background(), tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if resp.Header.Get(middleware.RequestIDHeader) == "" {
				t.Error("missing request id header")
			}
		})
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/count", "200")); got != 1 {
		t.Errorf("count requests metric = %v, want 1", got)
	}
}

func TestRateLimitedCount(t *testing.T) {
	srv, _ := newServer(t, 1)
	post := func() int {
		resp, err := srv.Client().Post(srv.URL+"/api/v1/count", "application/json", strings.NewReader(`{"path":"corpus.txt"}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := post(); code != http.StatusOK {
		t.Fatalf("first count status = %d", code)
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Errorf("second count status = %d, want 429", code)
	}
	resp, err := srv.Client().Get(srv.URL + "/health/live")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health must bypass the limit, got %d", resp.StatusCode)
	}
}
