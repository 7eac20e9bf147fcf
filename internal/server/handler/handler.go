// Package handler implements the HTTP API of the termfreq service: counting
// a file under the configured input root, listing recorded runs and managing
// the report cache.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/events"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/history"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/report"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/resultcache"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/middleware"
)

const (
	eventSource  = "service"
	defaultRuns  = 20
	maxRuns      = 100
	maxBodyBytes = 1 << 16
)

// Runner executes counting runs. *counter.Engine satisfies it.
type Runner interface {
	Resolve(req counter.Request) (counter.Options, error)
	Run(ctx context.Context, req counter.Request) (*counter.Result, error)
}

// RunLister lists recorded runs. *history.Store satisfies it.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// CountRequest is the body of POST /api/v1/count. Path is relative to the
// input root; zero values keep the service defaults.
type CountRequest struct {
	Path     string `json:"path"`
	Strategy string `json:"strategy,omitempty"`
	Workers  int    `json:"workers,omitempty"`
	K        int    `json:"k,omitempty"`
}

// Handler serves the API. The cache, run lister and publisher are optional.
type Handler struct {
	runner     Runner
	inputRoot  string
	maxWorkers int
	cache      *resultcache.Cache
	runs       RunLister
	publisher  *events.Publisher
	logger     *slog.Logger
}

// Option configures optional dependencies of a Handler.
type Option func(*Handler)

func WithCache(c *resultcache.Cache) Option {
	return func(h *Handler) { h.cache = c }
}

func WithRuns(r RunLister) Option {
	return func(h *Handler) { h.runs = r }
}

func WithPublisher(p *events.Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

// New returns a Handler that counts files below inputRoot with at most
// maxWorkers workers per request (0 for no cap).
func New(runner Runner, inputRoot string, maxWorkers int, opts ...Option) (*Handler, error) {
	root, err := filepath.Abs(inputRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving input root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	h := &Handler{
		runner:     runner,
		inputRoot:  root,
		maxWorkers: maxWorkers,
		logger:     logger.WithComponent("api-handler"),
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Count runs (or serves from cache) a count over a file below the input
// root and answers with its report.
func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var body CountRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if h.maxWorkers > 0 && body.Workers > h.maxWorkers {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("workers must be <= %d", h.maxWorkers))
		return
	}
	path, err := h.resolvePath(body.Path)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	req := counter.Request{
		Input:    path,
		Strategy: body.Strategy,
		Workers:  body.Workers,
		TopK:     body.K,
		RunID:    middleware.GetRequestID(ctx),
	}
	opts, err := h.runner.Resolve(req)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	compute := func(ctx context.Context) (*report.Report, error) {
		res, err := h.runner.Run(ctx, req)
		if err != nil {
			h.track(events.Failed(eventSource, req.RunID, path, opts.Strategy, err), req.RunID)
			return nil, err
		}
		rep := report.FromResult(res)
		h.track(events.Completed(eventSource, rep), req.RunID)
		return rep, nil
	}

	var rep *report.Report
	cached := false
	if h.cache != nil {
		key, err := resultcache.NewKey(path, resultcache.Params{
			Strategy:   opts.Strategy,
			Workers:    opts.Workers,
			K:          opts.TopK,
			MaxTermLen: opts.MaxTermLen,
			Capacity:   opts.GlobalCapacity,
			Policy:     opts.Policy.String(),
		})
		if err != nil {
			h.writeErr(w, err)
			return
		}
		rep, cached, err = h.cache.GetOrCompute(ctx, key, compute)
		if err != nil {
			h.writeErr(w, err)
			return
		}
	} else {
		rep, err = compute(ctx)
		if err != nil {
			h.writeErr(w, err)
			return
		}
	}

	log.Info("count served",
		"input", body.Path,
		"strategy", opts.Strategy,
		"workers", opts.Workers,
		"cached", cached,
	)
	h.writeJSON(w, http.StatusOK, rep)
}

// Runs lists the most recent recorded runs.
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}
	limit := defaultRuns
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRuns)
	}
	runs, err := h.runs.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing runs failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

// resolvePath maps a request path onto a regular file below the input root.
// Symlinks are followed before the containment check.
func (h *Handler) resolvePath(p string) (string, error) {
	if p == "" {
		return "", apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "path is required")
	}
	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(h.inputRoot, candidate)
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(candidate))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperrors.Newf(apperrors.ErrStreamOpen, http.StatusNotFound, "%s not found", p)
		}
		return "", fmt.Errorf("%w: %v", apperrors.ErrStreamOpen, err)
	}
	rel, err := filepath.Rel(h.inputRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusForbidden, "%s is outside the input root", p)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrStreamOpen, err)
	}
	if !info.Mode().IsRegular() {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s is not a regular file", p)
	}
	return resolved, nil
}

func (h *Handler) track(ev events.RunEvent, requestID string) {
	if h.publisher == nil {
		return
	}
	ev.RequestID = requestID
	h.publisher.Track(ev)
}

// writeErr answers with the status mapped from err. Internal errors are not
// echoed to the client.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusInsufficientStorage && status != http.StatusGatewayTimeout {
		h.logger.Error("request failed", "error", err)
		msg = "count failed"
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	h.writeError(w, status, msg)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
