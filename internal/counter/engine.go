// Package counter runs the term counting pipeline: split the input into
// partitions, count each partition into a local table, merge the local
// tables into a global table and select the most frequent terms.
//
// Three strategies share the pipeline. "sequential" scans the whole input
// into one table. "threaded" scans partitions on goroutines that merge into
// a mutex-guarded global table. "process" scans partitions in worker
// processes that hand their tables back to the parent, which merges them
// one after another once every worker has exited.
package counter

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/partition"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/topk"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/tracing"
)

// RunStats aggregates the partition stats of a run.
type RunStats struct {
	Partitions    int   `json:"partitions"`
	Bytes         int64 `json:"bytes"`
	TermsScanned  int64 `json:"terms_scanned"`
	UniqueTerms   int   `json:"unique_terms"`
	Truncated     int64 `json:"truncated_terms"`
	LocalDropped  int64 `json:"local_dropped"`
	GlobalDropped int   `json:"global_dropped"`
	Merges        int   `json:"merges"`
}

// Result is the outcome of one run.
type Result struct {
	RunID      string           `json:"run_id"`
	Input      string           `json:"input"`
	Strategy   string           `json:"strategy"`
	Workers    int              `json:"workers"`
	K          int              `json:"k"`
	Top        []freq.Entry     `json:"top"`
	Stats      RunStats         `json:"stats"`
	Partitions []PartitionStats `json:"partitions"`
	StartedAt  time.Time        `json:"started_at"`
	Elapsed    time.Duration    `json:"elapsed_ns"`
	Global     *freq.Table      `json:"-"`
}

// outcome is what a strategy runner hands back before top-k selection.
type outcome struct {
	global     *freq.Table
	partitions []PartitionStats
	merges     int
	dropped    int
}

// Engine executes counting runs with fixed defaults. It is safe for
// concurrent use; every run builds its own tables.
type Engine struct {
	opts      Options
	metrics   *metrics.Metrics
	transport TransportFactory
	logger    *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics records run and partition metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTransport overrides how the process strategy starts workers and
// collects their tables. The default re-executes the current binary.
func WithTransport(t TransportFactory) Option {
	return func(e *Engine) { e.transport = t }
}

// New validates opts and returns an Engine.
func New(opts Options, options ...Option) (*Engine, error) {
	opts = opts.normalize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		opts:   opts,
		logger: slog.Default().With("component", "engine"),
	}
	for _, o := range options {
		o(e)
	}
	if e.transport == nil {
		e.transport = ExecTransport(nil)
	}
	return e, nil
}

// Resolve applies req's overrides to the engine defaults and validates the
// result. It is what Run does before counting.
func (e *Engine) Resolve(req Request) (Options, error) {
	opts := e.opts
	if req.Strategy != "" {
		opts.Strategy = req.Strategy
	}
	if req.Workers != 0 {
		opts.Workers = req.Workers
	}
	if req.TopK != 0 {
		opts.TopK = req.TopK
	}
	opts = opts.normalize()
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	if req.Input == "" {
		return Options{}, fmt.Errorf("%w: no input", apperrors.ErrInvalidInput)
	}
	return opts, nil
}

// Run counts the terms of req.Input and returns the top entries.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	opts, err := e.Resolve(req)
	if err != nil {
		return nil, err
	}
	runID := req.RunID
	if runID == "" {
		runID = NewRunID()
	}
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx).With("component", "engine")
	ctx, span := tracing.StartSpan(ctx, "termfreq.run", runID)
	span.SetAttr("strategy", opts.Strategy)
	span.SetAttr("workers", opts.Workers)

	log.Info("run started",
		"input", req.Input,
		"strategy", opts.Strategy,
		"workers", opts.Workers,
		"global_capacity", opts.GlobalCapacity,
		"policy", opts.Policy.String(),
	)
	start := time.Now()
	res, err := e.run(ctx, runID, req.Input, opts)
	elapsed := time.Since(start)
	span.End()
	if opts.Tracing {
		span.Log()
	}
	if e.metrics != nil {
		e.metrics.ObserveRun(opts.Strategy, elapsed, err)
	}
	if err != nil {
		log.Error("run failed", "error", err, "elapsed_ms", elapsed.Milliseconds())
		return nil, err
	}

	res.StartedAt = start.UTC()
	res.Elapsed = elapsed
	log.Info("run completed",
		"unique_terms", res.Stats.UniqueTerms,
		"terms_scanned", res.Stats.TermsScanned,
		"merges", res.Stats.Merges,
		"local_dropped", res.Stats.LocalDropped,
		"global_dropped", res.Stats.GlobalDropped,
		"truncated", res.Stats.Truncated,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return res, nil
}

func (e *Engine) run(ctx context.Context, runID, input string, opts Options) (*Result, error) {
	f, size, err := openInput(input)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ranges := partition.Split(size, opts.Workers)
	var out outcome
	switch opts.Strategy {
	case config.StrategySequential:
		out, err = e.runSequential(ctx, f, ranges[0], opts)
	case config.StrategyThreaded:
		out, err = e.runThreaded(ctx, f, ranges, opts)
	case config.StrategyProcess:
		out, err = e.runProcess(ctx, runID, input, ranges, opts)
	}
	if err != nil {
		return nil, err
	}

	_, span := tracing.StartChildSpan(ctx, "topk")
	top := topk.Top(out.global, opts.TopK)
	span.SetAttr("k", opts.TopK)
	span.End()

	res := &Result{
		RunID:      runID,
		Input:      input,
		Strategy:   opts.Strategy,
		Workers:    opts.Workers,
		K:          opts.TopK,
		Top:        top,
		Partitions: out.partitions,
		Global:     out.global,
		Stats: RunStats{
			Partitions:    len(ranges),
			UniqueTerms:   out.global.Len(),
			Merges:        out.merges,
			GlobalDropped: out.dropped,
		},
	}
	for _, p := range out.partitions {
		res.Stats.Bytes += p.Bytes
		res.Stats.TermsScanned += p.Terms
		res.Stats.Truncated += p.Truncated
		res.Stats.LocalDropped += p.Dropped
	}
	if e.metrics != nil && out.dropped > 0 {
		e.metrics.CapacityDropsTotal.WithLabelValues("global").Add(float64(out.dropped))
	}
	return res, nil
}

func (e *Engine) observePartition(strategy string, st PartitionStats) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObservePartition(strategy, st.Elapsed, st.Terms, st.Truncated, st.Dropped)
}

func (e *Engine) observeMerge() {
	if e.metrics != nil {
		e.metrics.MergesTotal.Inc()
	}
}

// openInput opens path and returns its size. Any failure is ErrStreamOpen.
func openInput(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", apperrors.ErrStreamOpen, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %v", apperrors.ErrStreamOpen, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s is a directory", apperrors.ErrStreamOpen, path)
	}
	return f, info.Size(), nil
}

// workerError maps a worker deadline to ErrTimeout, leaving cancellation of
// the whole run as it is.
func workerError(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}
	return err
}

// NewRunID returns a random 16-character hex identifier.
func NewRunID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
