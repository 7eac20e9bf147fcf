package counter

import (
	"fmt"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/scanner"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
)

// Options configures a counting run.
type Options struct {
	Strategy       string
	Workers        int
	GlobalCapacity int
	MaxTermLen     int
	TopK           int
	Policy         freq.OverflowPolicy
	WorkerTimeout  time.Duration
	HandoffDir     string
	Tracing        bool
}

// DefaultOptions mirrors config.Default.
func DefaultOptions() Options {
	opts, _ := OptionsFromConfig(config.Default())
	return opts
}

// OptionsFromConfig builds run options from the counter, handoff and
// tracing sections of cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	policy, err := freq.ParsePolicy(cfg.Counter.OnCapacity)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	return Options{
		Strategy:       cfg.Counter.Strategy,
		Workers:        cfg.Counter.Workers,
		GlobalCapacity: cfg.Counter.GlobalCapacity,
		MaxTermLen:     cfg.Counter.MaxTermLen,
		TopK:           cfg.Counter.TopK,
		Policy:         policy,
		WorkerTimeout:  cfg.Counter.WorkerTimeout,
		HandoffDir:     cfg.Handoff.Dir,
		Tracing:        cfg.Tracing.Enabled,
	}, nil
}

// Validate rejects options no run could honour.
func (o Options) Validate() error {
	switch o.Strategy {
	case config.StrategySequential, config.StrategyThreaded, config.StrategyProcess:
	default:
		return fmt.Errorf("%w: unknown strategy %q", apperrors.ErrInvalidInput, o.Strategy)
	}
	if o.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", apperrors.ErrInvalidInput, o.Workers)
	}
	if o.GlobalCapacity < 0 {
		return fmt.Errorf("%w: negative global capacity", apperrors.ErrInvalidInput)
	}
	if o.TopK < 0 {
		return fmt.Errorf("%w: negative top-k", apperrors.ErrInvalidInput)
	}
	if o.WorkerTimeout < 0 {
		return fmt.Errorf("%w: negative worker timeout", apperrors.ErrInvalidInput)
	}
	return nil
}

// LocalCapacity is the per-partition ceiling: the global capacity split
// evenly across workers, never below one. Zero stays unbounded.
func (o Options) LocalCapacity() int {
	return config.CounterConfig{GlobalCapacity: o.GlobalCapacity, Workers: o.Workers}.LocalCapacity()
}

func (o Options) normalize() Options {
	if o.MaxTermLen <= 0 {
		o.MaxTermLen = scanner.DefaultMaxTermLen
	}
	if o.Strategy == config.StrategySequential {
		o.Workers = 1
	}
	if o.HandoffDir == "" {
		o.HandoffDir = os.TempDir()
	}
	return o
}

func (o Options) scanOptions(capacity int) ScanOptions {
	return ScanOptions{
		MaxTermLen: o.MaxTermLen,
		Capacity:   capacity,
		Policy:     o.Policy,
	}
}

// Request selects the input of one run and optionally overrides the
// engine's strategy, worker count and top-k. Zero values keep the defaults.
type Request struct {
	Input    string
	Strategy string
	Workers  int
	TopK     int
	RunID    string
}
