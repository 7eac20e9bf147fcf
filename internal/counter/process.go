package counter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/handoff"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/merge"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/partition"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/proc"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/tracing"
)

// Transport is how one process-strategy run reaches its workers: a launcher
// to start them and a source to collect what they delivered.
type Transport struct {
	Launcher proc.Launcher
	Source   handoff.Source
	// Dir is passed to workers as their handoff directory. Empty when the
	// workers deliver through memory.
	Dir   string
	Close func() error
}

// TransportFactory prepares the transport of one run.
type TransportFactory func(ctx context.Context, runID string, opts Options) (*Transport, error)

// ExecTransport starts workers as child processes through launcher (the
// current executable when nil) and collects their tables from a per-run
// directory under opts.HandoffDir, removed when the run ends.
func ExecTransport(launcher proc.Launcher) TransportFactory {
	return func(ctx context.Context, runID string, opts Options) (*Transport, error) {
		l := launcher
		if l == nil {
			exec, err := proc.NewExecLauncher()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", apperrors.ErrInternal, err)
			}
			l = exec
		}
		if err := os.MkdirAll(opts.HandoffDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating handoff directory: %w", err)
		}
		dir, err := os.MkdirTemp(opts.HandoffDir, "termfreq-"+runID+"-")
		if err != nil {
			return nil, fmt.Errorf("creating run handoff directory: %w", err)
		}
		return &Transport{
			Launcher: l,
			Source:   handoff.NewFileStore(dir, opts.MaxTermLen),
			Dir:      dir,
			Close:    func() error { return os.RemoveAll(dir) },
		}, nil
	}
}

// MailboxTransport runs workers on goroutines of the current process. They
// deliver serialized tables to an in-memory mailbox, so the handoff path is
// exercised without spawning processes.
func MailboxTransport() TransportFactory {
	return func(ctx context.Context, runID string, opts Options) (*Transport, error) {
		mb := handoff.NewMailbox(opts.MaxTermLen)
		return &Transport{
			Launcher: proc.LauncherFunc(func(ctx context.Context, task proc.Task) (proc.Report, error) {
				return RunWorker(ctx, task, mb)
			}),
			Source: mb,
			Close:  func() error { return nil },
		}, nil
	}
}

// runProcess launches one worker per partition, waits for all of them and
// then merges their tables in partition order on the calling goroutine.
func (e *Engine) runProcess(ctx context.Context, runID, input string, ranges []partition.Range, opts Options) (outcome, error) {
	log := logger.FromContext(ctx).With("component", "engine")
	tr, err := e.transport(ctx, runID, opts)
	if err != nil {
		return outcome{}, err
	}
	defer func() {
		if err := tr.Close(); err != nil {
			log.Warn("failed to clean up handoff", "dir", tr.Dir, "error", err)
		}
	}()

	reports := make([]proc.Report, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for _, rng := range ranges {
		task := proc.Task{
			RunID:      runID,
			Input:      input,
			Partition:  rng,
			MaxTermLen: opts.MaxTermLen,
			Capacity:   opts.LocalCapacity(),
			Policy:     opts.Policy.String(),
			HandoffDir: tr.Dir,
		}
		g.Go(func() error {
			name := fmt.Sprintf("worker %d", rng.Index)
			err := resilience.WithTimeout(gctx, opts.WorkerTimeout, name, func(ctx context.Context) error {
				wctx, span := tracing.StartChildSpan(ctx, "worker")
				span.SetAttr("partition", rng.Index)
				report, err := tr.Launcher.Launch(wctx, task)
				span.End()
				if err != nil {
					return err
				}
				reports[rng.Index] = report
				return nil
			})
			return workerError(ctx, err)
		})
	}
	if err := g.Wait(); err != nil {
		return outcome{}, err
	}
	log.Debug("all workers exited", "workers", len(ranges))

	coord := merge.NewCoordinator(opts.GlobalCapacity, opts.Policy)
	stats := make([]PartitionStats, len(ranges))
	for _, rng := range ranges {
		table, err := tr.Source.Collect(ctx, rng.Index)
		if err != nil {
			return outcome{}, fmt.Errorf("collecting partition %d: %w", rng.Index, err)
		}
		_, span := tracing.StartChildSpan(ctx, "merge")
		span.SetAttr("partition", rng.Index)
		_, err = coord.Merge(rng.Index, table)
		span.End()
		if err != nil {
			return outcome{}, err
		}
		e.observeMerge()
		stats[rng.Index] = statsFromReport(rng, reports[rng.Index])
		e.observePartition(opts.Strategy, stats[rng.Index])
	}

	return outcome{
		global:     coord.Global(),
		partitions: stats,
		merges:     coord.Merges(),
		dropped:    coord.Dropped(),
	}, nil
}

// RunWorker scans task's partition of the input and delivers the resulting
// table to sink. It is the body of a worker process.
func RunWorker(ctx context.Context, task proc.Task, sink handoff.Sink) (proc.Report, error) {
	policy, err := freq.ParsePolicy(task.Policy)
	if err != nil {
		return proc.Report{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	f, err := os.Open(task.Input)
	if err != nil {
		return proc.Report{}, fmt.Errorf("%w: %v", apperrors.ErrStreamOpen, err)
	}
	defer f.Close()

	table, st, err := ScanPartition(ctx, f, task.Partition, ScanOptions{
		MaxTermLen: task.MaxTermLen,
		Capacity:   task.Capacity,
		Policy:     policy,
	})
	if err != nil {
		return proc.Report{}, err
	}
	if err := sink.Deliver(ctx, task.Partition.Index, table); err != nil {
		return proc.Report{}, fmt.Errorf("delivering partition %d: %w", task.Partition.Index, err)
	}
	slog.Debug("worker finished",
		"component", "worker",
		"run_id", task.RunID,
		"partition", task.Partition.String(),
		"terms", st.Terms,
		"unique", st.Unique,
	)
	return st.Report(), nil
}

// ServeWorker is the entry point of a worker process: it parses the worker
// sub-command arguments, scans the partition into the handoff directory and
// writes the report to stdout for the parent.
func ServeWorker(ctx context.Context, args []string, stdout io.Writer) error {
	task, err := proc.ParseTask(args)
	if err != nil {
		return err
	}
	ctx = logger.WithRunID(ctx, task.RunID)
	rep, err := RunWorker(ctx, task, handoff.NewFileStore(task.HandoffDir, task.MaxTermLen))
	if err != nil {
		return fmt.Errorf("partition %s: %w", task.Partition, err)
	}
	return proc.WriteReport(stdout, rep)
}
