package counter

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/merge"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/partition"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/tracing"
)

// runSequential scans the whole input into a single table bounded by the
// global capacity. The scan table is the global table.
func (e *Engine) runSequential(ctx context.Context, r io.ReaderAt, rng partition.Range, opts Options) (outcome, error) {
	sctx, span := tracing.StartChildSpan(ctx, "scan")
	span.SetAttr("partition", rng.Index)
	table, st, err := ScanPartition(sctx, r, rng, opts.scanOptions(opts.GlobalCapacity))
	span.End()
	if err != nil {
		return outcome{}, err
	}
	e.observePartition(opts.Strategy, st)
	return outcome{
		global:     table,
		partitions: []PartitionStats{st},
	}, nil
}

// runThreaded scans every partition on its own goroutine. Each goroutine
// merges its local table into the shared coordinator as soon as it is done;
// the global table is read only after every goroutine has returned.
func (e *Engine) runThreaded(ctx context.Context, r io.ReaderAt, ranges []partition.Range, opts Options) (outcome, error) {
	coord := merge.NewCoordinator(opts.GlobalCapacity, opts.Policy)
	stats := make([]PartitionStats, len(ranges))
	local := opts.scanOptions(opts.LocalCapacity())

	g, gctx := errgroup.WithContext(ctx)
	for _, rng := range ranges {
		g.Go(func() error {
			name := fmt.Sprintf("partition %d", rng.Index)
			err := resilience.WithTimeout(gctx, opts.WorkerTimeout, name, func(ctx context.Context) error {
				sctx, span := tracing.StartChildSpan(ctx, "scan")
				span.SetAttr("partition", rng.Index)
				table, st, err := ScanPartition(sctx, r, rng, local)
				span.End()
				if err != nil {
					return err
				}
				e.observePartition(opts.Strategy, st)

				_, span = tracing.StartChildSpan(ctx, "merge")
				span.SetAttr("partition", rng.Index)
				_, err = coord.Merge(rng.Index, table)
				span.End()
				if err != nil {
					return err
				}
				e.observeMerge()
				stats[rng.Index] = st
				return nil
			})
			return workerError(ctx, err)
		})
	}
	if err := g.Wait(); err != nil {
		return outcome{}, err
	}

	return outcome{
		global:     coord.Global(),
		partitions: stats,
		merges:     coord.Merges(),
		dropped:    coord.Dropped(),
	}, nil
}
