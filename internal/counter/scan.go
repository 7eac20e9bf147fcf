package counter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/partition"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/proc"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/scanner"
)

// cancelCheckInterval is how many terms are scanned between context checks.
const cancelCheckInterval = 4096

// ScanOptions controls how one partition is counted.
type ScanOptions struct {
	MaxTermLen int
	Capacity   int
	Policy     freq.OverflowPolicy
}

// PartitionStats summarizes the scan of one partition.
type PartitionStats struct {
	Partition partition.Range `json:"partition"`
	Bytes     int64           `json:"bytes"`
	Terms     int64           `json:"terms"`
	Unique    int             `json:"unique"`
	Truncated int64           `json:"truncated"`
	Dropped   int64           `json:"dropped"`
	Elapsed   time.Duration   `json:"elapsed_ns"`
}

// Report converts the stats to the form a worker process sends its parent.
func (s PartitionStats) Report() proc.Report {
	return proc.Report{
		Partition:   s.Partition.Index,
		Bytes:       s.Bytes,
		Terms:       s.Terms,
		Unique:      s.Unique,
		Truncated:   s.Truncated,
		Dropped:     s.Dropped,
		ScanSeconds: s.Elapsed.Seconds(),
	}
}

func statsFromReport(rng partition.Range, r proc.Report) PartitionStats {
	return PartitionStats{
		Partition: rng,
		Bytes:     r.Bytes,
		Terms:     r.Terms,
		Unique:    r.Unique,
		Truncated: r.Truncated,
		Dropped:   r.Dropped,
		Elapsed:   time.Duration(r.ScanSeconds * float64(time.Second)),
	}
}

// ScanPartition counts the terms owned by rng into a fresh table bounded by
// opts.Capacity. Under FailOnOverflow a full table aborts the scan with
// ErrCapacityExceeded; otherwise new terms that do not fit are dropped.
func ScanPartition(ctx context.Context, r io.ReaderAt, rng partition.Range, opts ScanOptions) (*freq.Table, PartitionStats, error) {
	start := time.Now()
	st := PartitionStats{Partition: rng}
	table := freq.NewTable(opts.Capacity)
	s := scanner.New(r, rng, opts.MaxTermLen)

	for s.Scan() {
		st.Terms++
		if st.Terms%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, st, fmt.Errorf("scanning partition %s: %w", rng, err)
			}
		}
		if err := table.UpdateBytes(s.Bytes()); err != nil {
			if opts.Policy == freq.FailOnOverflow {
				return nil, st, fmt.Errorf("scanning partition %s: %w", rng, err)
			}
			if st.Dropped == 0 {
				slog.Warn("local table full, dropping new terms",
					"component", "scanner",
					"partition", rng.Index,
					"capacity", table.Capacity(),
				)
			}
			st.Dropped++
		}
	}
	if err := s.Err(); err != nil {
		return nil, st, err
	}
	if err := ctx.Err(); err != nil {
		return nil, st, fmt.Errorf("scanning partition %s: %w", rng, err)
	}

	st.Bytes = s.Consumed()
	st.Unique = table.Len()
	st.Truncated = s.Truncated()
	st.Elapsed = time.Since(start)
	return table, st, nil
}
