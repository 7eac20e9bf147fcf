// Package merge combines per-partition frequency tables into the run-wide
// global table.
package merge

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
)

// Stats describes the effect of one merge.
type Stats struct {
	Partition int   `json:"partition"`
	Entries   int   `json:"entries"`
	Inserted  int   `json:"inserted"`
	Updated   int   `json:"updated"`
	Dropped   int   `json:"dropped"`
	DroppedN  int64 `json:"dropped_occurrences"`
}

// origin is where a term first occurs in the input: the lowest partition
// holding it and its position in that partition's table.
type origin struct {
	partition int
	pos       int
}

func (o origin) compare(other origin) int {
	if c := cmp.Compare(o.partition, other.partition); c != 0 {
		return c
	}
	return cmp.Compare(o.pos, other.pos)
}

// Coordinator owns the global table. Each Merge call holds the lock for its
// whole duration, so merges from different partitions never interleave.
//
// Merges may arrive in any order. Global returns the table in input order
// (the order a single sequential scan would have inserted the terms), so
// tie-breaking downstream does not depend on which merge finished first.
type Coordinator struct {
	mu      sync.Mutex
	global  *freq.Table
	origins []origin // parallel to global's entries
	policy  freq.OverflowPolicy
	merges  int
	dropped int
	logger  *slog.Logger
}

// NewCoordinator creates a coordinator over an empty global table bounded by
// capacity (0 = unbounded).
func NewCoordinator(capacity int, policy freq.OverflowPolicy) *Coordinator {
	return &Coordinator{
		global: freq.NewTable(capacity),
		policy: policy,
		logger: slog.Default().With("component", "merge-coordinator"),
	}
}

// Merge adds every entry of local into the global table. Under
// FailOnOverflow the first term that does not fit aborts the merge with
// ErrCapacityExceeded; under DropOnOverflow it is logged and skipped.
func (c *Coordinator) Merge(partition int, local *freq.Table) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{Partition: partition, Entries: local.Len()}
	for i := 0; i < local.Len(); i++ {
		e := local.At(i)
		before := c.global.Len()
		if err := c.global.Add(e.Term, e.Count); err != nil {
			if !errors.Is(err, apperrors.ErrCapacityExceeded) || c.policy == freq.FailOnOverflow {
				return st, fmt.Errorf("merging partition %d: %w", partition, err)
			}
			if st.Dropped == 0 {
				c.logger.Warn("global table full, dropping terms",
					"partition", partition,
					"capacity", c.global.Capacity(),
				)
			}
			st.Dropped++
			st.DroppedN += e.Count
			continue
		}
		here := origin{partition: partition, pos: i}
		if c.global.Len() > before {
			c.origins = append(c.origins, here)
			st.Inserted++
		} else {
			if j, _ := c.global.Index(e.Term); here.compare(c.origins[j]) < 0 {
				c.origins[j] = here
			}
			st.Updated++
		}
	}
	c.merges++
	c.dropped += st.Dropped
	c.logger.Debug("partition merged",
		"partition", partition,
		"entries", st.Entries,
		"inserted", st.Inserted,
		"updated", st.Updated,
		"dropped", st.Dropped,
		"global_terms", c.global.Len(),
	)
	return st, nil
}

// Global returns the global table in input order. Callers must only read
// it after every merge has completed.
func (c *Coordinator) Global() *freq.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.IsSortedFunc(c.origins, origin.compare) {
		perm := make([]int, len(c.origins))
		for i := range perm {
			perm[i] = i
		}
		slices.SortFunc(perm, func(a, b int) int { return c.origins[a].compare(c.origins[b]) })
		origins := make([]origin, len(perm))
		for i, j := range perm {
			origins[i] = c.origins[j]
		}
		c.global.Permute(perm)
		c.origins = origins
	}
	return c.global
}

// Merges returns the number of merges applied.
func (c *Coordinator) Merges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.merges
}

// Dropped returns the number of distinct terms discarded for lack of capacity.
func (c *Coordinator) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
