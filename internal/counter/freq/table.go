// Package freq provides the term frequency table used both for per-partition
// (local) counting and for the run-wide (global) result.
package freq

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
)

// Entry is one term and the number of times it was seen.
type Entry struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Table maps terms to counts, remembering the order in which terms were first
// inserted. A positive capacity bounds the number of distinct terms.
//
// Table is not safe for concurrent use. A local table is owned by exactly one
// worker; the global table is guarded by the merge coordinator.
type Table struct {
	index    map[string]int
	entries  []Entry
	capacity int
}

// NewTable creates an empty table. capacity <= 0 means unbounded.
func NewTable(capacity int) *Table {
	if capacity < 0 {
		capacity = 0
	}
	hint := capacity
	if hint == 0 || hint > 1<<16 {
		hint = 1 << 10
	}
	return &Table{
		index:    make(map[string]int, hint),
		entries:  make([]Entry, 0, hint),
		capacity: capacity,
	}
}

// FromEntries builds an unbounded table from entries, summing duplicates.
func FromEntries(entries []Entry) *Table {
	t := NewTable(0)
	for _, e := range entries {
		_ = t.Add(e.Term, e.Count)
	}
	return t
}

// Update records one occurrence of term.
func (t *Table) Update(term string) error {
	return t.Add(term, 1)
}

// UpdateBytes records one occurrence of the term spelled by b. The slice is
// copied only when the term is new.
func (t *Table) UpdateBytes(b []byte) error {
	if i, ok := t.index[string(b)]; ok {
		t.entries[i].Count++
		return nil
	}
	return t.insert(string(b), 1)
}

// Add adds n occurrences of term. Inserting a new term into a full table
// fails with ErrCapacityExceeded and leaves the table unchanged.
func (t *Table) Add(term string, n int64) error {
	if i, ok := t.index[term]; ok {
		t.entries[i].Count += n
		return nil
	}
	return t.insert(term, n)
}

func (t *Table) insert(term string, n int64) error {
	if t.Full() {
		return fmt.Errorf("inserting %q into table of %d terms: %w", term, t.capacity, apperrors.ErrCapacityExceeded)
	}
	t.index[term] = len(t.entries)
	t.entries = append(t.entries, Entry{Term: term, Count: n})
	return nil
}

// Full reports whether a new term would exceed the capacity.
func (t *Table) Full() bool {
	return t.capacity > 0 && len(t.entries) >= t.capacity
}

// Index returns the insertion position of term.
func (t *Table) Index(term string) (int, bool) {
	i, ok := t.index[term]
	return i, ok
}

// Permute reorders the entries so that position i holds the entry that was
// at perm[i]. perm must be a permutation of [0, Len()).
func (t *Table) Permute(perm []int) {
	entries := make([]Entry, len(t.entries))
	for i, j := range perm {
		entries[i] = t.entries[j]
		t.index[entries[i].Term] = i
	}
	t.entries = entries
}

// Count returns the count for term, or 0 when absent.
func (t *Table) Count(term string) int64 {
	if i, ok := t.index[term]; ok {
		return t.entries[i].Count
	}
	return 0
}

// Len returns the number of distinct terms.
func (t *Table) Len() int {
	return len(t.entries)
}

// Capacity returns the distinct-term ceiling, 0 when unbounded.
func (t *Table) Capacity() int {
	return t.capacity
}

// At returns the i-th entry in insertion order.
func (t *Table) At(i int) Entry {
	return t.entries[i]
}

// Total returns the sum of all counts.
func (t *Table) Total() int64 {
	var total int64
	for _, e := range t.entries {
		total += e.Count
	}
	return total
}

// Entries returns a copy of the entries in insertion order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Map returns the table contents as a plain map.
func (t *Table) Map() map[string]int64 {
	m := make(map[string]int64, len(t.entries))
	for _, e := range t.entries {
		m[e.Term] = e.Count
	}
	return m
}

// Equal reports whether both tables hold the same term to count mapping,
// regardless of insertion order.
func (t *Table) Equal(other *Table) bool {
	if t.Len() != other.Len() {
		return false
	}
	for _, e := range t.entries {
		if other.Count(e.Term) != e.Count {
			return false
		}
	}
	return true
}
