// Package topk selects the highest-count entries from a frequency table.
package topk

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
)

// Top returns the k entries with the highest counts in descending order.
// Equal counts keep the table's insertion order. The table is not modified.
func Top(t *freq.Table, k int) []freq.Entry {
	if k <= 0 || t.Len() == 0 {
		return []freq.Entry{}
	}
	h := &entryHeap{}
	for i := 0; i < t.Len(); i++ {
		item := ranked{entry: t.At(i), seq: i}
		if h.Len() < k {
			heap.Push(h, item)
			continue
		}
		if outranks(item, (*h)[0]) {
			(*h)[0] = item
			heap.Fix(h, 0)
		}
	}
	result := make([]freq.Entry, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ranked).entry
	}
	return result
}

type ranked struct {
	entry freq.Entry
	seq   int
}

// outranks reports whether a sorts before b in the final result.
func outranks(a, b ranked) bool {
	if a.entry.Count != b.entry.Count {
		return a.entry.Count > b.entry.Count
	}
	return a.seq < b.seq
}

// entryHeap is a min-heap on rank: the root is the weakest kept entry.
type entryHeap []ranked

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return outranks(h[j], h[i]) }

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(ranked))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
