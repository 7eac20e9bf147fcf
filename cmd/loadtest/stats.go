package main

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Stats collects the outcome of every request issued during a load run.
type Stats struct {
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cached    atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	statuses  map[int]int64
	// per strategy successful latencies
	byStrategy map[string][]time.Duration
}

func NewStats() *Stats {
	return &Stats{
		latencies:  make([]time.Duration, 0, 4096),
		statuses:   make(map[int]int64),
		byStrategy: make(map[string][]time.Duration),
	}
}

// Record adds one request. A transport error has no status code and no
// latency sample.
func (s *Stats) Record(strategy string, d time.Duration, status int, cached bool, err error) {
	s.total.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	ok := status >= 200 && status < 300
	if ok {
		s.succeeded.Add(1)
	} else {
		s.failed.Add(1)
	}
	if cached {
		s.cached.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
	s.statuses[status]++
	if ok {
		s.byStrategy[strategy] = append(s.byStrategy[strategy], d)
	}
}

func (s *Stats) Total() int64 { return s.total.Load() }

// Print writes the summary of a run that lasted elapsed.
func (s *Stats) Print(w io.Writer, elapsed time.Duration) {
	total := s.total.Load()
	failed := s.failed.Load()

	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", s.succeeded.Load())
	fmt.Fprintf(w, "Errors:          %d\n", failed)
	fmt.Fprintf(w, "Served Cached:   %d\n", s.cached.Load())
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/elapsed.Seconds())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) > 0 {
		sorted := slices.Clone(s.latencies)
		slices.Sort(sorted)
		avg := mean(sorted)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", sorted[0])
		fmt.Fprintf(w, "Avg:    %s\n", avg)
		fmt.Fprintf(w, "P50:    %s\n", percentile(sorted, 50))
		fmt.Fprintf(w, "P90:    %s\n", percentile(sorted, 90))
		fmt.Fprintf(w, "P99:    %s\n", percentile(sorted, 99))
		fmt.Fprintf(w, "Max:    %s\n", sorted[len(sorted)-1])
		fmt.Fprintf(w, "StdDev: %s\n", stddev(sorted, avg))
	}

	if len(s.byStrategy) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== By Strategy (successful) ===")
		names := make([]string, 0, len(s.byStrategy))
		for name := range s.byStrategy {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			sorted := slices.Clone(s.byStrategy[name])
			slices.Sort(sorted)
			fmt.Fprintf(w, "  %-10s n=%-6d p50=%s p99=%s\n", name, len(sorted), percentile(sorted, 50), percentile(sorted, 99))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	codes := make([]int, 0, len(s.statuses))
	for code := range s.statuses {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, s.statuses[code])
	}
}

func mean(ds []time.Duration) time.Duration {
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

func stddev(ds []time.Duration, avg time.Duration) time.Duration {
	var sq float64
	for _, d := range ds {
		diff := float64(d - avg)
		sq += diff * diff
	}
	return time.Duration(math.Sqrt(sq / float64(len(ds))))
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
