package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/handoff"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/merge"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/partition"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/scanner"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/topk"
)

var vocabulary = strings.Fields(`the of and to in is was for on that with as by at
	from his it an were are which this be has had not but or its one their
	partition worker merge table capacity boundary frequency term process`)

// corpus builds n words drawn from vocabulary with a skewed distribution,
// so tables see both hot and rare terms.
func corpus(n int) []byte {
	rnd := rand.New(rand.NewSource(1))
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		w := vocabulary[int(float64(len(vocabulary))*rnd.Float64()*rnd.Float64())]
		if rnd.Intn(20) == 0 {
			w = fmt.Sprintf("%s%d", w, rnd.Intn(5000))
		}
		buf.WriteString(w)
		if rnd.Intn(12) == 0 {
			buf.WriteByte('\n')
		} else {
			buf.WriteByte(' ')
		}
	}
	return buf.Bytes()
}

func writeCorpus(b *testing.B, words int) string {
	b.Helper()
	path := filepath.Join(b.TempDir(), "corpus.txt")
	if err := os.WriteFile(path, corpus(words), 0o644); err != nil {
		b.Fatal(err)
	}
	return path
}

func BenchmarkScanner(b *testing.B) {
	for _, words := range []int{1_000, 100_000} {
		data := corpus(words)
		b.Run(fmt.Sprintf("words_%d", words), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(data)))
			src := bytes.NewReader(data)
			rng := partition.Range{Start: 0, End: int64(len(data))}
			for i := 0; i < b.N; i++ {
				s := scanner.New(src, rng, scanner.DefaultMaxTermLen)
				for s.Scan() {
				}
			}
		})
	}
}

func BenchmarkTableUpdate(b *testing.B) {
	data := corpus(50_000)
	terms := bytes.Fields(data)
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		t := freq.NewTable(0)
		for _, term := range terms {
			t.UpdateBytes(term)
		}
	}
}

func BenchmarkMerge(b *testing.B) {
	locals := make([]*freq.Table, 8)
	for i := range locals {
		locals[i] = freq.NewTable(0)
		for _, term := range bytes.Fields(corpus(10_000 + i)) {
			locals[i].UpdateBytes(term)
		}
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c := merge.NewCoordinator(0, freq.DropOnOverflow)
		for p, local := range locals {
			if _, err := c.Merge(p, local); err != nil {
				b.Fatal(err)
			}
		}
	}
}

func BenchmarkTopK(b *testing.B) {
	t := freq.NewTable(0)
	for _, term := range bytes.Fields(corpus(200_000)) {
		t.UpdateBytes(term)
	}
	for _, k := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("k_%d", k), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = topk.Top(t, k)
			}
		})
	}
}

func BenchmarkHandoffCodec(b *testing.B) {
	t := freq.NewTable(0)
	for _, term := range bytes.Fields(corpus(50_000)) {
		t.UpdateBytes(term)
	}
	entries := t.Entries()
	var buf bytes.Buffer
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		if err := handoff.Encode(&buf, scanner.DefaultMaxTermLen, entries); err != nil {
			b.Fatal(err)
		}
		if _, err := handoff.Decode(&buf); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkStrategies compares the sequential and threaded strategies, and
// the process pipeline over the in-memory mailbox, across worker counts.
func BenchmarkStrategies(b *testing.B) {
	path := writeCorpus(b, 500_000)
	info, err := os.Stat(path)
	if err != nil {
		b.Fatal(err)
	}
	cases := []struct {
		strategy string
		workers  int
	}{
		{"sequential", 1},
		{"threaded", 2},
		{"threaded", 8},
		{"process", 8},
	}
	for _, tc := range cases {
		b.Run(fmt.Sprintf("%s_%d", tc.strategy, tc.workers), func(b *testing.B) {
			opts := counter.DefaultOptions()
			opts.Strategy = tc.strategy
			opts.Workers = tc.workers
			e, err := counter.New(opts, counter.WithTransport(counter.MailboxTransport()))
			if err != nil {
				b.Fatal(err)
			}
			b.ReportAllocs()
			b.SetBytes(info.Size())
			for i := 0; i < b.N; i++ {
				if _, err := e.Run(context.Background(), counter.Request{Input: path}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
