package topk

import (
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
)

func TestTopTieBreakByInsertionOrder(t *testing.T) {
	tbl := freq.FromEntries([]freq.Entry{{"a", 5}, {"b", 5}, {"c", 3}})
	got := Top(tbl, 2)
	want := []freq.Entry{{"a", 5}, {"b", 5}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTopLengthIsMinOfKAndSize(t *testing.T) {
	tbl := freq.FromEntries([]freq.Entry{{"x", 1}, {"y", 2}})
	tests := []struct {
		k    int
		want int
	}{
		{0, 0}, {-1, 0}, {1, 1}, {2, 2}, {10, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("k=%d", tt.k), func(t *testing.T) {
			if got := len(Top(tbl, tt.k)); got != tt.want {
				t.Errorf("len = %d, want %d", got, tt.want)
			}
		})
	}
	if got := Top(freq.NewTable(0), 3); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %v", got)
	}
}

func TestTopScenario(t *testing.T) {
	tbl := freq.FromEntries([]freq.Entry{
		{"the", 3}, {"cat", 2}, {"sat", 1}, {"on", 1}, {"mat", 1}, {"ran", 1},
	})
	got := Top(tbl, 3)
	want := []freq.Entry{{"the", 3}, {"cat", 2}, {"sat", 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTopMatchesStableSort(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		tbl := freq.NewTable(0)
		n := rnd.Intn(300)
		for i := 0; i < n; i++ {
			tbl.Add(fmt.Sprintf("w%d", i), int64(rnd.Intn(20)+1))
		}
		entries := tbl.Entries()
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Count > entries[j].Count
		})
		k := rnd.Intn(25)
		want := entries
		if len(want) > k {
			want = want[:k]
		}
		got := Top(tbl, k)
		if len(want) == 0 && len(got) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round %d k=%d: got %v, want %v", round, k, got, want)
		}
	}
}

func TestTopDoesNotMutateTable(t *testing.T) {
	tbl := freq.FromEntries([]freq.Entry{{"a", 1}, {"b", 9}, {"c", 4}})
	before := tbl.Entries()
	Top(tbl, 2)
	if !reflect.DeepEqual(before, tbl.Entries()) {
		t.Errorf("table order changed: %v -> %v", before, tbl.Entries())
	}
}
