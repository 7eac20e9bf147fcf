package counter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/handoff"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/partition"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/proc"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
)

func TestServeWorkerWritesHandoffAndReport(t *testing.T) {
	input := writeInput(t, "the cat sat on the mat")
	dir := t.TempDir()
	task := proc.Task{
		RunID:      "run-1",
		Input:      input,
		Partition:  partition.Range{Index: 3, Start: 0, End: 22},
		MaxTermLen: 49,
		Policy:     "drop",
		HandoffDir: dir,
	}

	var stdout bytes.Buffer
	if err := ServeWorker(context.Background(), task.Args()[1:], &stdout); err != nil {
		t.Fatalf("ServeWorker: %v", err)
	}
	var rep proc.Report
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		t.Fatalf("decoding report %q: %v", stdout.String(), err)
	}
	if rep.Partition != 3 || rep.Terms != 6 || rep.Unique != 5 {
		t.Errorf("unexpected report %+v", rep)
	}

	table, err := handoff.NewFileStore(dir, 49).Collect(context.Background(), 3)
	if err != nil {
		t.Fatalf("collecting handoff: %v", err)
	}
	if got := table.Count("the"); got != 2 {
		t.Errorf("count(the) = %d, want 2", got)
	}
}

func TestServeWorkerRejectsBadArgs(t *testing.T) {
	err := ServeWorker(context.Background(), []string{"-input", ""}, &bytes.Buffer{})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
