package proc

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/partition"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
)

func TestTaskArgsRoundTrip(t *testing.T) {
	task := Task{
		RunID:      "abc123",
		Input:      "/data/corpus.txt",
		Partition:  partition.Range{Index: 3, Start: 1024, End: 2048},
		MaxTermLen: 49,
		Capacity:   1000,
		Policy:     "fail",
		HandoffDir: "/tmp/run",
	}
	args := task.Args()
	if args[0] != WorkerCommand {
		t.Fatalf("first arg = %q, want %q", args[0], WorkerCommand)
	}
	got, err := ParseTask(args[1:])
	if err != nil {
		t.Fatalf("ParseTask: %v", err)
	}
	if got != task {
		t.Errorf("got %+v, want %+v", got, task)
	}
}

func TestParseTaskRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no input", []string{"-handoff-dir", "/tmp"}},
		{"no handoff dir", []string{"-input", "f"}},
		{"inverted range", []string{"-input", "f", "-handoff-dir", "/tmp", "-start", "10", "-end", "5"}},
		{"unknown flag", []string{"-input", "f", "-handoff-dir", "/tmp", "-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTask(tt.args); !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestLauncherFunc(t *testing.T) {
	var l Launcher = LauncherFunc(func(ctx context.Context, task Task) (Report, error) {
		return Report{Partition: task.Partition.Index, Terms: 7}, nil
	})
	r, err := l.Launch(context.Background(), Task{Partition: partition.Range{Index: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if r.Partition != 2 || r.Terms != 7 {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestExecLauncherReportsExitFailure(t *testing.T) {
	l := &ExecLauncher{Executable: "/bin/false"}
	_, err := l.Launch(context.Background(), Task{Partition: partition.Range{Index: 1}})
	if !errors.Is(err, apperrors.ErrWorkerFailed) {
		t.Errorf("expected ErrWorkerFailed, got %v", err)
	}
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, Report{Partition: 4, Terms: 12}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"partition":4`)) {
		t.Errorf("unexpected report encoding %s", buf.String())
	}
}
