// Package proc starts partition workers as separate OS processes. The
// production launcher re-executes the current binary with the worker
// sub-command; each worker reports its scan statistics on stdout as JSON and
// leaves its table in the handoff directory.
package proc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/partition"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
)

// WorkerCommand is the sub-command a re-executed binary must dispatch to
// the worker entry point.
const WorkerCommand = "worker"

// Task is everything a worker needs to scan one partition.
type Task struct {
	RunID      string
	Input      string
	Partition  partition.Range
	MaxTermLen int
	Capacity   int
	Policy     string
	HandoffDir string
}

// Report is what a worker tells its parent after a successful scan.
type Report struct {
	Partition   int     `json:"partition"`
	Bytes       int64   `json:"bytes"`
	Terms       int64   `json:"terms"`
	Unique      int     `json:"unique"`
	Truncated   int64   `json:"truncated"`
	Dropped     int64   `json:"dropped"`
	ScanSeconds float64 `json:"scan_seconds"`
}

// Launcher runs one worker to completion.
type Launcher interface {
	Launch(ctx context.Context, task Task) (Report, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, task Task) (Report, error)

func (f LauncherFunc) Launch(ctx context.Context, task Task) (Report, error) {
	return f(ctx, task)
}

// Args renders the task as worker sub-command arguments.
func (t Task) Args() []string {
	return []string{
		WorkerCommand,
		"-run-id", t.RunID,
		"-input", t.Input,
		"-index", strconv.Itoa(t.Partition.Index),
		"-start", strconv.FormatInt(t.Partition.Start, 10),
		"-end", strconv.FormatInt(t.Partition.End, 10),
		"-max-term-len", strconv.Itoa(t.MaxTermLen),
		"-capacity", strconv.Itoa(t.Capacity),
		"-policy", t.Policy,
		"-handoff-dir", t.HandoffDir,
	}
}

// ParseTask parses worker sub-command arguments (without the sub-command
// itself) back into a Task.
func ParseTask(args []string) (Task, error) {
	var t Task
	fs := flag.NewFlagSet(WorkerCommand, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&t.RunID, "run-id", "", "run identifier")
	fs.StringVar(&t.Input, "input", "", "input file")
	fs.IntVar(&t.Partition.Index, "index", 0, "partition index")
	fs.Int64Var(&t.Partition.Start, "start", 0, "partition start offset")
	fs.Int64Var(&t.Partition.End, "end", 0, "partition end offset")
	fs.IntVar(&t.MaxTermLen, "max-term-len", 0, "maximum term length")
	fs.IntVar(&t.Capacity, "capacity", 0, "local table capacity")
	fs.StringVar(&t.Policy, "policy", "", "capacity policy")
	fs.StringVar(&t.HandoffDir, "handoff-dir", "", "handoff directory")
	if err := fs.Parse(args); err != nil {
		return Task{}, fmt.Errorf("%w: worker arguments: %v", apperrors.ErrInvalidInput, err)
	}
	switch {
	case t.Input == "":
		return Task{}, fmt.Errorf("%w: worker needs -input", apperrors.ErrInvalidInput)
	case t.HandoffDir == "":
		return Task{}, fmt.Errorf("%w: worker needs -handoff-dir", apperrors.ErrInvalidInput)
	case t.Partition.Start < 0 || t.Partition.End < t.Partition.Start:
		return Task{}, fmt.Errorf("%w: bad partition %s", apperrors.ErrInvalidInput, t.Partition)
	}
	return t, nil
}

// ExecLauncher starts each worker as a child process of Executable.
type ExecLauncher struct {
	Executable string
	Env        []string
	Stderr     io.Writer
	logger     *slog.Logger
}

// NewExecLauncher returns a launcher that re-executes the running binary.
func NewExecLauncher() (*ExecLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}
	return &ExecLauncher{
		Executable: exe,
		Stderr:     os.Stderr,
		logger:     slog.Default().With("component", "proc-launcher"),
	}, nil
}

// Launch runs the worker and waits for it. The child is killed when ctx is
// cancelled. A non-zero exit is reported as ErrWorkerFailed.
func (l *ExecLauncher) Launch(ctx context.Context, task Task) (Report, error) {
	cmd := exec.CommandContext(ctx, l.Executable, task.Args()...)
	cmd.Env = append(os.Environ(), l.Env...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = l.Stderr

	if l.logger != nil {
		l.logger.Debug("starting worker",
			"partition", task.Partition.String(),
			"executable", l.Executable,
		)
	}
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Report{}, fmt.Errorf("worker %d: %w", task.Partition.Index, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Report{}, fmt.Errorf("%w: worker %d exited with status %d",
				apperrors.ErrWorkerFailed, task.Partition.Index, exitErr.ExitCode())
		}
		return Report{}, fmt.Errorf("%w: starting worker %d: %v", apperrors.ErrWorkerFailed, task.Partition.Index, err)
	}

	var report Report
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &report); err != nil {
		return Report{}, fmt.Errorf("%w: worker %d report: %v", apperrors.ErrWorkerFailed, task.Partition.Index, err)
	}
	if report.Partition != task.Partition.Index {
		return Report{}, fmt.Errorf("%w: worker %d reported partition %d",
			apperrors.ErrWorkerFailed, task.Partition.Index, report.Partition)
	}
	return report, nil
}

// WriteReport writes the worker's report to w for the parent to read.
func WriteReport(w io.Writer, r Report) error {
	return json.NewEncoder(w).Encode(r)
}
