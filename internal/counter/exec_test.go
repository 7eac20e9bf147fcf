package counter

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/proc"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/config"
)

// workerEnv marks a re-executed test binary that should act as a worker.
const workerEnv = "TERMFREQ_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" && len(os.Args) > 1 && os.Args[1] == proc.WorkerCommand {
		if err := ServeWorker(context.Background(), os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestExecTransportRunsChildProcesses(t *testing.T) {
	t.Setenv(workerEnv, "1")
	path := writeInput(t, randomCorpus(rand.New(rand.NewSource(11)), 2000))

	seq := newTestEngine(t, testOptions())
	baseline, err := seq.Run(context.Background(), Request{Input: path, Strategy: config.StrategySequential})
	if err != nil {
		t.Fatalf("sequential run: %v", err)
	}

	for _, workers := range []int{1, 3, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			handoffDir := t.TempDir()
			opts := testOptions()
			opts.Strategy = config.StrategyProcess
			opts.Workers = workers
			opts.HandoffDir = handoffDir
			e, err := New(opts, WithTransport(ExecTransport(nil)))
			if err != nil {
				t.Fatal(err)
			}
			res, err := e.Run(context.Background(), Request{Input: path})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !res.Global.Equal(baseline.Global) {
				t.Errorf("global table differs from sequential run")
			}
			if !reflect.DeepEqual(res.Top, baseline.Top) {
				t.Errorf("top = %v, want %v", res.Top, baseline.Top)
			}
			if res.Stats.Merges != workers {
				t.Errorf("merges = %d, want %d", res.Stats.Merges, workers)
			}
			left, err := os.ReadDir(handoffDir)
			if err != nil {
				t.Fatal(err)
			}
			if len(left) != 0 {
				t.Errorf("handoff directory not cleaned up: %v", left)
			}
		})
	}
}
