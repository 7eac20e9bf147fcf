package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeInput(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunPrintsTextReport(t *testing.T) {
	path := writeInput(t, "the cat sat on the mat the cat ran")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-strategy", "threaded", "-workers", "2", "-k", "2", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "Top 2 terms:\nthe: 3\ncat: 2\n") {
		t.Errorf("unexpected report:\n%s", out)
	}
	if !strings.Contains(out, "Execution time (threaded):") {
		t.Errorf("missing execution time line:\n%s", out)
	}
}

func TestRunJSONReport(t *testing.T) {
	path := writeInput(t, "b a b")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-input", path, "-strategy", "sequential", "-format", "json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr.String())
	}
	var got struct {
		Strategy string `json:"strategy"`
		Top      []struct {
			Term  string `json:"term"`
			Count int    `json:"count"`
		} `json:"top"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decoding report: %v\n%s", err, stdout.String())
	}
	if got.Strategy != "sequential" || len(got.Top) != 2 || got.Top[0].Count != 2 {
		t.Errorf("unexpected report %+v", got)
	}
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no input", nil, 2},
		{"unknown flag", []string{"-nope"}, 2},
		{"missing file", []string{filepath.Join(t.TempDir(), "missing.txt")}, 1},
		{"bad strategy", []string{"-strategy", "forked", writeInput(t, "x")}, 1},
		{"bad format", []string{"-format", "xml", writeInput(t, "x")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if got := run(context.Background(), tt.args, &stdout, &stderr); got != tt.want {
				t.Errorf("exit code = %d, want %d (stderr: %s)", got, tt.want, stderr.String())
			}
		})
	}
}
