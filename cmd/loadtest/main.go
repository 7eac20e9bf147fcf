// Command loadtest drives POST /api/v1/count on a running termfreqd with a
// fixed number of concurrent clients and prints throughput and latency.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -paths a.txt,b.txt
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Paths       []string
	Strategies  []string
	Workers     int
	K           int
}

type countBody struct {
	Path     string `json:"path"`
	Strategy string `json:"strategy"`
	Workers  int    `json:"workers,omitempty"`
	K        int    `json:"k,omitempty"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of termfreqd")
	concurrency := flag.Int("concurrency", 8, "number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	paths := flag.String("paths", "corpus.txt", "comma separated input paths, relative to the service input root")
	strategies := flag.String("strategies", "sequential,threaded,process", "comma separated strategies to rotate through")
	workers := flag.Int("workers", 4, "workers per request")
	k := flag.Int("k", 10, "top terms per request")
	flag.Parse()

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		Paths:       splitList(*paths),
		Strategies:  splitList(*strategies),
		Workers:     *workers,
		K:           *k,
	}
	if cfg.Concurrency < 1 || len(cfg.Paths) == 0 || len(cfg.Strategies) == 0 {
		fmt.Fprintln(os.Stderr, "concurrency, paths and strategies must be non-empty")
		os.Exit(2)
	}

	fmt.Println("=== termfreq Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Paths:       %s\n", strings.Join(cfg.Paths, ", "))
	fmt.Printf("Strategies:  %s\n", strings.Join(cfg.Strategies, ", "))
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	stats := Run(ctx, cfg, newClient(cfg.Concurrency))
	stats.Print(os.Stdout, time.Since(start))

	if stats.Total() == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func newClient(concurrency int) *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Run issues count requests from cfg.Concurrency clients until cfg.Duration
// elapses or ctx is cancelled. Each client walks the path and strategy lists
// from its own offset.
func Run(ctx context.Context, cfg Config, client *http.Client) *Stats {
	stats := NewStats()
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				body := countBody{
					Path:     cfg.Paths[i%len(cfg.Paths)],
					Strategy: cfg.Strategies[i%len(cfg.Strategies)],
					Workers:  cfg.Workers,
					K:        cfg.K,
				}
				start := time.Now()
				status, cached, err := post(ctx, client, cfg.BaseURL+"/api/v1/count", body)
				if ctx.Err() != nil {
					return nil
				}
				stats.Record(body.Strategy, time.Since(start), status, cached, err)
			}
			return nil
		})
	}
	g.Wait()
	return stats
}

func post(ctx context.Context, client *http.Client, url string, body countBody) (int, bool, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	var rep struct {
		Cached bool `json:"cached"`
	}
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
			return resp.StatusCode, false, fmt.Errorf("decoding report: %w", err)
		}
	}
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, rep.Cached, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
