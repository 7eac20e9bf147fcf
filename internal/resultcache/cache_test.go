package resultcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/report"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
	pkgredis "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/redis"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	fail bool
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

func (b *memBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return nil, errors.New("connection refused")
	}
	v, ok := b.data[key]
	if !ok {
		return nil, pkgredis.ErrNil
	}
	return v, nil
}

func (b *memBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("connection refused")
	}
	b.data[key] = value
	return nil
}

func (b *memBackend) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sampleReport() *report.Report {
	return &report.Report{
		RunID:    "r1",
		Strategy: "threaded",
		K:        1,
		Top:      []freq.Entry{{Term: "the", Count: 3}},
	}
}

func TestKeyDependsOnParamsAndContent(t *testing.T) {
	path := writeFile(t, "a b c")
	p := Params{Strategy: "threaded", Workers: 4, K: 10, MaxTermLen: 49}
	k1, err := NewKey(path, p)
	if err != nil {
		t.Fatal(err)
	}
	k2, _ := NewKey(path, p)
	if k1.String() != k2.String() {
		t.Error("same file and params must give the same key")
	}
	p.K = 5
	k3, _ := NewKey(path, p)
	if k1.String() == k3.String() {
		t.Error("different k must give a different key")
	}
	if err := os.WriteFile(path, []byte("a b c d"), 0o644); err != nil {
		t.Fatal(err)
	}
	k4, _ := NewKey(path, Params{Strategy: "threaded", Workers: 4, K: 10, MaxTermLen: 49})
	if k1.String() == k4.String() {
		t.Error("changed file must give a different key")
	}
	if !strings.HasPrefix(k1.String(), keyPrefix) {
		t.Errorf("key %q lacks prefix", k1.String())
	}
}

func TestNewKeyMissingFile(t *testing.T) {
	_, err := NewKey(filepath.Join(t.TempDir(), "nope"), Params{})
	if !errors.Is(err, apperrors.ErrStreamOpen) {
		t.Errorf("expected ErrStreamOpen, got %v", err)
	}
}

func TestGetOrCompute(t *testing.T) {
	ctx := context.Background()
	c := New(newMemBackend(), time.Minute, nil)
	key, err := NewKey(writeFile(t, "x"), Params{Strategy: "sequential"})
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	compute := func(context.Context) (*report.Report, error) {
		calls.Add(1)
		return sampleReport(), nil
	}

	r, hit, err := c.GetOrCompute(ctx, key, compute)
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	if r.RunID != "r1" {
		t.Errorf("unexpected report %+v", r)
	}
	r, hit, err = c.GetOrCompute(ctx, key, compute)
	if err != nil || !hit || !r.Cached {
		t.Fatalf("second call: hit=%v cached=%v err=%v", hit, r.Cached, err)
	}
	if calls.Load() != 1 {
		t.Errorf("compute called %d times, want 1", calls.Load())
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = %d hits, %d misses", hits, misses)
	}
}

func TestGetOrComputeCollapsesConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	c := New(newMemBackend(), time.Minute, nil)
	key, _ := NewKey(writeFile(t, "x"), Params{})

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (*report.Report, error) {
		calls.Add(1)
		<-release
		return sampleReport(), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.GetOrCompute(ctx, key, compute); err != nil {
				t.Errorf("GetOrCompute: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if calls.Load() != 1 {
		t.Errorf("compute called %d times, want 1", calls.Load())
	}
}

func TestGetOrComputeSurvivesFirstCallerCancel(t *testing.T) {
	c := New(newMemBackend(), time.Minute, nil)
	key, _ := NewKey(writeFile(t, "x"), Params{})

	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (*report.Report, error) {
		close(started)
		select {
		case <-release:
			return sampleReport(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(firstCtx, key, compute)
		firstErr <- err
	}()
	<-started

	type result struct {
		r   *report.Report
		err error
	}
	second := make(chan result, 1)
	go func() {
		r, _, err := c.GetOrCompute(context.Background(), key, compute)
		second <- result{r, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller err = %v, want context.Canceled", err)
	}
	close(release)
	got := <-second
	if got.err != nil || got.r == nil || got.r.RunID != "r1" {
		t.Fatalf("second caller: report %+v err %v", got.r, got.err)
	}
	if _, hit := c.Get(context.Background(), key); !hit {
		t.Error("shared result was not cached")
	}
}

func TestGetOrComputeTimeout(t *testing.T) {
	c := New(newMemBackend(), time.Minute, nil, WithComputeTimeout(10*time.Millisecond))
	key, _ := NewKey(writeFile(t, "x"), Params{})
	_, _, err := c.GetOrCompute(context.Background(), key, func(ctx context.Context) (*report.Report, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestBackendFailureIsAMiss(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	backend.fail = true
	c := New(backend, time.Minute, nil)
	key, _ := NewKey(writeFile(t, "x"), Params{})
	r, hit, err := c.GetOrCompute(ctx, key, func(context.Context) (*report.Report, error) { return sampleReport(), nil })
	if err != nil || hit || r == nil {
		t.Fatalf("hit=%v err=%v report=%v", hit, err, r)
	}
}

func TestComputeErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	c := New(backend, time.Minute, nil)
	key, _ := NewKey(writeFile(t, "x"), Params{})
	boom := errors.New("boom")
	if _, _, err := c.GetOrCompute(ctx, key, func(context.Context) (*report.Report, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if len(backend.data) != 0 {
		t.Error("failed computation must not be cached")
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	backend.data["other:key"] = []byte("keep")
	c := New(backend, time.Minute, nil)
	key, _ := NewKey(writeFile(t, "x"), Params{})
	c.Set(ctx, key, sampleReport())
	n, err := c.Invalidate(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Invalidate = %d, %v", n, err)
	}
	if _, ok := backend.data["other:key"]; !ok {
		t.Error("unrelated keys must survive")
	}
}
