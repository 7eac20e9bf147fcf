// Package resultcache caches run reports in Redis, keyed by the input file's
// identity and the run parameters. Concurrent requests for the same key are
// collapsed so a corpus is counted once.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/report"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/redis"
)

const keyPrefix = "termfreq:report:"

// Backend is the key-value store behind the cache. *redis.Client satisfies
// it; Get must return an error matching redis.IsNilError for missing keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies a cacheable run. A change to the file's size or
// modification time yields a different key.
type Key struct {
	Path       string
	Size       int64
	ModTime    time.Time
	Strategy   string
	Workers    int
	K          int
	MaxTermLen int
	Capacity   int
	Policy     string
}

// Params are the run parameters that take part in the key.
type Params struct {
	Strategy   string
	Workers    int
	K          int
	MaxTermLen int
	Capacity   int
	Policy     string
}

// NewKey stats path and combines its identity with params.
func NewKey(path string, p Params) (Key, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", apperrors.ErrStreamOpen, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", apperrors.ErrStreamOpen, err)
	}
	return Key{
		Path:       abs,
		Size:       info.Size(),
		ModTime:    info.ModTime().UTC(),
		Strategy:   p.Strategy,
		Workers:    p.Workers,
		K:          p.K,
		MaxTermLen: p.MaxTermLen,
		Capacity:   p.Capacity,
		Policy:     p.Policy,
	}, nil
}

// String returns the Redis key.
func (k Key) String() string {
	raw := fmt.Sprintf("%s|%d|%d|%s|w=%d|k=%d|len=%d|cap=%d|%s",
		k.Path, k.Size, k.ModTime.UnixNano(), k.Strategy,
		k.Workers, k.K, k.MaxTermLen, k.Capacity, k.Policy)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// Cache stores reports with a fixed TTL.
type Cache struct {
	backend Backend
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64

	computeTimeout time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithComputeTimeout bounds a shared computation started by GetOrCompute.
// Zero leaves it unbounded.
func WithComputeTimeout(d time.Duration) Option {
	return func(c *Cache) { c.computeTimeout = d }
}

// New creates a Cache over backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "result-cache"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached report for key. Backend errors are logged and
// treated as misses.
func (c *Cache) Get(ctx context.Context, key Key) (*report.Report, bool) {
	k := key.String()
	data, err := c.backend.Get(ctx, k)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", k, "error", err)
		}
		c.miss()
		return nil, false
	}
	var r report.Report
	if err := json.Unmarshal(data, &r); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	c.logger.Debug("cache hit", "input", key.Path, "key", k)
	return &r, true
}

// Set stores r under key. Failures are logged, never returned.
func (c *Cache) Set(ctx context.Context, key Key, r *report.Report) {
	k := key.String()
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	if err := c.backend.Set(ctx, k, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached report for key, or runs compute once for
// all concurrent callers of the same key and caches its result. The boolean
// reports a cache hit.
//
// compute runs detached from any single caller: it keeps the values of the
// first caller's ctx but not its cancellation, so one caller going away
// does not fail the others. Each caller stops waiting when its own ctx is
// done.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute func(ctx context.Context) (*report.Report, error)) (*report.Report, bool, error) {
	if r, ok := c.Get(ctx, key); ok {
		r.Cached = true
		return r, true, nil
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		cctx := shared
		if c.computeTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(shared, c.computeTimeout)
			defer cancel()
		}
		r, err := compute(cctx)
		if err != nil {
			return nil, err
		}
		c.Set(cctx, key, r)
		return r, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*report.Report), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Invalidate removes every cached report.
func (c *Cache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// Stats returns the hit and miss counts since creation.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *Cache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
