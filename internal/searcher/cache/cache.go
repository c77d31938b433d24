package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/redis"
	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
)

const defaultPrefix = "catalog:search:"

// Backend is the key-value store behind the cache. *redis.Client
// satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Options configures a QueryCache.
type Options struct {
	TTL    time.Duration
	Prefix string
	// IsMiss reports whether a Get error means "absent". Defaults to
	// redis.Nil detection.
	IsMiss  func(error) bool
	Metrics *metrics.Metrics
}

// QueryCache caches computed values of type T. Keys must already encode
// everything the value depends on, including data versions, so entries
// never need invalidating for correctness. Backend failures are logged and
// treated as misses.
type QueryCache[T any] struct {
	backend Backend
	opts    Options
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New[T any](backend Backend, opts Options) *QueryCache[T] {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.IsMiss == nil {
		opts.IsMiss = pkgredis.IsNilError
	}
	return &QueryCache[T]{
		backend: backend,
		opts:    opts,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	full := c.opts.Prefix + key
	data, err := c.backend.Get(ctx, full)
	if err != nil {
		if !c.opts.IsMiss(err) {
			c.logger.Error("cache get failed", "key", full, "error", err)
		}
		c.miss()
		return zero, false
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		c.logger.Error("cache unmarshal failed", "key", full, "error", err)
		c.miss()
		return zero, false
	}
	c.hits.Add(1)
	if c.opts.Metrics != nil {
		c.opts.Metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", full)
	return value, true
}

func (c *QueryCache[T]) Set(ctx context.Context, key string, value T) {
	full := c.opts.Prefix + key
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", full, "error", err)
		return
	}
	if err := c.backend.Set(ctx, full, data, c.opts.TTL); err != nil {
		c.logger.Error("cache set failed", "key", full, "error", err)
	}
}

// GetOrCompute returns the cached value for key or computes and stores it.
// Concurrent misses on the same key share one computation. The bool result
// reports a cache hit.
func (c *QueryCache[T]) GetOrCompute(ctx context.Context, key string, compute func() (T, error)) (T, bool, error) {
	if value, ok := c.Get(ctx, key); ok {
		return value, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		value, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, value)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return val.(T), false, nil
}

// Invalidate drops every entry under the cache's prefix.
func (c *QueryCache[T]) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.FlushByPattern(ctx, c.opts.Prefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache[T]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache[T]) miss() {
	c.misses.Add(1)
	if c.opts.Metrics != nil {
		c.opts.Metrics.CacheMissesTotal.Inc()
	}
}

// Key hashes parts into a fixed-length cache key. Parts are joined with
// '|' after formatting with %v, so callers must pass them in a canonical
// order.
func Key(parts ...any) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	hash := sha256.Sum256([]byte(strings.Join(s, "|")))
	return fmt.Sprintf("%x", hash[:16])
}
