// Package cache stores search results in Redis keyed by generation id and
// normalized request, collapsing concurrent identical misses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/facet-search/pkg/redis"
)

const keyPrefix = "search:"

// Backend is the key/value store behind the cache. *pkgredis.Client
// satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one cacheable search. Query must already be normalized,
// typically the canonical string of the parsed tree.
type Key struct {
	Generation uint64
	Query      string
	Limit      int
	Dimensions []string
	TopN       int
}

// String returns the backend key. Dimension order does not matter.
func (k Key) String() string {
	dims := append([]string(nil), k.Dimensions...)
	sort.Strings(dims)
	raw := fmt.Sprintf("%s|limit=%d|facets=%s|top=%d", k.Query, k.Limit, strings.Join(dims, ","), k.TopN)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%d:%x", keyPrefix, k.Generation, hash[:16])
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache over backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, k Key) (*search.Result, bool) {
	key := k.String()
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result search.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "query", k.Query, "generation", k.Generation)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, k Key, result *search.Result) {
	key := k.String()
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for k or runs compute once for
// all concurrent callers with the same key. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	k Key,
	compute func() (*search.Result, error),
) (*search.Result, bool, error) {
	if result, ok := c.Get(ctx, k); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(k.String(), func() (interface{}, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, k, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*search.Result), false, nil
}

// Invalidate deletes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// OnCommit drops results of earlier generations once a new one is live.
// Entries keyed by the old id would never be read again, so this only
// frees backend memory ahead of the TTL.
func (c *QueryCache) OnCommit(ctx context.Context, stats index.Stats) {
	if err := c.Invalidate(ctx); err != nil {
		c.logger.Warn("cache invalidation after commit failed", "generation", stats.ID, "error", err)
	}
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
