package authz

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheTTL bounds how stale a cached effective set may be.
// Mutation paths invalidate synchronously, so the TTL only covers
// out-of-band changes such as assignments expiring by time.
const DefaultCacheTTL = 5 * time.Minute

// DefaultCacheSize is the maximum number of user entries held by the
// in-memory backend.
const DefaultCacheSize = 10000

// DecisionCache stores computed effective permission sets keyed by
// user. Implementations must be safe for concurrent use. A cache is an
// optimization only: evaluation results must be identical whether the
// cache is warm, cold, or absent.
type DecisionCache interface {
	// Get returns the cached set for a user, or false on miss.
	Get(ctx context.Context, userID int64) (*EffectiveSet, bool)
	// Put stores the set for a user, replacing any existing entry.
	Put(ctx context.Context, userID int64, set *EffectiveSet)
	// Invalidate drops the entry for a single user.
	Invalidate(ctx context.Context, userID int64) error
	// InvalidateAll drops every entry.
	InvalidateAll(ctx context.Context) error
	// Stats reports hit/miss counters for monitoring.
	Stats() CacheStats
}

// CacheStats represents decision cache statistics
type CacheStats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Invalidations int64   `json:"invalidations"`
	HitRate       float64 `json:"hit_rate"`
	ItemCount     int64   `json:"item_count"`
}

// cacheCounters tracks cache activity without locking
type cacheCounters struct {
	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

func (c *cacheCounters) snapshot(items int64) CacheStats {
	stats := CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		ItemCount:     items,
	}
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// MemoryDecisionCache implements DecisionCache with an in-process
// expirable LRU. Suitable for single-instance deployments; entries
// expire after the configured TTL even if never invalidated.
type MemoryDecisionCache struct {
	cache    *lru.LRU[int64, *EffectiveSet]
	counters cacheCounters
}

// NewMemoryDecisionCache creates an in-memory decision cache. A
// non-positive size falls back to DefaultCacheSize, a non-positive ttl
// to DefaultCacheTTL.
func NewMemoryDecisionCache(size int, ttl time.Duration) *MemoryDecisionCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &MemoryDecisionCache{
		cache: lru.NewLRU[int64, *EffectiveSet](size, nil, ttl),
	}
}

// Get retrieves the cached effective set for a user
func (c *MemoryDecisionCache) Get(ctx context.Context, userID int64) (*EffectiveSet, bool) {
	set, ok := c.cache.Get(userID)
	if !ok {
		c.counters.misses.Add(1)
		return nil, false
	}

	c.counters.hits.Add(1)
	return set, true
}

// Put stores the effective set for a user
func (c *MemoryDecisionCache) Put(ctx context.Context, userID int64, set *EffectiveSet) {
	if set == nil {
		return
	}
	c.cache.Add(userID, set)
}

// Invalidate removes the cached set for a single user
func (c *MemoryDecisionCache) Invalidate(ctx context.Context, userID int64) error {
	c.cache.Remove(userID)
	c.counters.invalidations.Add(1)
	return nil
}

// InvalidateAll removes every cached set
func (c *MemoryDecisionCache) InvalidateAll(ctx context.Context) error {
	c.cache.Purge()
	c.counters.invalidations.Add(1)
	return nil
}

// Stats returns cache statistics
func (c *MemoryDecisionCache) Stats() CacheStats {
	return c.counters.snapshot(int64(c.cache.Len()))
}

// Close releases cache resources
func (c *MemoryDecisionCache) Close() error {
	c.cache.Purge()
	return nil
}

// NoopDecisionCache never stores anything. Every lookup misses, so
// evaluation always recomputes. Used when caching is disabled and in
// transparency tests.
type NoopDecisionCache struct {
	counters cacheCounters
}

// NewNoopDecisionCache creates a cache that stores nothing
func NewNoopDecisionCache() *NoopDecisionCache {
	return &NoopDecisionCache{}
}

// Get always reports a miss
func (c *NoopDecisionCache) Get(ctx context.Context, userID int64) (*EffectiveSet, bool) {
	c.counters.misses.Add(1)
	return nil, false
}

// Put discards the set
func (c *NoopDecisionCache) Put(ctx context.Context, userID int64, set *EffectiveSet) {}

// Invalidate is a no-op
func (c *NoopDecisionCache) Invalidate(ctx context.Context, userID int64) error {
	c.counters.invalidations.Add(1)
	return nil
}

// InvalidateAll is a no-op
func (c *NoopDecisionCache) InvalidateAll(ctx context.Context) error {
	c.counters.invalidations.Add(1)
	return nil
}

// Stats returns cache statistics
func (c *NoopDecisionCache) Stats() CacheStats {
	return c.counters.snapshot(0)
}
