package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// decisionKeyPrefix namespaces porter entries so InvalidateAll never
// touches other tenants of a shared Redis.
const decisionKeyPrefix = "porter:decisions:"

// RedisDecisionCache implements DecisionCache on Redis so that
// invalidations are visible to every porter instance sharing the
// cluster. Sets are stored as JSON under porter:decisions:<userID>
// with a TTL applied by Redis itself.
type RedisDecisionCache struct {
	client   *redis.Client
	ttl      time.Duration
	counters cacheCounters
}

// NewRedisDecisionCache creates a Redis-backed decision cache. The
// client is typically obtained from postgres.RedisClient.GetClient().
func NewRedisDecisionCache(client *redis.Client, ttl time.Duration) *RedisDecisionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisDecisionCache{
		client: client,
		ttl:    ttl,
	}
}

func decisionKey(userID int64) string {
	return fmt.Sprintf("%s%d", decisionKeyPrefix, userID)
}

// Get retrieves the cached effective set for a user. Redis errors and
// corrupt payloads are treated as misses so evaluation falls through
// to the store.
func (c *RedisDecisionCache) Get(ctx context.Context, userID int64) (*EffectiveSet, bool) {
	key := decisionKey(userID)

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.counters.misses.Add(1)
		return nil, false
	} else if err != nil {
		c.counters.misses.Add(1)
		return nil, false
	}

	var set EffectiveSet
	if err := json.Unmarshal([]byte(data), &set); err != nil {
		// Delete corrupt data so the next write starts clean
		c.client.Del(ctx, key)
		c.counters.misses.Add(1)
		return nil, false
	}

	c.counters.hits.Add(1)
	return &set, true
}

// Put stores the effective set for a user. Marshal or write failures
// are swallowed; the cache is an optimization, not a source of truth.
func (c *RedisDecisionCache) Put(ctx context.Context, userID int64, set *EffectiveSet) {
	if set == nil {
		return
	}

	data, err := json.Marshal(set)
	if err != nil {
		return
	}

	c.client.Set(ctx, decisionKey(userID), data, c.ttl)
}

// Invalidate removes the cached set for a single user
func (c *RedisDecisionCache) Invalidate(ctx context.Context, userID int64) error {
	c.counters.invalidations.Add(1)
	if err := c.client.Del(ctx, decisionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate decision cache for user %d: %w", userID, err)
	}
	return nil
}

// InvalidateAll removes every porter decision entry. Uses SCAN rather
// than KEYS to stay cursor-based on large keyspaces.
func (c *RedisDecisionCache) InvalidateAll(ctx context.Context) error {
	c.counters.invalidations.Add(1)

	iter := c.client.Scan(ctx, 0, decisionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("decision cache scan failed: %w", err)
	}
	return nil
}

// Stats returns cache statistics. ItemCount is not tracked for the
// Redis backend.
func (c *RedisDecisionCache) Stats() CacheStats {
	return c.counters.snapshot(0)
}

// Ping checks Redis connectivity
func (c *RedisDecisionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying Redis connection
func (c *RedisDecisionCache) Close() error {
	return c.client.Close()
}
