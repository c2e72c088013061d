package authz

import (
	"context"
	"testing"
	"time"
)

func sampleEffectiveSet(userID int64) *EffectiveSet {
	return &EffectiveSet{
		UserID: userID,
		Permissions: []ResolvedPermission{
			{
				Permission: Permission{Resource: ResourceReservation, Action: ActionRead, Scope: ScopeProperty},
				Granted:    true,
				Source:     SourceCustomRole,
				RoleName:   "Front Desk",
			},
		},
		ComputedAt: time.Now(),
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryDecisionCache(10, time.Minute)
	defer cache.Close()

	if _, ok := cache.Get(ctx, 1); ok {
		t.Error("Expected a miss on an empty cache")
	}

	cache.Put(ctx, 1, sampleEffectiveSet(1))

	got, ok := cache.Get(ctx, 1)
	if !ok {
		t.Fatal("Expected a hit after Put")
	}
	if got.UserID != 1 || len(got.Permissions) != 1 {
		t.Errorf("Cached set corrupted: %+v", got)
	}

	if _, ok := cache.Get(ctx, 2); ok {
		t.Error("Expected a miss for a different user")
	}

	stats := cache.Stats()
	if stats.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 2 {
		t.Errorf("Expected 2 misses, got %d", stats.Misses)
	}
	if stats.ItemCount != 1 {
		t.Errorf("Expected 1 item, got %d", stats.ItemCount)
	}
	if stats.HitRate <= 0.3 || stats.HitRate >= 0.4 {
		t.Errorf("Expected hit rate 1/3, got %f", stats.HitRate)
	}
}

func TestMemoryCacheNilPut(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryDecisionCache(10, time.Minute)
	defer cache.Close()

	cache.Put(ctx, 1, nil)
	if _, ok := cache.Get(ctx, 1); ok {
		t.Error("A nil set must not be cached")
	}
}

func TestMemoryCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryDecisionCache(10, time.Minute)
	defer cache.Close()

	cache.Put(ctx, 1, sampleEffectiveSet(1))
	cache.Put(ctx, 2, sampleEffectiveSet(2))

	if err := cache.Invalidate(ctx, 1); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	if _, ok := cache.Get(ctx, 1); ok {
		t.Error("Expected user 1 invalidated")
	}
	if _, ok := cache.Get(ctx, 2); !ok {
		t.Error("Invalidation of user 1 must not touch user 2")
	}

	if got := cache.Stats().Invalidations; got != 1 {
		t.Errorf("Expected 1 invalidation, got %d", got)
	}
}

func TestMemoryCacheInvalidateAll(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryDecisionCache(10, time.Minute)
	defer cache.Close()

	for i := int64(1); i <= 5; i++ {
		cache.Put(ctx, i, sampleEffectiveSet(i))
	}

	if err := cache.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll failed: %v", err)
	}

	for i := int64(1); i <= 5; i++ {
		if _, ok := cache.Get(ctx, i); ok {
			t.Errorf("Expected user %d gone after InvalidateAll", i)
		}
	}
	if got := cache.Stats().ItemCount; got != 0 {
		t.Errorf("Expected empty cache, got %d items", got)
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryDecisionCache(10, 50*time.Millisecond)
	defer cache.Close()

	cache.Put(ctx, 1, sampleEffectiveSet(1))
	if _, ok := cache.Get(ctx, 1); !ok {
		t.Fatal("Expected a hit before expiry")
	}

	time.Sleep(120 * time.Millisecond)

	if _, ok := cache.Get(ctx, 1); ok {
		t.Error("Expected the entry expired after the TTL")
	}
}

func TestMemoryCacheDefaults(t *testing.T) {
	// Non-positive size and TTL fall back to the package defaults
	// rather than producing a zero-capacity cache.
	cache := NewMemoryDecisionCache(0, 0)
	defer cache.Close()

	ctx := context.Background()
	cache.Put(ctx, 1, sampleEffectiveSet(1))
	if _, ok := cache.Get(ctx, 1); !ok {
		t.Error("Expected a working cache with default sizing")
	}
}

func TestNoopCache(t *testing.T) {
	ctx := context.Background()
	cache := NewNoopDecisionCache()

	cache.Put(ctx, 1, sampleEffectiveSet(1))
	if _, ok := cache.Get(ctx, 1); ok {
		t.Error("The noop cache must never hit")
	}

	if err := cache.Invalidate(ctx, 1); err != nil {
		t.Errorf("Invalidate failed: %v", err)
	}
	if err := cache.InvalidateAll(ctx); err != nil {
		t.Errorf("InvalidateAll failed: %v", err)
	}

	stats := cache.Stats()
	if stats.Hits != 0 {
		t.Errorf("Expected 0 hits, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
	if stats.Invalidations != 2 {
		t.Errorf("Expected 2 invalidations, got %d", stats.Invalidations)
	}
	if stats.ItemCount != 0 {
		t.Errorf("The noop cache holds nothing, got %d items", stats.ItemCount)
	}
}
