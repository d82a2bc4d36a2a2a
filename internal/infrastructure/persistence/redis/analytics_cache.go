package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roomies/roomies-hub/internal/domain/analytics"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANALYTICS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// AnalyticsCache stores analytics snapshots as JSON under
// analytics:{household}:{window}. Every stored key is also added to the
// household index set, so all windows of a household can be dropped at once.
type AnalyticsCache struct {
	cache *Cache
}

// NewAnalyticsCache creates an analytics cache on top of Cache.
func NewAnalyticsCache(cache *Cache) *AnalyticsCache {
	return &AnalyticsCache{cache: cache}
}

func snapshotKey(householdID, windowKey string) string {
	return PrefixAnalytics + householdID + ":" + windowKey
}

func indexKey(householdID string) string {
	return PrefixAnalyticsIndex + householdID
}

// Get returns the cached snapshot. ok is false on a miss.
func (a *AnalyticsCache) Get(ctx context.Context, householdID, windowKey string) (analytics.Snapshot, bool, error) {
	var snap analytics.Snapshot
	err := a.cache.Get(ctx, snapshotKey(householdID, windowKey), &snap)
	switch {
	case err == nil:
		return snap, true, nil
	case errors.Is(err, ErrCacheMiss):
		return analytics.Snapshot{}, false, nil
	case errors.Is(err, ErrCacheSerialization):
		// A corrupt entry is treated as a miss and removed.
		_ = a.cache.Delete(ctx, snapshotKey(householdID, windowKey))
		return analytics.Snapshot{}, false, nil
	default:
		return analytics.Snapshot{}, false, err
	}
}

// Set stores the snapshot under its window key and indexes it.
func (a *AnalyticsCache) Set(ctx context.Context, snap analytics.Snapshot, ttl time.Duration) error {
	if snap.HouseholdID == "" || snap.Window.Key == "" {
		return ErrCacheKeyEmpty
	}
	if ttl <= 0 {
		return ErrCacheInvalidTTL
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	key := snapshotKey(snap.HouseholdID, snap.Window.Key)
	idx := indexKey(snap.HouseholdID)
	_, err = a.cache.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		pipe.SAdd(ctx, idx, key)
		pipe.Expire(ctx, idx, ttl)
		return nil
	})
	return err
}

// InvalidateHousehold drops every cached window of the household.
func (a *AnalyticsCache) InvalidateHousehold(ctx context.Context, householdID string) error {
	idx := indexKey(householdID)

	keys, err := a.cache.Client().SMembers(ctx, idx).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return a.cache.Delete(ctx, append(keys, idx)...)
}

// Ping checks if Redis is reachable.
func (a *AnalyticsCache) Ping(ctx context.Context) error {
	return a.cache.Ping(ctx)
}
