package query

import (
	"context"
	"errors"
	"maps"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomies/roomies-hub/internal/domain/analytics"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/internal/infrastructure/persistence/memory"
	"github.com/roomies/roomies-hub/pkg/timeutil"
)

var now = time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC)

// fakeCache - SnapshotCache в памяти с переключаемым сбоем.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]analytics.Snapshot
	down    atomic.Bool
	gets    atomic.Int32

	// beforeSet вызывается перед каждой записью.
	beforeSet func()
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]analytics.Snapshot)}
}

var errCacheDown = errors.New("redis: connection refused")

func (c *fakeCache) Get(_ context.Context, householdID, key string) (analytics.Snapshot, bool, error) {
	c.gets.Add(1)
	if c.down.Load() {
		return analytics.Snapshot{}, false, errCacheDown
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.entries[householdID+"|"+key]
	return snap, ok, nil
}

func (c *fakeCache) Set(_ context.Context, snap analytics.Snapshot, _ time.Duration) error {
	if c.down.Load() {
		return errCacheDown
	}
	if c.beforeSet != nil {
		c.beforeSet()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[snap.HouseholdID+"|"+snap.Window.Key] = snap
	return nil
}

func (c *fakeCache) InvalidateHousehold(_ context.Context, householdID string) error {
	if c.down.Load() {
		return errCacheDown
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.entries {
		if v.HouseholdID == householdID {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *fakeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.SaveHousehold(ctx, &household.Household{ID: "h1", Name: "Flat", Timezone: "Europe/Berlin"}))
	require.NoError(t, s.SaveHousehold(ctx, &household.Household{ID: "empty", Name: "New", Timezone: "UTC"}))
	require.NoError(t, s.SaveUser(ctx, &household.User{ID: "u1", HouseholdID: "h1", DisplayName: "Ann"}))
	done := now.Add(-2 * time.Hour)
	require.NoError(t, s.SaveTask(ctx, &household.Task{
		ID: "t1", HouseholdID: "h1", AssignedUserID: "u1", Title: "Wash dishes",
		PointValue: 10, Priority: household.PriorityMedium, Recurrence: household.RecurrenceDaily,
		CreatedAt: now.Add(-26 * time.Hour), CompletedAt: &done, CompletedBy: "u1", IsCompleted: true,
	}))
	require.NoError(t, s.SaveTask(ctx, &household.Task{
		ID: "t2", HouseholdID: "h1", AssignedUserID: "u1", Title: "Vacuum",
		PointValue: 20, Priority: household.PriorityHigh, Recurrence: household.RecurrenceWeekly,
		CreatedAt: now.Add(-3 * time.Hour),
	}))
	return s
}

func newService(store *memory.Store, mutate ...func(*AnalyticsServiceConfig)) *AnalyticsService {
	cfg := DefaultAnalyticsServiceConfig()
	cfg.Clock = timeutil.FixedClock{T: now}
	for _, fn := range mutate {
		fn(&cfg)
	}
	return NewAnalyticsService(store, cfg)
}

func TestAnalytics_ComputesSnapshot(t *testing.T) {
	svc := newService(seedStore(t))

	snap, err := svc.Get(context.Background(), "h1", 7)
	require.NoError(t, err)

	assert.False(t, snap.Degraded)
	assert.Equal(t, "h1", snap.HouseholdID)
	assert.Equal(t, 7, snap.Window.Days)
	assert.Equal(t, "Europe/Berlin", snap.Window.Timezone)
	assert.Equal(t, 2, snap.CompletionRates.Total)
	assert.Equal(t, 0.5, snap.CompletionRates.Overall)
	assert.Len(t, snap.ProductivityTrend, 7)
	require.Len(t, snap.UserPerformance, 1)
	assert.Equal(t, 10, snap.UserPerformance[0].PointsEarned)
}

func TestAnalytics_EmptyHouseholdRatesAreFinite(t *testing.T) {
	svc := newService(seedStore(t))

	snap, err := svc.Get(context.Background(), "empty", 30)
	require.NoError(t, err)

	rates := []float64{
		snap.CompletionRates.Overall,
		snap.CompletionRates.OnTime,
		snap.CompletionRates.Overdue,
		snap.CompletionRates.AverageCompletionSeconds,
		snap.TaskDistribution.AveragePointValue,
	}
	for _, r := range rates {
		assert.False(t, math.IsNaN(r) || math.IsInf(r, 0))
	}
	assert.Equal(t, 0.0, snap.CompletionRates.Overall)
}

func TestAnalytics_Validation(t *testing.T) {
	svc := newService(seedStore(t))
	ctx := context.Background()

	_, err := svc.Get(ctx, "", 7)
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = svc.Get(ctx, "h1", -1)
	assert.ErrorIs(t, err, shared.ErrInvalidWindow)

	_, err = svc.Get(ctx, "h1", analytics.MaxWindowDays+1)
	assert.ErrorIs(t, err, shared.ErrInvalidWindow)

	_, err = svc.Get(ctx, "missing", 7)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	snap, err := svc.Get(ctx, "h1", 0)
	require.NoError(t, err)
	assert.Equal(t, analytics.DefaultWindowDays, snap.Window.Days)
}

func TestAnalytics_CachesAndInvalidates(t *testing.T) {
	store := seedStore(t)
	cache := newFakeCache()
	svc := newService(store, func(c *AnalyticsServiceConfig) { c.Cache = cache })
	ctx := context.Background()

	_, err := svc.Get(ctx, "h1", 7)
	require.NoError(t, err)
	_, err = svc.Get(ctx, "h1", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls(memory.OpFindTasks))
	assert.Equal(t, 1, cache.len())

	require.NoError(t, svc.Invalidate(ctx, "h1"))
	assert.Equal(t, 0, cache.len())

	_, err = svc.Get(ctx, "h1", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Calls(memory.OpFindTasks))
}

func TestAnalytics_StoreFailureDegrades(t *testing.T) {
	store := seedStore(t)
	store.InjectFault(memory.OpFindTasks, shared.ErrStoreUnavailable, 1)
	svc := newService(store)
	ctx := context.Background()

	snap, err := svc.Get(ctx, "h1", 7)
	require.NoError(t, err)
	assert.True(t, snap.Degraded)
	assert.Equal(t, 0, snap.CompletionRates.Total)
	assert.Empty(t, snap.UserPerformance)

	snap, err = svc.Get(ctx, "h1", 7)
	require.NoError(t, err)
	assert.False(t, snap.Degraded, "degraded snapshots are not cached")
	assert.Equal(t, 2, snap.CompletionRates.Total)
}

func TestAnalytics_HouseholdLookupFailureDegrades(t *testing.T) {
	store := seedStore(t)
	store.InjectFault(memory.OpFindHousehold, shared.ErrStoreUnavailable, 1)
	svc := newService(store)

	snap, err := svc.Get(context.Background(), "h1", 7)
	require.NoError(t, err)
	assert.True(t, snap.Degraded)
	assert.Equal(t, "UTC", snap.Window.Timezone)
}

func TestAnalytics_InvalidationDuringCacheWrite(t *testing.T) {
	store := seedStore(t)
	cache := newFakeCache()
	var svc *AnalyticsService
	var once sync.Once
	cache.beforeSet = func() {
		once.Do(func() {
			assert.NoError(t, svc.Invalidate(context.Background(), "h1"))
		})
	}
	svc = newService(store, func(c *AnalyticsServiceConfig) { c.Cache = cache })
	ctx := context.Background()

	_, err := svc.Get(ctx, "h1", 7)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.len(), "snapshot written across an invalidation must not stay cached")

	_, err = svc.Get(ctx, "h1", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Calls(memory.OpFindTasks))
	assert.Equal(t, 1, cache.len())
}

func TestAnalytics_CachedSnapshotsAreIndependentCopies(t *testing.T) {
	store := seedStore(t)
	svc := newService(store)
	ctx := context.Background()

	first, err := svc.Get(ctx, "h1", 7)
	require.NoError(t, err)
	require.Len(t, first.UserPerformance, 1)
	categories := maps.Clone(first.TaskDistribution.ByCategory)

	first.TaskDistribution.ByCategory["Kitchen"] = 999
	first.UserPerformance[0].PointsEarned = -1
	first.ProductivityTrend[0].TasksCompleted = 42

	second, err := svc.Get(ctx, "h1", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls(memory.OpFindTasks))
	assert.Equal(t, categories, second.TaskDistribution.ByCategory)
	assert.Equal(t, 10, second.UserPerformance[0].PointsEarned)
	assert.NotEqual(t, 42, second.ProductivityTrend[0].TasksCompleted)
}

func TestAnalytics_CacheOutageFallsBackToLocal(t *testing.T) {
	store := seedStore(t)
	cache := newFakeCache()
	cache.down.Store(true)
	svc := newService(store, func(c *AnalyticsServiceConfig) { c.Cache = cache })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		snap, err := svc.Get(ctx, "h1", 7)
		require.NoError(t, err)
		assert.False(t, snap.Degraded)
	}
	assert.Equal(t, 1, store.Calls(memory.OpFindTasks))
	assert.Less(t, cache.gets.Load(), int32(5), "breaker stops calling a failing cache")
}

func TestAnalytics_ConcurrentRequestsComputeOnce(t *testing.T) {
	store := seedStore(t)
	release := make(chan struct{})
	store.SetHook(memory.OpFindTasks, func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	svc := newService(store)

	var wg sync.WaitGroup
	results := make([]analytics.Snapshot, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := svc.Get(context.Background(), "h1", 7)
			assert.NoError(t, err)
			results[i] = snap
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, store.Calls(memory.OpFindTasks))
	for _, snap := range results {
		assert.False(t, snap.Degraded)
		assert.Equal(t, 2, snap.CompletionRates.Total)
	}
}

func TestAnalytics_NewerWindowSupersedesStaleComputation(t *testing.T) {
	store := seedStore(t)
	var calls atomic.Int32
	entered := make(chan struct{})
	store.SetHook(memory.OpFindTasks, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	svc := newService(store)

	stale := make(chan analytics.Snapshot, 1)
	go func() {
		snap, _ := svc.Get(context.Background(), "h1", 7)
		stale <- snap
	}()
	<-entered

	fresh, err := svc.Get(context.Background(), "h1", 30)
	require.NoError(t, err)
	assert.False(t, fresh.Degraded)

	select {
	case snap := <-stale:
		assert.True(t, snap.Degraded)
		assert.Equal(t, 7, snap.Window.Days)
	case <-time.After(time.Second):
		t.Fatal("stale computation was not abandoned")
	}
}

func TestAnalytics_CallerCancellationDoesNotBlock(t *testing.T) {
	store := seedStore(t)
	store.SetHook(memory.OpFindTasks, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	svc := newService(store, func(c *AnalyticsServiceConfig) { c.ComputeTimeout = 200 * time.Millisecond })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	snap, err := svc.Get(ctx, "h1", 7)
	require.NoError(t, err)
	assert.True(t, snap.Degraded)
}

func TestAnalytics_Refresh(t *testing.T) {
	store := seedStore(t)
	cache := newFakeCache()
	svc := newService(store, func(c *AnalyticsServiceConfig) { c.Cache = cache })
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx, "h1", 7))
	assert.Equal(t, 1, cache.len())

	_, err := svc.Get(ctx, "h1", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls(memory.OpFindTasks))

	store.InjectFault(memory.OpFindTasks, shared.ErrStoreUnavailable, 1)
	assert.ErrorIs(t, svc.Refresh(ctx, "h1", 30), shared.ErrStoreUnavailable)
}

func TestAnalytics_PredictionsFeatureFlag(t *testing.T) {
	off := gateFunc(func(feature, _, _ string) bool { return feature != FeaturePredictions })
	svc := newService(seedStore(t), func(c *AnalyticsServiceConfig) { c.Features = off })

	snap, err := svc.Get(context.Background(), "h1", 7)
	require.NoError(t, err)
	assert.False(t, snap.Predictions.Enabled)

	svc = newService(seedStore(t))
	snap, err = svc.Get(context.Background(), "h1", 7)
	require.NoError(t, err)
	assert.True(t, snap.Predictions.Enabled)
	assert.NotEmpty(t, snap.Predictions.Recommendations)
}

type gateFunc func(feature, userID, householdID string) bool

func (f gateFunc) Enabled(feature, userID, householdID string) bool {
	return f(feature, userID, householdID)
}
