package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/pkg/metrics"
)

func syncBus(t *testing.T, m *metrics.Manager) *InMemoryEventBus {
	t.Helper()
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false, Metrics: m})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestEventBus_RoutesByType(t *testing.T) {
	bus := syncBus(t, nil)

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", "h1", 1, 2, 100)))
	require.NoError(t, bus.Publish(shared.NewPointsAwardedEvent("u1", "h1", 10, 0, 10, "bonus", "")))

	assert.Equal(t, []shared.EventType{shared.EventLevelUp}, typed)
	assert.Equal(t, []shared.EventType{shared.EventLevelUp, shared.EventPointsAwarded}, all)
}

func TestEventBus_HandlerErrorsAndPanicsAreContained(t *testing.T) {
	m := metrics.NewManager()
	bus := syncBus(t, m)

	var reached bool
	require.NoError(t, bus.Subscribe(shared.EventBadgeEarned, func(shared.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe(shared.EventBadgeEarned, func(shared.Event) error {
		panic("bad handler")
	}))
	require.NoError(t, bus.Subscribe(shared.EventBadgeEarned, func(shared.Event) error {
		reached = true
		return nil
	}))

	assert.NoError(t, bus.Publish(shared.NewBadgeEarnedEvent("u1", "h1", "first_task", "First Task", "star")))
	assert.True(t, reached)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var failures float64
	for _, f := range families {
		if f.GetName() == "roomies_engine_event_handler_failures_total" {
			for _, metric := range f.GetMetric() {
				failures += metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, failures)
}

func TestEventBus_AsyncBoundedPool(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var running, peak, done int32
	var mu sync.Mutex
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		n := atomic.AddInt32(&running, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		atomic.AddInt32(&done, 1)
		return nil
	}))

	for i := 0; i < 8; i++ {
		require.NoError(t, bus.Publish(shared.NewTaskCreatedEvent("t", "h1")))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(8), atomic.LoadInt32(&done))
	assert.LessOrEqual(t, peak, int32(2))
}

func TestEventBus_Closed(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewTaskCreatedEvent("t", "h1")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventTaskCreated, func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

func TestFilterMiddleware(t *testing.T) {
	bus := syncBus(t, nil)
	bus.Use(FilterMiddleware(func(e shared.Event) bool {
		he, ok := e.(shared.HouseholdEvent)
		return ok && he.Household() == "h1"
	}))

	var seen []string
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		seen = append(seen, e.(shared.HouseholdEvent).Household())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewTaskDeletedEvent("t1", "h1")))
	require.NoError(t, bus.Publish(shared.NewTaskDeletedEvent("t2", "h2")))
	assert.Equal(t, []string{"h1"}, seen)
}
