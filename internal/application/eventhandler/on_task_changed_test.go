package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/internal/infrastructure/messaging"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, householdID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, householdID)
	return r.err
}

func TestOnTaskChanged_InvalidatesHousehold(t *testing.T) {
	inv := &recordingInvalidator{}
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	defer bus.Close()

	h := NewOnTaskChangedHandler(inv, nil, DefaultTaskChangedConfig())
	require.NoError(t, h.Register(bus))

	require.NoError(t, bus.Publish(shared.NewTaskCreatedEvent("t1", "h1")))
	require.NoError(t, bus.Publish(shared.NewTaskDeletedEvent("t2", "h2")))
	require.NoError(t, bus.Publish(shared.NewTaskCompletedEvent("t3", "h1", "u1", 10, time.Now())))
	require.NoError(t, bus.Publish(shared.NewPointsAwardedEvent("u1", "h3", 5, 0, 5, "bonus", "")))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", "h9", 1, 2, 100)))

	assert.Equal(t, []string{"h1", "h2", "h1", "h3"}, inv.calls)
}

func TestOnTaskChanged_ErrorIsReturned(t *testing.T) {
	inv := &recordingInvalidator{err: errors.New("redis down")}
	h := NewOnTaskChangedHandler(inv, nil, TaskChangedConfig{})

	assert.Error(t, h.Handle(shared.NewTaskCreatedEvent("t1", "h1")))
	assert.NoError(t, h.Handle(shared.NewTaskCreatedEvent("t1", "")))
	assert.Len(t, inv.calls, 1)
}
