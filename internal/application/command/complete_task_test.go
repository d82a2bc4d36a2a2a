package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
)

func TestCompleteTask_CreditsAssignee(t *testing.T) {
	f := newFixture(t, 0)
	f.addTask(t, "t1", 50)
	h := NewCompleteTaskHandler(f.store, f.ledger, nil)

	r, err := h.Handle(context.Background(), CompleteTaskCommand{TaskID: "t1", CorrelationID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", r.UserID)
	assert.Equal(t, 50, r.NewBalance)
	assert.Equal(t, 1, r.NewLevel)

	completed := f.pub.ofType(shared.EventTaskCompleted)
	require.Len(t, completed, 1)
	e := completed[0].(shared.TaskCompletedEvent)
	assert.Equal(t, "t1", e.TaskID)
	assert.Equal(t, "req-1", e.CorrelationID)
}

func TestCompleteTask_CreditsPerformer(t *testing.T) {
	f := newFixture(t, 0)
	f.addTask(t, "t1", 15)
	h := NewCompleteTaskHandler(f.store, f.ledger, nil)

	_, err := h.Handle(context.Background(), CompleteTaskCommand{TaskID: "t1", UserID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.balance(t, "u1"))
	assert.Equal(t, 15, f.balance(t, "u2"))

	task, err := f.store.FindTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "u2", task.Performer())
}

func TestCompleteTask_Errors(t *testing.T) {
	f := newFixture(t, 0)
	f.addTask(t, "t1", 10)
	require.NoError(t, f.store.SaveTask(context.Background(), &household.Task{
		ID: "orphan", HouseholdID: "h1", Title: "Trash", PointValue: 5,
		Priority: household.PriorityLow, Recurrence: household.RecurrenceWeekly, CreatedAt: now,
	}))
	h := NewCompleteTaskHandler(f.store, f.ledger, nil)
	ctx := context.Background()

	_, err := h.Handle(ctx, CompleteTaskCommand{})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = h.Handle(ctx, CompleteTaskCommand{TaskID: "missing"})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = h.Handle(ctx, CompleteTaskCommand{TaskID: "orphan"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = h.Handle(ctx, CompleteTaskCommand{TaskID: "t1"})
	require.NoError(t, err)
	_, err = h.Handle(ctx, CompleteTaskCommand{TaskID: "t1"})
	assert.ErrorIs(t, err, shared.ErrTaskAlreadyCompleted)
	assert.Equal(t, 10, f.balance(t, "u1"))
}
