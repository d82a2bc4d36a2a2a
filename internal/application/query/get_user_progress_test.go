package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/internal/infrastructure/persistence/memory"
)

func TestGetUserProgress(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.SaveUser(ctx, &household.User{
		ID: "u1", HouseholdID: "h1", DisplayName: "Ann",
		Points: 620, CurrentStreak: 2, BestStreak: 5,
	}))
	for i, key := range []string{"badge:points_100", "legendary:250", "badge:first_task", "legendary:500"} {
		require.NoError(t, store.SaveMilestoneRecord(ctx, gamification.MilestoneRecord{
			UserID: "u1", Key: key, AwardedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	h := NewGetUserProgressHandler(store, store, nil)
	dto, err := h.Handle(ctx, GetUserProgressQuery{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 620, dto.Points)
	assert.Equal(t, 3, dto.Level.Level)
	assert.Equal(t, 400, dto.Level.LevelStart)
	assert.Equal(t, 900, dto.Level.NextLevelAt)
	assert.Equal(t, 2, dto.CurrentStreak)
	assert.Equal(t, 5, dto.BestStreak)

	require.Len(t, dto.Badges, 2)
	assert.Equal(t, "points_100", dto.Badges[0].ID)
	assert.Equal(t, "first_task", dto.Badges[1].ID)

	require.Len(t, dto.Milestones, 2)
	assert.Equal(t, 250, dto.Milestones[0].Threshold)
	assert.Equal(t, 500, dto.Milestones[1].Threshold)

	require.NotNil(t, dto.NextMilestone)
	assert.Equal(t, 1000, dto.NextMilestone.Threshold)
}

func TestGetUserProgress_Errors(t *testing.T) {
	h := NewGetUserProgressHandler(memory.NewStore(), memory.NewStore(), nil)

	_, err := h.Handle(context.Background(), GetUserProgressQuery{})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = h.Handle(context.Background(), GetUserProgressQuery{UserID: "ghost"})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
