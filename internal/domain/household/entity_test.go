package household

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomies/roomies-hub/internal/domain/shared"
)

func TestNewUser_Validation(t *testing.T) {
	_, err := NewUser(NewUserParams{ID: "", HouseholdID: "h1", DisplayName: "Ann"})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = NewUser(NewUserParams{ID: "u1", HouseholdID: "h 1", DisplayName: "Ann"})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = NewUser(NewUserParams{ID: "u1", HouseholdID: "h1", DisplayName: "   "})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	u, err := NewUser(NewUserParams{ID: "u1", HouseholdID: "h1", DisplayName: "  Ann "})
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.DisplayName)
	assert.Equal(t, shared.Points(0), u.Points)
}

func TestUser_RecordStreak(t *testing.T) {
	u := &User{}
	u.RecordStreak(3)
	u.RecordStreak(1)
	assert.Equal(t, 1, u.CurrentStreak)
	assert.Equal(t, 3, u.BestStreak)

	u.RecordStreak(-4)
	assert.Equal(t, 0, u.CurrentStreak)
}

func TestTask_CompleteOnce(t *testing.T) {
	task := &Task{ID: "t1", CreatedAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, task.Complete("u1", at))
	assert.True(t, task.IsCompleted)
	assert.Equal(t, "u1", task.Performer())

	err := task.Complete("u2", at.Add(time.Hour))
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	assert.Equal(t, "u1", task.CompletedBy)

	d, ok := task.CompletionDuration()
	assert.True(t, ok)
	assert.Equal(t, 2*time.Hour, d)
}

func TestTask_CompletionDurationRejectsNegative(t *testing.T) {
	created := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	completed := created.Add(-time.Hour)
	task := &Task{CreatedAt: created, CompletedAt: &completed, IsCompleted: true}

	_, ok := task.CompletionDuration()
	assert.False(t, ok)
}

func TestTask_OnTimeAndOverdue(t *testing.T) {
	due := time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC)
	late := due.Add(time.Minute)

	task := &Task{DueDate: &due, IsCompleted: true, CompletedAt: &late}
	onTime, applicable := task.CompletedOnTime()
	assert.True(t, applicable)
	assert.False(t, onTime)

	noDue := &Task{IsCompleted: true, CompletedAt: &late}
	_, applicable = noDue.CompletedOnTime()
	assert.False(t, applicable)

	open := &Task{DueDate: &due}
	assert.True(t, open.IsOverdue(due.Add(time.Second)))
	assert.False(t, open.IsOverdue(due))
}

func TestParseEnums(t *testing.T) {
	assert.Equal(t, PriorityUrgent, ParsePriority(" URGENT "))
	assert.Equal(t, PriorityMedium, ParsePriority("whatever"))
	assert.Equal(t, RecurrenceWeekly, ParseRecurrence("weekly"))
	assert.Equal(t, RecurrenceNone, ParseRecurrence(""))
}

func TestHousehold_Location(t *testing.T) {
	var nilHousehold *Household
	assert.Equal(t, time.UTC, nilHousehold.Location())

	h := &Household{Timezone: "Not/AZone"}
	assert.Equal(t, time.UTC, h.Location())

	h = &Household{Timezone: "Europe/Berlin"}
	assert.Equal(t, "Europe/Berlin", h.Location().String())
}
