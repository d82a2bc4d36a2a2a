package gamification

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreak_ConsecutiveDays(t *testing.T) {
	tracker := NewStreakTracker(time.UTC, 0)
	asOf := time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC)

	days := func(offsets ...int) []time.Time {
		out := make([]time.Time, 0, len(offsets))
		for _, o := range offsets {
			out = append(out, time.Date(2024, 5, 10+o, 9, 0, 0, 0, time.UTC))
		}
		return out
	}

	assert.Equal(t, 3, tracker.Streak(days(-2, -1, 0), asOf))
	assert.Equal(t, 1, tracker.Streak(days(-2, 0), asOf))
	assert.Equal(t, 0, tracker.Streak(days(-2, -1), asOf))
	assert.Equal(t, 0, tracker.Streak(nil, asOf))
}

func TestStreak_MultipleCompletionsSameDay(t *testing.T) {
	tracker := NewStreakTracker(time.UTC, 0)
	asOf := time.Date(2024, 5, 10, 23, 0, 0, 0, time.UTC)
	ts := []time.Time{
		time.Date(2024, 5, 10, 1, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 10, 22, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 9, 12, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, 2, tracker.Streak(ts, asOf))
}

func TestStreak_IgnoresFutureTimestamps(t *testing.T) {
	tracker := NewStreakTracker(time.UTC, 0)
	asOf := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	ts := []time.Time{
		time.Date(2024, 5, 10, 13, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 9, 12, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, 0, tracker.Streak(ts, asOf))
}

func TestStreak_UsesSingleLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 2024-05-09 16:00 UTC is 2024-05-10 01:00 in Tokyo.
	ts := []time.Time{
		time.Date(2024, 5, 9, 16, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 9, 1, 0, 0, 0, time.UTC),
	}
	asOf := time.Date(2024, 5, 10, 3, 0, 0, 0, tokyo)

	assert.Equal(t, 2, NewStreakTracker(tokyo, 0).Streak(ts, asOf))
	assert.Equal(t, 0, NewStreakTracker(time.UTC, 0).Streak(ts, asOf.Add(24*time.Hour)))
}

func TestStreak_AcrossDST(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	ts := []time.Time{
		time.Date(2024, 3, 30, 23, 30, 0, 0, berlin),
		time.Date(2024, 3, 31, 23, 30, 0, 0, berlin),
		time.Date(2024, 4, 1, 0, 15, 0, 0, berlin),
	}
	asOf := time.Date(2024, 4, 1, 8, 0, 0, 0, berlin)
	assert.Equal(t, 3, NewStreakTracker(berlin, 0).Streak(ts, asOf))
}

func TestStreak_Cap(t *testing.T) {
	asOf := time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC)
	var ts []time.Time
	for i := 0; i < 20; i++ {
		ts = append(ts, asOf.AddDate(0, 0, -i))
	}
	assert.Equal(t, 10, NewStreakTracker(time.UTC, 10).Streak(ts, asOf))
	assert.Equal(t, 20, NewStreakTracker(time.UTC, 0).Streak(ts, asOf))
}
