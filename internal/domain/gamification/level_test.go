package gamification

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		points int
		want   int
	}{
		{-50, 1},
		{0, 1},
		{50, 1},
		{99, 1},
		{100, 2},
		{399, 2},
		{400, 3},
		{899, 3},
		{900, 4},
		{10000, 11},
		{1_000_000_000, 3163},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Level(tt.points), "points=%d", tt.points)
	}
}

func TestLevel_MatchesFloatFormula(t *testing.T) {
	for p := 0; p <= 200_000; p += 7 {
		want := int(math.Floor(math.Sqrt(float64(p)/100))) + 1
		if got := Level(p); got != want {
			t.Fatalf("Level(%d) = %d, want %d", p, got, want)
		}
	}
}

func TestLevel_Monotonic(t *testing.T) {
	prev := Level(0)
	for p := 1; p <= 50_000; p++ {
		cur := Level(p)
		if cur < prev {
			t.Fatalf("level decreased at %d: %d -> %d", p, prev, cur)
		}
		prev = cur
	}
}

func TestLevelProgress(t *testing.T) {
	p := LevelProgress(250)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, 100, p.LevelStart)
	assert.Equal(t, 400, p.NextLevelAt)
	assert.Equal(t, 150, p.PointsToNext)
	assert.InDelta(t, 0.5, p.ProgressPercent, 1e-9)

	zero := LevelProgress(-10)
	assert.Equal(t, 1, zero.Level)
	assert.Equal(t, 0, zero.Points)
	assert.Equal(t, 0.0, zero.ProgressPercent)
}
