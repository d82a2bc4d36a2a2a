package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize_DefaultTable(t *testing.T) {
	c := NewCategorizer(nil)

	tests := []struct {
		title string
		want  string
	}{
		{"Wash the dishes", "Kitchen"},
		{"Geschirr abwaschen", "Kitchen"},
		{"Clean the bathroom", "Bathroom"},
		{"VACUUM living room", "Cleaning"},
		{"Müll rausbringen", "Trash"},
		{"Buy groceries", "Shopping"},
		{"Water the plants", "Outdoor"},
		{"", CategoryOther},
		{"Pay rent", CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Categorize(tt.title), tt.title)
	}
}

func TestCategorize_FirstRuleWins(t *testing.T) {
	c := NewCategorizer([]CategoryRule{
		{Category: "First", Keywords: []string{"  Floor "}},
		{Category: "Second", Keywords: []string{"floor", "mop"}},
		{Category: "", Keywords: []string{"ignored"}},
		{Category: "Empty", Keywords: []string{"  "}},
	})

	assert.Equal(t, "First", c.Categorize("Mop the floor"))
	assert.Equal(t, "Second", c.Categorize("mop"))
	assert.Equal(t, CategoryOther, c.Categorize("ignored"))
	assert.Len(t, c.Rules(), 2)
}

func TestNewWindow(t *testing.T) {
	asOf := time.Date(2024, 5, 30, 18, 0, 0, 0, time.UTC)

	w, err := NewWindow(30, asOf, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, "30d:2024-05-01:UTC", w.Key())

	same, err := NewWindow(30, asOf.Add(-10*time.Hour), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, w.Key(), same.Key())

	_, err = NewWindow(0, asOf, time.UTC)
	assert.Error(t, err)
	_, err = NewWindow(MaxWindowDays+1, asOf, time.UTC)
	assert.Error(t, err)
}

func TestWindow_ClampAsOf(t *testing.T) {
	asOf := time.Date(2024, 5, 30, 18, 0, 0, 0, time.UTC)
	w, err := NewWindow(1, asOf, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, asOf, w.ClampAsOf(asOf))
	assert.Equal(t, w.Start, w.ClampAsOf(asOf.AddDate(0, 0, -3)))
	assert.True(t, w.ClampAsOf(asOf.AddDate(0, 0, 3)).Before(w.End))
}
