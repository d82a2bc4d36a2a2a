package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.Database.InMemory)
	assert.Equal(t, 3, cfg.Ledger.MaxAttempts)
	assert.Equal(t, 365, cfg.Ledger.StreakScanDays)
	assert.Equal(t, 30, cfg.Analytics.DefaultWindowDays)
	assert.Equal(t, 5*time.Minute, cfg.Analytics.CacheTTL)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.NotNil(t, cfg.Features)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "5")
	t.Setenv("ANALYTICS_CACHE_TTL", "90s")
	t.Setenv("ANALYTICS_LOW_COMPLETION_RATE", "0.25")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "app.roomies.dev, localhost:5173 ,")
	t.Setenv("APP_TIMEZONE", "Not/AZone")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Ledger.MaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.Analytics.CacheTTL)
	assert.Equal(t, 0.25, cfg.Analytics.LowCompletionRate)
	assert.Equal(t, []string{"app.roomies.dev", "localhost:5173"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, time.UTC, cfg.App.Location)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "0")
	t.Setenv("ANALYTICS_WINDOW_DAYS", "400")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "DATABASE_URL is required in production")
	assert.Contains(t, msg, "DB_IN_MEMORY is not allowed in production")
	assert.Contains(t, msg, "LEDGER_MAX_ATTEMPTS")
	assert.Contains(t, msg, "ANALYTICS_WINDOW_DAYS")
}

func TestFeatureFlags_EnvAndRollout(t *testing.T) {
	t.Setenv("FEATURE_ANALYTICS_PREDICTIONS", "false")
	t.Setenv("FEATURE_GAMIFICATION_BADGES", "50")
	t.Setenv("FEATURE_REALTIME_WEBSOCKET_HOUSEHOLDS", "h1, h2")

	ff := LoadFeatureFlags()

	assert.False(t, ff.Enabled(FeatureAnalyticsPredictions, "", ""))
	assert.True(t, ff.Enabled(FeatureGamificationStreaks, "", ""))
	assert.False(t, ff.Enabled("unknown.feature", "", ""))

	// Rollout is stable for a subject.
	first := ff.Enabled(FeatureGamificationBadges, "user-42", "h1")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ff.Enabled(FeatureGamificationBadges, "user-42", "h9"))
	}
	assert.True(t, ff.Enabled(FeatureGamificationBadges, "", ""))

	assert.True(t, ff.Enabled(FeatureRealtimeWebSocket, "", "h2"))
	assert.False(t, ff.Enabled(FeatureRealtimeWebSocket, "", "h3"))

	assert.ErrorIs(t, ff.SetPercent("missing", 10), ErrUnknownFeature)
	assert.ErrorIs(t, ff.SetPercent(FeatureAnalyticsCache, 120), ErrInvalidRolloutPercent)
	require.NoError(t, ff.SetPercent(FeatureAnalyticsCache, 0))
	assert.False(t, ff.Enabled(FeatureAnalyticsCache, "", "h1"))

	var nilFlags *FeatureFlags
	assert.True(t, nilFlags.Enabled(FeatureAnalyticsCache, "", ""))
}

func TestRolloutBucket_Spread(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetPercent(FeatureGamificationBadges, 30))

	on := 0
	for i := 0; i < 1000; i++ {
		if ff.Enabled(FeatureGamificationBadges, fmt.Sprintf("user-%d", i), "") {
			on++
		}
	}
	assert.InDelta(t, 300, on, 80)
}

func TestLoadCategoryRules(t *testing.T) {
	rules, err := LoadCategoryRules("")
	require.NoError(t, err)
	assert.Nil(t, rules)

	rules, err = LoadCategoryRules(filepath.Join("..", "configs", "categories.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, rules)
	assert.Equal(t, "Kitchen", rules[0].Category)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("categories:\n  - category: X\n    keyword: [a]\n"), 0o600))
	_, err = LoadCategoryRules(bad)
	assert.Error(t, err)

	_, err = ParseCategoryRules([]byte("categories:\n  - category: Empty\n    keywords: []\n"))
	assert.Error(t, err)

	_, err = LoadCategoryRules(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
