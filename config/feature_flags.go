package config

import (
	"errors"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Feature names. Values double as environment keys:
// "analytics.predictions" is set with FEATURE_ANALYTICS_PREDICTIONS.
const (
	FeatureGamificationStreaks    = "gamification.streaks"
	FeatureGamificationBadges     = "gamification.badges"
	FeatureGamificationMilestones = "gamification.milestones"

	FeatureAnalyticsPredictions = "analytics.predictions"
	FeatureAnalyticsCache       = "analytics.cache"
	FeatureAnalyticsRefresh     = "analytics.refresh"

	FeatureRealtimeWebSocket = "realtime.websocket"
)

var (
	ErrUnknownFeature        = errors.New("unknown feature")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Feature is one toggle.
type Feature struct {
	Name        string
	Description string

	// Percent of subjects that get the feature, 0 disables it.
	Percent int

	// Households limits the feature to the listed households when set.
	Households map[string]struct{}
}

// FeatureFlags holds the toggles of one process. A nil *FeatureFlags enables
// every feature, which is what tests and embedded use want.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

var defaultFeatures = []Feature{
	{Name: FeatureGamificationStreaks, Description: "Track daily completion streaks"},
	{Name: FeatureGamificationBadges, Description: "Award count badges"},
	{Name: FeatureGamificationMilestones, Description: "Award legendary point milestones"},
	{Name: FeatureAnalyticsPredictions, Description: "Predictions and recommendations in analytics"},
	{Name: FeatureAnalyticsCache, Description: "Cache analytics snapshots in Redis"},
	{Name: FeatureAnalyticsRefresh, Description: "Recompute analytics of active households periodically"},
	{Name: FeatureRealtimeWebSocket, Description: "Stream progress events over WebSocket"},
}

// LoadFeatureFlags enables every known feature, then applies
// FEATURE_<NAME>=true|false|<percent> and FEATURE_<NAME>_HOUSEHOLDS=<id,id>.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature, len(defaultFeatures))}

	for _, def := range defaultFeatures {
		f := def
		f.Percent = 100

		key := featureEnvKey(f.Name)
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				f.Percent = 0
				if b {
					f.Percent = 100
				}
			} else if p, err := strconv.Atoi(v); err == nil && p >= 0 && p <= 100 {
				f.Percent = p
			}
		}
		if ids := getEnvStringSlice(key+"_HOUSEHOLDS", nil); len(ids) > 0 {
			f.Households = make(map[string]struct{}, len(ids))
			for _, id := range ids {
				f.Households[id] = struct{}{}
			}
		}

		ff.features[f.Name] = &f
	}
	return ff
}

func featureEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// Enabled reports whether featureName is on for a user of a household.
// Either id may be empty. Partial rollouts bucket by user, then household;
// a call with neither gets the feature whenever it is not fully off.
func (ff *FeatureFlags) Enabled(featureName, userID, householdID string) bool {
	if ff == nil {
		return true
	}

	ff.mu.RLock()
	defer ff.mu.RUnlock()

	f, ok := ff.features[featureName]
	if !ok || f.Percent == 0 {
		return false
	}
	if len(f.Households) > 0 && householdID != "" {
		if _, ok := f.Households[householdID]; !ok {
			return false
		}
	}
	if f.Percent >= 100 {
		return true
	}

	subject := userID
	if subject == "" {
		subject = householdID
	}
	if subject == "" {
		return true
	}
	return rolloutBucket(featureName, subject) < f.Percent
}

// rolloutBucket is stable across restarts, so a subject keeps its answer.
func rolloutBucket(featureName, subject string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(featureName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(subject))
	return int(h.Sum32() % 100)
}

// SetPercent changes a rollout at runtime.
func (ff *FeatureFlags) SetPercent(featureName string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[featureName]
	if !ok {
		return ErrUnknownFeature
	}
	f.Percent = percent
	return nil
}
