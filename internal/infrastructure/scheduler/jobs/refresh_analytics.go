// Package jobs contains implementations of scheduled jobs for Roomies Hub.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH ANALYTICS JOB
// ══════════════════════════════════════════════════════════════════════════════

// HouseholdLister returns households with recent activity.
type HouseholdLister interface {
	ListActiveHouseholds(ctx context.Context, since time.Time) ([]string, error)
}

// AnalyticsRefresher recomputes and re-caches one household window.
type AnalyticsRefresher interface {
	Refresh(ctx context.Context, householdID string, days int) error
}

// RefreshAnalyticsJob recomputes the analytics snapshots of every household
// that had activity recently, so that reads are served from a warm cache.
type RefreshAnalyticsJob struct {
	households HouseholdLister
	refresher  AnalyticsRefresher
	logger     *slog.Logger
	config     RefreshAnalyticsConfig
	now        func() time.Time

	lastStats atomic.Pointer[RefreshStats]
}

// RefreshAnalyticsConfig contains configuration for the refresh job.
type RefreshAnalyticsConfig struct {
	// ActiveSince selects households with tasks created or completed in this period.
	ActiveSince time.Duration

	// WindowDays are the windows recomputed per household.
	WindowDays []int

	// Concurrency bounds how many households are refreshed at once.
	Concurrency int

	// PerHouseholdTimeout bounds the refresh of one household.
	PerHouseholdTimeout time.Duration
}

// DefaultRefreshAnalyticsConfig returns sensible defaults.
func DefaultRefreshAnalyticsConfig() RefreshAnalyticsConfig {
	return RefreshAnalyticsConfig{
		ActiveSince:         7 * 24 * time.Hour,
		WindowDays:          []int{7, 30},
		Concurrency:         4,
		PerHouseholdTimeout: 30 * time.Second,
	}
}

// RefreshStats contains statistics from a refresh run.
type RefreshStats struct {
	StartedAt   time.Time
	Duration    time.Duration
	Households  int
	Refreshed   int
	FailedCount int
}

// NewRefreshAnalyticsJob creates a new refresh job.
func NewRefreshAnalyticsJob(
	households HouseholdLister,
	refresher AnalyticsRefresher,
	logger *slog.Logger,
	config RefreshAnalyticsConfig,
) *RefreshAnalyticsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if len(config.WindowDays) == 0 {
		config.WindowDays = []int{30}
	}

	return &RefreshAnalyticsJob{
		households: households,
		refresher:  refresher,
		logger:     logger.With("job", "refresh_analytics"),
		config:     config,
		now:        time.Now,
	}
}

// Name returns the job name.
func (j *RefreshAnalyticsJob) Name() string {
	return "refresh_analytics"
}

// Description returns a human-readable description.
func (j *RefreshAnalyticsJob) Description() string {
	return "Recomputes analytics snapshots of recently active households"
}

// Run executes the refresh job. A failing household is logged and counted;
// the run fails only if every household failed or the context ended.
func (j *RefreshAnalyticsJob) Run(ctx context.Context) error {
	startedAt := j.now()
	stats := &RefreshStats{StartedAt: startedAt}

	ids, err := j.households.ListActiveHouseholds(ctx, startedAt.Add(-j.config.ActiveSince))
	if err != nil {
		return fmt.Errorf("failed to list active households: %w", err)
	}
	stats.Households = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := j.refreshHousehold(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.FailedCount++
				j.logger.Warn("household refresh failed", "household_id", id, "error", err)
				return nil
			}
			stats.Refreshed++
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = j.now().Sub(startedAt)
	j.lastStats.Store(stats)

	j.logger.Info("refresh_analytics completed",
		"duration", stats.Duration.String(),
		"households", stats.Households,
		"refreshed", stats.Refreshed,
		"failed", stats.FailedCount,
	)

	if err := ctx.Err(); err != nil {
		return err
	}
	if stats.Households > 0 && stats.Refreshed == 0 {
		return fmt.Errorf("refresh failed for all %d households", stats.Households)
	}
	return nil
}

func (j *RefreshAnalyticsJob) refreshHousehold(ctx context.Context, householdID string) error {
	if j.config.PerHouseholdTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.PerHouseholdTimeout)
		defer cancel()
	}

	var errs []error
	for _, days := range j.config.WindowDays {
		if err := j.refresher.Refresh(ctx, householdID, days); err != nil {
			errs = append(errs, fmt.Errorf("%dd: %w", days, err))
		}
	}
	return errors.Join(errs...)
}

// LastStats returns statistics of the last completed run, or nil.
func (j *RefreshAnalyticsJob) LastStats() *RefreshStats {
	return j.lastStats.Load()
}
