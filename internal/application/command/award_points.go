// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/pkg/keylock"
	"github.com/roomies/roomies-hub/pkg/logger"
	"github.com/roomies/roomies-hub/pkg/metrics"
	"github.com/roomies/roomies-hub/pkg/retry"
	"github.com/roomies/roomies-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD POINTS COMMAND
// The points ledger: every balance mutation goes through here, serialized
// per user and applied in one store transaction together with the streak,
// the milestone records and the history row.
// ══════════════════════════════════════════════════════════════════════════════

// Feature names checked by the ledger; they match the config flag names.
const (
	FeatureStreaks    = "gamification.streaks"
	FeatureBadges     = "gamification.badges"
	FeatureMilestones = "gamification.milestones"
)

// FeatureGate reports whether a feature is on for a user of a household.
type FeatureGate interface {
	Enabled(feature, userID, householdID string) bool
}

// AwardPointsCommand contains the data for a balance mutation.
type AwardPointsCommand struct {
	// UserID is the user whose balance changes.
	UserID string

	// Delta is the signed change; negative for deductions and redemptions.
	Delta int

	// Reason classifies the mutation. Only task_completed updates the streak.
	Reason gamification.Reason

	// TaskID marks the task completed in the same transaction (task_completed only).
	TaskID string

	// OccurredAt is when the mutation happened (defaults to now if zero).
	OccurredAt time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c AwardPointsCommand) Validate() error {
	if !shared.ValidID(c.UserID) {
		return shared.ErrInvalidUserID
	}
	if !c.Reason.IsValid() {
		return shared.ErrUnknownReason
	}
	if c.TaskID != "" {
		if !c.Reason.IsTaskCompletion() {
			return shared.NewDomainError("gamification", "Award", shared.ErrInvalidInput, "task_id requires reason task_completed")
		}
		if !shared.ValidID(c.TaskID) {
			return shared.ErrInvalidTaskID
		}
	}
	if c.Delta > int(shared.MaxPoints) || c.Delta < -int(shared.MaxPoints) {
		return shared.NewDomainError("gamification", "Award", shared.ErrValueOutOfRange, "delta out of range")
	}
	return nil
}

// AwardPointsResult contains the committed outcome of a mutation.
type AwardPointsResult struct {
	UserID      string
	HouseholdID string

	// OldBalance and NewBalance bracket the mutation; AppliedDelta is their
	// difference after clamping.
	OldBalance   int
	NewBalance   int
	AppliedDelta int

	OldLevel  int
	NewLevel  int
	LeveledUp bool

	// Streak is the user's current streak after the mutation.
	Streak        int
	BestStreak    int
	StreakChanged bool

	// Milestones are the legendary thresholds recorded by this mutation;
	// at most one is Celebrated.
	Milestones []gamification.AwardedMilestone

	// Badges are the badges first earned by this mutation.
	Badges []gamification.Badge

	// Task is the task completed by this mutation, if any.
	Task *household.Task

	// Attempts is the number of transaction attempts used.
	Attempts int

	CommittedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// PointsLedger handles AwardPointsCommand.
type PointsLedger struct {
	transactor     gamification.LedgerTransactor
	engine         *gamification.MilestoneEngine
	eventPublisher shared.EventPublisher
	features       FeatureGate
	locks          *keylock.KeyLock
	retrier        *retry.Retrier
	metrics        *metrics.Manager
	logger         *slog.Logger
	clock          timeutil.Clock

	streakScanDays int
	timeout        time.Duration
}

// PointsLedgerConfig contains configuration for the ledger.
type PointsLedgerConfig struct {
	// MaxAttempts bounds transaction attempts on transient store failures.
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Timeout bounds one Award call including lock wait and retries (0 = none).
	Timeout time.Duration

	// StreakScanDays caps how far back a streak is scanned.
	StreakScanDays int

	// Engine evaluates milestones and badges (default tables if nil).
	Engine *gamification.MilestoneEngine

	// Features gates streaks, badges and milestones (all on if nil).
	Features FeatureGate

	Metrics *metrics.Manager
	Logger  *slog.Logger
	Clock   timeutil.Clock
}

// DefaultPointsLedgerConfig returns default configuration.
func DefaultPointsLedgerConfig() PointsLedgerConfig {
	return PointsLedgerConfig{
		MaxAttempts:    3,
		RetryBaseDelay: 50 * time.Millisecond,
		RetryMaxDelay:  time.Second,
		Timeout:        10 * time.Second,
		StreakScanDays: gamification.DefaultStreakScanDays,
	}
}

// NewPointsLedger creates a new PointsLedger.
func NewPointsLedger(
	transactor gamification.LedgerTransactor,
	eventPublisher shared.EventPublisher,
	config PointsLedgerConfig,
) *PointsLedger {
	defaults := DefaultPointsLedgerConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if config.StreakScanDays <= 0 {
		config.StreakScanDays = defaults.StreakScanDays
	}
	if config.Engine == nil {
		config.Engine = gamification.NewMilestoneEngine(nil, nil)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = timeutil.SystemClock{}
	}

	l := &PointsLedger{
		transactor:     transactor,
		engine:         config.Engine,
		eventPublisher: eventPublisher,
		features:       config.Features,
		locks:          keylock.New(),
		metrics:        config.Metrics,
		logger:         config.Logger.With(logger.Component("points_ledger")),
		clock:          config.Clock,
		streakScanDays: config.StreakScanDays,
		timeout:        config.Timeout,
	}
	l.retrier = retry.StoreRetrier(
		config.MaxAttempts,
		config.RetryBaseDelay,
		config.RetryMaxDelay,
		// транзакция откатывается целиком, так что повтор после сбоя записи
		// вехи ничего не выдаёт дважды
		func(err error) bool {
			return errors.Is(err, shared.ErrStoreUnavailable)
		},
		func(attempt int, err error, delay time.Duration) {
			l.metrics.RecordAwardRetry()
			l.logger.Warn("award transaction failed, retrying",
				"attempt", attempt,
				"delay", delay,
				logger.Err(err),
			)
		},
	)
	return l
}

// Award applies the command. Calls for the same user are serialized; calls
// for different users run in parallel. On error nothing is persisted and no
// event is published.
func (l *PointsLedger) Award(ctx context.Context, cmd AwardPointsCommand) (*AwardPointsResult, error) {
	start := time.Now()

	if err := cmd.Validate(); err != nil {
		l.metrics.RecordAwardFailure(failureKind(err), time.Since(start))
		return nil, err
	}
	if cmd.OccurredAt.IsZero() {
		cmd.OccurredAt = l.clock.Now()
	}
	cmd.OccurredAt = cmd.OccurredAt.UTC()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	unlock, err := l.locks.Lock(ctx, cmd.UserID)
	if err != nil {
		err = shared.WrapError("gamification", "Award", shared.ErrTimeout, "waiting for user lock", err)
		l.fail(cmd, err, start)
		return nil, err
	}
	defer unlock()

	var result *AwardPointsResult
	attempts := 0
	err = l.retrier.Do(ctx, func(ctx context.Context) error {
		attempts++
		r, err := l.apply(ctx, cmd)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		l.fail(cmd, err, start)
		return nil, err
	}
	result.Attempts = attempts

	l.publish(result, cmd)
	l.record(result, cmd, start)

	return result, nil
}

// apply runs one transaction attempt.
func (l *PointsLedger) apply(ctx context.Context, cmd AwardPointsCommand) (*AwardPointsResult, error) {
	var result *AwardPointsResult

	err := l.transactor.InLedgerTx(ctx, func(ctx context.Context, tx gamification.LedgerTx) error {
		user, err := tx.FindUserForUpdate(ctx, cmd.UserID)
		if err != nil {
			return err
		}
		hh, err := tx.FindHousehold(ctx, user.HouseholdID)
		if err != nil && !shared.IsNotFound(err) {
			return err
		}
		loc := hh.Location()

		r := &AwardPointsResult{
			UserID:      user.ID,
			HouseholdID: user.HouseholdID,
			OldBalance:  user.Points.Int(),
			OldLevel:    gamification.Level(user.Points.Int()),
			CommittedAt: cmd.OccurredAt,
		}

		if cmd.Reason.IsTaskCompletion() && cmd.TaskID != "" {
			task, err := tx.MarkTaskCompleted(ctx, cmd.TaskID, user.ID, cmd.OccurredAt)
			if err != nil {
				return err
			}
			if task.HouseholdID != user.HouseholdID {
				return shared.NewDomainError("gamification", "Award", shared.ErrInvalidInput, "task belongs to another household")
			}
			r.Task = task
		}

		newBalance := user.Points.Apply(cmd.Delta)
		if !newBalance.IsValid() {
			return shared.ErrNegativeBalance
		}
		user.Points = newBalance

		if cmd.Reason.IsTaskCompletion() && l.enabled(FeatureStreaks, user) {
			previous := user.CurrentStreak
			streak, err := l.streak(ctx, tx, user.ID, cmd, loc)
			if err != nil {
				return err
			}
			user.RecordStreak(streak)
			r.StreakChanged = user.CurrentStreak != previous
		}

		completed, err := tx.CountCompletedTasks(ctx, user.ID)
		if err != nil {
			return err
		}

		outcome, err := l.engine.Evaluate(ctx, tx, gamification.EvaluateInput{
			UserID:    user.ID,
			OldPoints: r.OldBalance,
			NewPoints: newBalance.Int(),
			Counters: gamification.Counters{
				Points:         newBalance.Int(),
				TasksCompleted: completed,
				Streak:         user.CurrentStreak,
			},
			At:             cmd.OccurredAt,
			SkipMilestones: !l.enabled(FeatureMilestones, user),
			SkipBadges:     !l.enabled(FeatureBadges, user),
		})
		if err != nil {
			return err
		}
		for _, b := range outcome.Badges {
			if !user.HasBadge(b.ID) {
				user.Badges = append(user.Badges, b.ID)
			}
		}

		user.UpdatedAt = cmd.OccurredAt
		if err := tx.SaveUser(ctx, user); err != nil {
			return err
		}
		if err := tx.AppendPointsEntry(ctx, gamification.PointsEntry{
			UserID:      user.ID,
			HouseholdID: user.HouseholdID,
			OldPoints:   r.OldBalance,
			NewPoints:   newBalance.Int(),
			Delta:       cmd.Delta,
			Reason:      cmd.Reason,
			TaskID:      cmd.TaskID,
			CreatedAt:   cmd.OccurredAt,
		}); err != nil {
			return err
		}

		r.NewBalance = newBalance.Int()
		r.AppliedDelta = r.NewBalance - r.OldBalance
		r.NewLevel = gamification.Level(r.NewBalance)
		r.LeveledUp = r.NewLevel > r.OldLevel
		r.Streak = user.CurrentStreak
		r.BestStreak = user.BestStreak
		r.Milestones = outcome.Milestones
		r.Badges = outcome.Badges
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// streak recomputes the streak from the completions visible in the
// transaction, including the one being applied.
func (l *PointsLedger) streak(ctx context.Context, tx gamification.LedgerTx, userID string, cmd AwardPointsCommand, loc *time.Location) (int, error) {
	since := timeutil.AddDays(timeutil.StartOfDay(cmd.OccurredAt, loc), -l.streakScanDays, loc)
	times, err := tx.CompletionTimes(ctx, userID, since)
	if err != nil {
		return 0, err
	}
	if cmd.TaskID == "" {
		times = append(times, cmd.OccurredAt)
	}
	return gamification.NewStreakTracker(loc, l.streakScanDays).Streak(times, cmd.OccurredAt), nil
}

func (l *PointsLedger) enabled(feature string, user *household.User) bool {
	if l.features == nil {
		return true
	}
	return l.features.Enabled(feature, user.ID, user.HouseholdID)
}

// ══════════════════════════════════════════════════════════════════════════════
// POST-COMMIT
// ══════════════════════════════════════════════════════════════════════════════

// publish emits the events of a committed mutation. Publish errors are
// logged; the mutation stays committed.
func (l *PointsLedger) publish(r *AwardPointsResult, cmd AwardPointsCommand) {
	if l.eventPublisher == nil {
		return
	}

	events := make([]shared.Event, 0, 4)

	pointsEvent := shared.NewPointsAwardedEvent(r.UserID, r.HouseholdID, cmd.Delta, r.OldBalance, r.NewBalance, string(cmd.Reason), cmd.TaskID)
	pointsEvent.BaseEvent = pointsEvent.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	events = append(events, pointsEvent)

	if r.LeveledUp {
		e := shared.NewLevelUpEvent(r.UserID, r.HouseholdID, r.OldLevel, r.NewLevel, r.NewBalance)
		e.BaseEvent = e.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		events = append(events, e)
	}

	for _, m := range r.Milestones {
		if !m.Celebrated {
			continue
		}
		e := shared.NewMilestoneReachedEvent(r.UserID, r.HouseholdID, m.Threshold, m.Name, m.Icon)
		e.BaseEvent = e.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		events = append(events, e)
	}

	for _, b := range r.Badges {
		e := shared.NewBadgeEarnedEvent(r.UserID, r.HouseholdID, b.ID, b.Name, b.Icon)
		e.BaseEvent = e.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		events = append(events, e)
	}

	if r.StreakChanged {
		e := shared.NewStreakUpdatedEvent(r.UserID, r.HouseholdID, r.Streak, r.BestStreak)
		e.BaseEvent = e.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		events = append(events, e)
	}

	if r.Task != nil {
		completedAt := cmd.OccurredAt
		if r.Task.CompletedAt != nil {
			completedAt = *r.Task.CompletedAt
		}
		e := shared.NewTaskCompletedEvent(r.Task.ID, r.HouseholdID, r.UserID, r.AppliedDelta, completedAt)
		e.BaseEvent = e.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		events = append(events, e)
	}

	for _, event := range events {
		if err := l.eventPublisher.Publish(event); err != nil {
			l.logger.Error("failed to publish event",
				"event_type", event.EventType(),
				logger.UserID(r.UserID),
				logger.Err(err),
			)
		}
	}
}

func (l *PointsLedger) record(r *AwardPointsResult, cmd AwardPointsCommand, start time.Time) {
	d := time.Since(start)
	l.metrics.RecordAward(string(cmd.Reason), r.AppliedDelta, d)
	if r.LeveledUp {
		l.metrics.RecordLevelUp()
	}
	for _, b := range r.Badges {
		l.metrics.RecordBadge(b.ID)
	}
	for _, m := range r.Milestones {
		l.metrics.RecordMilestone(strconv.Itoa(m.Threshold))
	}

	l.logger.Info("points awarded",
		logger.UserID(r.UserID),
		logger.HouseholdID(r.HouseholdID),
		logger.PointsDelta(r.AppliedDelta),
		"reason", cmd.Reason,
		"new_balance", r.NewBalance,
		"level", r.NewLevel,
		"attempts", r.Attempts,
		logger.CorrelationID(cmd.CorrelationID),
		logger.Latency(d),
	)
}

func (l *PointsLedger) fail(cmd AwardPointsCommand, err error, start time.Time) {
	kind := failureKind(err)
	l.metrics.RecordAwardFailure(kind, time.Since(start))

	level := slog.LevelWarn
	if kind == "internal" || kind == "invalid_state" || kind == "idempotency_write_failure" {
		level = slog.LevelError
	}
	l.logger.Log(context.Background(), level, "award failed",
		logger.UserID(cmd.UserID),
		"reason", cmd.Reason,
		"kind", kind,
		logger.CorrelationID(cmd.CorrelationID),
		logger.Err(err),
	)
}

// failureKind maps an error to a metrics label.
func failureKind(err error) string {
	switch {
	case errors.Is(err, shared.ErrIdempotencyWriteFailure):
		return "idempotency_write_failure"
	case errors.Is(err, shared.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, shared.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrAlreadyExists):
		return "already_completed"
	case errors.Is(err, shared.ErrInvalidState):
		return "invalid_state"
	case shared.IsValidation(err):
		return "invalid_input"
	default:
		return "internal"
	}
}

// String returns a short description for logs.
func (c AwardPointsCommand) String() string {
	return fmt.Sprintf("award(%s, %+d, %s)", c.UserID, c.Delta, c.Reason)
}
