package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/internal/infrastructure/persistence/memory"
	"github.com/roomies/roomies-hub/pkg/metrics"
	"github.com/roomies/roomies-hub/pkg/timeutil"
)

var now = time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type gateFunc func(feature, userID, householdID string) bool

func (f gateFunc) Enabled(feature, userID, householdID string) bool {
	return f(feature, userID, householdID)
}

type fixture struct {
	store  *memory.Store
	pub    *recordingPublisher
	ledger *PointsLedger
	m      *metrics.Manager
}

func newFixture(t *testing.T, points int, mutate ...func(*PointsLedgerConfig)) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	require.NoError(t, store.SaveHousehold(ctx, &household.Household{ID: "h1", Name: "Flat", Timezone: "UTC"}))
	require.NoError(t, store.SaveUser(ctx, &household.User{ID: "u1", HouseholdID: "h1", DisplayName: "Ann", Points: shared.Points(points)}))
	require.NoError(t, store.SaveUser(ctx, &household.User{ID: "u2", HouseholdID: "h1", DisplayName: "Ben"}))

	m := metrics.NewManager()
	cfg := DefaultPointsLedgerConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	cfg.Clock = timeutil.FixedClock{T: now}
	cfg.Metrics = m
	for _, fn := range mutate {
		fn(&cfg)
	}

	pub := &recordingPublisher{}
	return &fixture{store: store, pub: pub, ledger: NewPointsLedger(store, pub, cfg), m: m}
}

func (f *fixture) addTask(t *testing.T, id string, points int) {
	t.Helper()
	require.NoError(t, f.store.SaveTask(context.Background(), &household.Task{
		ID: id, HouseholdID: "h1", AssignedUserID: "u1", Title: "Dishes",
		PointValue: points, Priority: household.PriorityMedium, Recurrence: household.RecurrenceNone,
		CreatedAt: now.Add(-time.Hour),
	}))
}

func (f *fixture) balance(t *testing.T, userID string) int {
	t.Helper()
	u, err := f.store.FindUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Points.Int()
}

func award(delta int, reason gamification.Reason) AwardPointsCommand {
	return AwardPointsCommand{UserID: "u1", Delta: delta, Reason: reason}
}

// ══════════════════════════════════════════════════════════════════════════════
// BALANCE
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_TaskCompletionFromZero(t *testing.T) {
	f := newFixture(t, 0)
	f.addTask(t, "t1", 50)

	r, err := f.ledger.Award(context.Background(), AwardPointsCommand{
		UserID: "u1", Delta: 50, Reason: gamification.ReasonTaskCompleted, TaskID: "t1",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, r.OldBalance)
	assert.Equal(t, 50, r.NewBalance)
	assert.Equal(t, 1, r.NewLevel)
	assert.False(t, r.LeveledUp)
	assert.Equal(t, 1, r.Streak)
	assert.True(t, r.StreakChanged)
	require.NotNil(t, r.Task)
	assert.True(t, r.Task.IsCompleted)
	assert.Equal(t, 50, f.balance(t, "u1"))

	task, err := f.store.FindTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, task.IsCompleted)
	assert.Equal(t, "u1", task.CompletedBy)

	require.Len(t, f.pub.ofType(shared.EventPointsAwarded), 1)
	require.Len(t, f.pub.ofType(shared.EventTaskCompleted), 1)
	require.Len(t, f.pub.ofType(shared.EventBadgeEarned), 1)
	assert.Equal(t, "first_task", f.pub.ofType(shared.EventBadgeEarned)[0].(shared.BadgeEarnedEvent).BadgeID)
}

func TestAward_DeductionClampsAtZero(t *testing.T) {
	f := newFixture(t, 20)

	r, err := f.ledger.Award(context.Background(), award(-30, gamification.ReasonRedemption))
	require.NoError(t, err)

	assert.Equal(t, 0, r.NewBalance)
	assert.Equal(t, -20, r.AppliedDelta)
	assert.Equal(t, 0, f.balance(t, "u1"))

	events := f.pub.ofType(shared.EventPointsAwarded)
	require.Len(t, events, 1)
	e := events[0].(shared.PointsAwardedEvent)
	assert.Equal(t, -30, e.Delta)
	assert.Equal(t, 0, e.NewBalance)

	history := f.store.PointsHistory("u1")
	require.Len(t, history, 1)
	assert.Equal(t, 20, history[0].OldPoints)
	assert.Equal(t, 0, history[0].NewPoints)
}

func TestAward_SequentialClampSimulation(t *testing.T) {
	f := newFixture(t, 0)
	deltas := []int{30, -50, 20, 15, -10, -40, 100, -5}

	expected := 0
	for _, d := range deltas {
		expected += d
		if expected < 0 {
			expected = 0
		}
		reason := gamification.ReasonBonus
		if d < 0 {
			reason = gamification.ReasonPenalty
		}
		r, err := f.ledger.Award(context.Background(), award(d, reason))
		require.NoError(t, err)
		assert.Equal(t, expected, r.NewBalance)
		assert.GreaterOrEqual(t, r.NewBalance, 0)
	}
	assert.Equal(t, expected, f.balance(t, "u1"))
}

func TestAward_StreakOnlyForTaskCompletion(t *testing.T) {
	f := newFixture(t, 0)

	r, err := f.ledger.Award(context.Background(), award(10, gamification.ReasonBonus))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Streak)
	assert.False(t, r.StreakChanged)
	assert.Empty(t, f.pub.ofType(shared.EventStreakUpdated))
}

func TestAward_StreakCountsConsecutiveDays(t *testing.T) {
	f := newFixture(t, 0)
	for i, day := range []int{-2, -1} {
		id := []string{"ta", "tb"}[i]
		f.addTask(t, id, 5)
		_, err := f.ledger.Award(context.Background(), AwardPointsCommand{
			UserID: "u1", Delta: 5, Reason: gamification.ReasonTaskCompleted, TaskID: id,
			OccurredAt: now.AddDate(0, 0, day),
		})
		require.NoError(t, err)
	}
	f.addTask(t, "tc", 5)

	r, err := f.ledger.Award(context.Background(), AwardPointsCommand{
		UserID: "u1", Delta: 5, Reason: gamification.ReasonTaskCompleted, TaskID: "tc",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Streak)
	assert.Equal(t, 3, r.BestStreak)
}

func TestAward_LevelUp(t *testing.T) {
	f := newFixture(t, 90)

	r, err := f.ledger.Award(context.Background(), award(20, gamification.ReasonBonus))
	require.NoError(t, err)
	assert.Equal(t, 1, r.OldLevel)
	assert.Equal(t, 2, r.NewLevel)
	assert.True(t, r.LeveledUp)

	events := f.pub.ofType(shared.EventLevelUp)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].(shared.LevelUpEvent).NewLevel)
}

// ══════════════════════════════════════════════════════════════════════════════
// MILESTONES & BADGES
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_MilestoneFiresOnce(t *testing.T) {
	f := newFixture(t, 450)
	ctx := context.Background()

	r, err := f.ledger.Award(ctx, award(100, gamification.ReasonBonus))
	require.NoError(t, err)
	require.Len(t, r.Milestones, 1)
	assert.Equal(t, 500, r.Milestones[0].Threshold)
	assert.True(t, r.Milestones[0].Celebrated)

	r, err = f.ledger.Award(ctx, award(50, gamification.ReasonBonus))
	require.NoError(t, err)
	assert.Empty(t, r.Milestones)

	events := f.pub.ofType(shared.EventMilestoneReached)
	require.Len(t, events, 1)
	assert.Equal(t, 500, events[0].(shared.MilestoneReachedEvent).Threshold)
}

func TestAward_MultipleMilestonesCelebrateHighest(t *testing.T) {
	f := newFixture(t, 0)

	r, err := f.ledger.Award(context.Background(), award(1200, gamification.ReasonCorrection))
	require.NoError(t, err)

	require.Len(t, r.Milestones, 3)
	assert.False(t, r.Milestones[0].Celebrated)
	assert.False(t, r.Milestones[1].Celebrated)
	assert.True(t, r.Milestones[2].Celebrated)

	events := f.pub.ofType(shared.EventMilestoneReached)
	require.Len(t, events, 1)
	assert.Equal(t, 1000, events[0].(shared.MilestoneReachedEvent).Threshold)

	records, err := f.store.ListMilestoneRecords(context.Background(), "u1")
	require.NoError(t, err)
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec.Key)
	}
	assert.Contains(t, keys, "legendary:250")
	assert.Contains(t, keys, "legendary:500")
	assert.Contains(t, keys, "legendary:1000")
}

func TestAward_BadgeNotReawardedAfterDrop(t *testing.T) {
	f := newFixture(t, 90)
	ctx := context.Background()

	_, err := f.ledger.Award(ctx, award(20, gamification.ReasonBonus))
	require.NoError(t, err)
	_, err = f.ledger.Award(ctx, award(-60, gamification.ReasonRedemption))
	require.NoError(t, err)
	r, err := f.ledger.Award(ctx, award(70, gamification.ReasonBonus))
	require.NoError(t, err)

	assert.Equal(t, 120, r.NewBalance)
	assert.Empty(t, r.Badges)

	var earned []string
	for _, e := range f.pub.ofType(shared.EventBadgeEarned) {
		earned = append(earned, e.(shared.BadgeEarnedEvent).BadgeID)
	}
	assert.Equal(t, []string{"points_100"}, earned)

	u, err := f.store.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"points_100"}, u.Badges)
}

func TestAward_FeatureFlagsSkipRewards(t *testing.T) {
	off := gateFunc(func(feature, _, _ string) bool {
		return feature != FeatureBadges && feature != FeatureMilestones
	})
	f := newFixture(t, 0, func(c *PointsLedgerConfig) { c.Features = off })

	r, err := f.ledger.Award(context.Background(), award(600, gamification.ReasonBonus))
	require.NoError(t, err)
	assert.Empty(t, r.Milestones)
	assert.Empty(t, r.Badges)

	records, err := f.store.ListMilestoneRecords(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

// ══════════════════════════════════════════════════════════════════════════════
// FAILURES
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_RecordWriteFailureFailsClosed(t *testing.T) {
	f := newFixture(t, 90)
	f.store.InjectFault(memory.OpSaveMilestoneRecord, errors.New("disk full"), 0)

	_, err := f.ledger.Award(context.Background(), award(20, gamification.ReasonBonus))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrIdempotencyWriteFailure)

	assert.Equal(t, 90, f.balance(t, "u1"))
	assert.Empty(t, f.store.PointsHistory("u1"))
	assert.Empty(t, f.pub.events)
	assert.Equal(t, 1, f.store.Calls(memory.OpBeginTx))

	f.store.ClearFaults()
	r, err := f.ledger.Award(context.Background(), award(20, gamification.ReasonBonus))
	require.NoError(t, err)
	require.Len(t, r.Badges, 1)
	assert.Equal(t, "points_100", r.Badges[0].ID)
}

func TestAward_TransientMilestoneCheckFailureIsRetried(t *testing.T) {
	f := newFixture(t, 90)
	f.store.InjectFault(memory.OpIsMilestoneRecorded, shared.ErrStoreUnavailable, 1)

	r, err := f.ledger.Award(context.Background(), award(20, gamification.ReasonBonus))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, 110, f.balance(t, "u1"))
	require.Len(t, r.Badges, 1)
	assert.Equal(t, "points_100", r.Badges[0].ID)
	assert.Len(t, f.pub.ofType(shared.EventBadgeEarned), 1)
	assert.Len(t, f.store.PointsHistory("u1"), 1)
}

func TestAward_TransientFailureIsRetried(t *testing.T) {
	f := newFixture(t, 10)
	f.store.InjectFault(memory.OpCommit, shared.ErrStoreUnavailable, 2)

	r, err := f.ledger.Award(context.Background(), award(5, gamification.ReasonBonus))
	require.NoError(t, err)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, 15, f.balance(t, "u1"))
	assert.Len(t, f.pub.ofType(shared.EventPointsAwarded), 1)
	assert.Len(t, f.store.PointsHistory("u1"), 1)
}

func TestAward_RetriesExhausted(t *testing.T) {
	f := newFixture(t, 10)
	f.store.InjectFault(memory.OpSaveUser, shared.ErrStoreUnavailable, 0)

	_, err := f.ledger.Award(context.Background(), award(5, gamification.ReasonBonus))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	assert.Equal(t, 3, f.store.Calls(memory.OpBeginTx))

	f.store.ClearFaults()
	assert.Equal(t, 10, f.balance(t, "u1"))
	assert.Empty(t, f.pub.events)

	families, err := f.m.Registry().Gather()
	require.NoError(t, err)
	var failures float64
	for _, fam := range families {
		if fam.GetName() != "roomies_engine_award_failures_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			failures += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), failures)
}

func TestAward_TaskCompletedOnlyOnce(t *testing.T) {
	f := newFixture(t, 0)
	f.addTask(t, "t1", 10)
	cmd := AwardPointsCommand{UserID: "u1", Delta: 10, Reason: gamification.ReasonTaskCompleted, TaskID: "t1"}

	_, err := f.ledger.Award(context.Background(), cmd)
	require.NoError(t, err)
	_, err = f.ledger.Award(context.Background(), cmd)
	assert.ErrorIs(t, err, shared.ErrTaskAlreadyCompleted)
	assert.Equal(t, 10, f.balance(t, "u1"))
}

func TestAward_Validation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  AwardPointsCommand
		kind error
	}{
		{"empty user", AwardPointsCommand{Delta: 1, Reason: gamification.ReasonBonus}, shared.ErrInvalidID},
		{"unknown reason", AwardPointsCommand{UserID: "u1", Delta: 1, Reason: "gift"}, shared.ErrInvalidInput},
		{"task with bonus", AwardPointsCommand{UserID: "u1", Delta: 1, Reason: gamification.ReasonBonus, TaskID: "t1"}, shared.ErrInvalidInput},
		{"delta too large", AwardPointsCommand{UserID: "u1", Delta: 2_000_000_000, Reason: gamification.ReasonBonus}, shared.ErrValueOutOfRange},
		{"missing user", AwardPointsCommand{UserID: "nobody", Delta: 1, Reason: gamification.ReasonBonus}, shared.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Award(ctx, tt.cmd)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
	assert.Empty(t, f.pub.events)
}

func TestAward_PublishFailureKeepsCommit(t *testing.T) {
	f := newFixture(t, 0)
	f.pub.err = errors.New("bus closed")

	r, err := f.ledger.Award(context.Background(), award(10, gamification.ReasonBonus))
	require.NoError(t, err)
	assert.Equal(t, 10, r.NewBalance)
	assert.Equal(t, 10, f.balance(t, "u1"))
}

// ══════════════════════════════════════════════════════════════════════════════
// CONCURRENCY
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_ConcurrentCompletionsSameUser(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, 0)
		f.addTask(t, "ta", 10)
		f.addTask(t, "tb", 15)

		var wg sync.WaitGroup
		for _, task := range []struct {
			id     string
			points int
		}{{"ta", 10}, {"tb", 15}} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.ledger.Award(context.Background(), AwardPointsCommand{
					UserID: "u1", Delta: task.points, Reason: gamification.ReasonTaskCompleted, TaskID: task.id,
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		require.Equal(t, 25, f.balance(t, "u1"))
		assert.Len(t, f.pub.ofType(shared.EventBadgeEarned), 1)
	}
}

func TestAward_ConcurrentReplayRecordsOnce(t *testing.T) {
	f := newFixture(t, 90)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Award(context.Background(), award(20, gamification.ReasonBonus))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 250, f.balance(t, "u1"))
	assert.Len(t, f.pub.ofType(shared.EventBadgeEarned), 1)
	assert.Len(t, f.pub.ofType(shared.EventMilestoneReached), 1)
}

func TestAward_DifferentUsersDoNotBlock(t *testing.T) {
	f := newFixture(t, 0)
	unlock, err := f.ledger.locks.Lock(context.Background(), "u1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := f.ledger.Award(ctx, AwardPointsCommand{UserID: "u2", Delta: 5, Reason: gamification.ReasonBonus})
	require.NoError(t, err)
	assert.Equal(t, 5, r.NewBalance)

	blocked, cancelBlocked := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelBlocked()
	_, err = f.ledger.Award(blocked, award(5, gamification.ReasonBonus))
	assert.ErrorIs(t, err, shared.ErrTimeout)
}
