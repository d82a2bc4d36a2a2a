package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
)

var t0 = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveHousehold(ctx, &household.Household{ID: "h1", Name: "Flat", Timezone: "UTC"}))
	require.NoError(t, s.SaveUser(ctx, &household.User{ID: "u1", HouseholdID: "h1", DisplayName: "Ann"}))
	require.NoError(t, s.SaveUser(ctx, &household.User{ID: "u2", HouseholdID: "h1", DisplayName: "Ben"}))
	require.NoError(t, s.SaveTask(ctx, &household.Task{
		ID: "t1", HouseholdID: "h1", AssignedUserID: "u1", Title: "Dishes",
		PointValue: 10, Priority: household.PriorityMedium, Recurrence: household.RecurrenceNone,
		CreatedAt: t0,
	}))
	return s
}

func TestLedgerTx_CommitAppliesStagedWrites(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	err := s.InLedgerTx(ctx, func(ctx context.Context, tx gamification.LedgerTx) error {
		u, err := tx.FindUserForUpdate(ctx, "u1")
		require.NoError(t, err)

		task, err := tx.MarkTaskCompleted(ctx, "t1", "u1", t0.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, task.IsCompleted)

		n, err := tx.CountCompletedTasks(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, tx.SaveMilestoneRecord(ctx, gamification.MilestoneRecord{UserID: "u1", Key: "badge:first_task", AwardedAt: t0}))
		assert.ErrorIs(t, tx.SaveMilestoneRecord(ctx, gamification.MilestoneRecord{UserID: "u1", Key: "badge:first_task", AwardedAt: t0}), shared.ErrAlreadyExists)

		u.Points = 10
		require.NoError(t, tx.SaveUser(ctx, u))
		return tx.AppendPointsEntry(ctx, gamification.PointsEntry{UserID: "u1", NewPoints: 10, Delta: 10, Reason: gamification.ReasonTaskCompleted})
	})
	require.NoError(t, err)

	u, err := s.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, shared.Points(10), u.Points)
	assert.Equal(t, []string{"first_task"}, u.Badges)

	task, err := s.FindTask(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, task.IsCompleted)
	assert.Equal(t, "u1", task.CompletedBy)

	history := s.PointsHistory("u1")
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
}

func TestLedgerTx_RollbackOnError(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InLedgerTx(ctx, func(ctx context.Context, tx gamification.LedgerTx) error {
		u, _ := tx.FindUserForUpdate(ctx, "u1")
		u.Points = 500
		_ = tx.SaveUser(ctx, u)
		_, _ = tx.MarkTaskCompleted(ctx, "t1", "u1", t0)
		_ = tx.SaveMilestoneRecord(ctx, gamification.MilestoneRecord{UserID: "u1", Key: "legendary:250", AwardedAt: t0})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, _ := s.FindUser(ctx, "u1")
	assert.Equal(t, shared.Points(0), u.Points)
	task, _ := s.FindTask(ctx, "t1")
	assert.False(t, task.IsCompleted)
	recorded, _ := s.IsMilestoneRecorded(ctx, "u1", "legendary:250")
	assert.False(t, recorded)
	assert.Empty(t, s.PointsHistory("u1"))
}

func TestLedgerTx_CommitFault(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	s.InjectFault(OpCommit, shared.ErrStoreUnavailable, 1)

	write := func(ctx context.Context, tx gamification.LedgerTx) error {
		u, err := tx.FindUserForUpdate(ctx, "u1")
		if err != nil {
			return err
		}
		u.Points = u.Points.Apply(5)
		return tx.SaveUser(ctx, u)
	}

	assert.ErrorIs(t, s.InLedgerTx(ctx, write), shared.ErrStoreUnavailable)
	require.NoError(t, s.InLedgerTx(ctx, write))

	u, _ := s.FindUser(ctx, "u1")
	assert.Equal(t, shared.Points(5), u.Points)
	assert.Equal(t, 2, s.Calls(OpCommit))
}

func TestLedgerTx_TaskStates(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	err := s.InLedgerTx(ctx, func(ctx context.Context, tx gamification.LedgerTx) error {
		_, err := tx.MarkTaskCompleted(ctx, "missing", "u1", t0)
		assert.ErrorIs(t, err, shared.ErrNotFound)

		_, err = tx.MarkTaskCompleted(ctx, "t1", "u1", t0)
		require.NoError(t, err)
		_, err = tx.MarkTaskCompleted(ctx, "t1", "u2", t0)
		assert.ErrorIs(t, err, shared.ErrTaskAlreadyCompleted)
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerTx_DifferentUsersDoNotBlock(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- s.InLedgerTx(ctx, func(ctx context.Context, tx gamification.LedgerTx) error {
			if _, err := tx.FindUserForUpdate(ctx, "u1"); err != nil {
				return err
			}
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	done := make(chan error, 1)
	go func() {
		done <- s.InLedgerTx(ctx, func(ctx context.Context, tx gamification.LedgerTx) error {
			u, err := tx.FindUserForUpdate(ctx, "u2")
			if err != nil {
				return err
			}
			u.Points = u.Points.Apply(7)
			return tx.SaveUser(ctx, u)
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("transaction on u2 waited for the one on u1")
	}
	u2, err := s.FindUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, shared.Points(7), u2.Points)

	close(release)
	require.NoError(t, <-first)
}

func TestLedgerTx_SameUserWaits(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- s.InLedgerTx(ctx, func(ctx context.Context, tx gamification.LedgerTx) error {
			u, err := tx.FindUserForUpdate(ctx, "u1")
			if err != nil {
				return err
			}
			close(holding)
			<-release
			u.Points = u.Points.Apply(10)
			return tx.SaveUser(ctx, u)
		})
	}()
	<-holding

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := s.InLedgerTx(waitCtx, func(ctx context.Context, tx gamification.LedgerTx) error {
		_, err := tx.FindUserForUpdate(ctx, "u1")
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-first)

	err = s.InLedgerTx(ctx, func(ctx context.Context, tx gamification.LedgerTx) error {
		u, err := tx.FindUserForUpdate(ctx, "u1")
		if err != nil {
			return err
		}
		assert.Equal(t, shared.Points(10), u.Points)
		u.Points = u.Points.Apply(5)
		return tx.SaveUser(ctx, u)
	})
	require.NoError(t, err)
	u1, err := s.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, shared.Points(15), u1.Points)
}

func TestFindTasks_WindowAndFilter(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	done := t0.Add(48 * time.Hour)
	require.NoError(t, s.SaveTask(ctx, &household.Task{
		ID: "t2", HouseholdID: "h1", AssignedUserID: "u2", Title: "Trash",
		CreatedAt: t0.AddDate(0, -2, 0), IsCompleted: true, CompletedAt: &done, CompletedBy: "u2",
	}))
	require.NoError(t, s.SaveTask(ctx, &household.Task{
		ID: "t3", HouseholdID: "h1", Title: "Old", CreatedAt: t0.AddDate(0, -2, 0),
	}))
	require.NoError(t, s.SaveTask(ctx, &household.Task{
		ID: "x1", HouseholdID: "h2", Title: "Other household", CreatedAt: t0,
	}))

	window := shared.TimeRange{From: t0.AddDate(0, 0, -7), To: t0.AddDate(0, 0, 7)}

	all, err := s.FindTasks(ctx, "h1", window, household.TaskFilter{})
	require.NoError(t, err)
	ids := []string{}
	for _, task := range all {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"t2", "t1"}, ids)

	completed, err := s.FindTasks(ctx, "h1", window, household.TaskFilter{CompletedOnly: true, AssignedUserID: "u2"})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "t2", completed[0].ID)

	active, err := s.ListActiveHouseholds(ctx, t0.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, active)

	times, err := s.CompletionTimes(ctx, "u2", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{done}, times)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	task, err := s.FindTask(ctx, "t1")
	require.NoError(t, err)
	task.Title = "mutated"

	again, _ := s.FindTask(ctx, "t1")
	assert.Equal(t, "Dishes", again.Title)
}

func TestStore_HookSeesContext(t *testing.T) {
	s := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.FindTasks(ctx, "h1", shared.TimeRange{From: t0, To: t0.Add(time.Hour)}, household.TaskFilter{})
	assert.ErrorIs(t, err, context.Canceled)

	s.InjectFault(OpListByHousehold, shared.ErrStoreUnavailable, 0)
	_, err = s.ListByHousehold(context.Background(), "h1")
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	s.ClearFaults()
	users, err := s.ListByHousehold(context.Background(), "h1")
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
