package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

// InLedgerTx runs fn in a read-committed transaction. The user row is locked
// by FindUserForUpdate, which serializes concurrent awards across processes.
func (s *Store) InLedgerTx(ctx context.Context, fn func(ctx context.Context, tx gamification.LedgerTx) error) error {
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		return fn(ctx, &ledgerTx{tx: tx})
	})
	return translateError("InLedgerTx", err)
}

type ledgerTx struct {
	tx pgx.Tx
}

var _ gamification.LedgerTx = (*ledgerTx)(nil)

func (l *ledgerTx) FindHousehold(ctx context.Context, id string) (*household.Household, error) {
	return findHousehold(ctx, l.tx, id)
}

func (l *ledgerTx) FindUserForUpdate(ctx context.Context, id string) (*household.User, error) {
	return findUser(ctx, l.tx, id, true)
}

func (l *ledgerTx) SaveUser(ctx context.Context, u *household.User) error {
	return saveUser(ctx, l.tx, u)
}

// MarkTaskCompleted flips the task only while it is still open, so two
// concurrent completions cannot both succeed.
func (l *ledgerTx) MarkTaskCompleted(ctx context.Context, taskID, userID string, at time.Time) (*household.Task, error) {
	query := `
		UPDATE tasks
		SET is_completed = TRUE, completed_at = $3, completed_by = $2
		WHERE id = $1 AND NOT is_completed
		RETURNING id, household_id, assigned_user_id, title, point_value, priority,
			recurrence, due_date, completed_at, completed_by, is_completed, created_at
	`
	t, err := scanTask(l.tx.QueryRow(ctx, query, taskID, userID, at))
	if err == nil {
		return t, nil
	}
	if !IsNoRows(err) {
		return nil, translateError("MarkTaskCompleted", err)
	}

	var exists bool
	if err := l.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, taskID).Scan(&exists); err != nil {
		return nil, translateError("MarkTaskCompleted", err)
	}
	if exists {
		return nil, shared.ErrTaskAlreadyCompleted
	}
	return nil, shared.ErrTaskNotFound
}

func (l *ledgerTx) CountCompletedTasks(ctx context.Context, userID string) (int, error) {
	query := `SELECT count(*) FROM tasks WHERE is_completed AND ` + performerExpr + ` = $1`

	var n int
	if err := l.tx.QueryRow(ctx, query, userID).Scan(&n); err != nil {
		return 0, translateError("CountCompletedTasks", err)
	}
	return n, nil
}

func (l *ledgerTx) CompletionTimes(ctx context.Context, userID string, since time.Time) ([]time.Time, error) {
	return completionTimes(ctx, l.tx, userID, since)
}

func (l *ledgerTx) AppendPointsEntry(ctx context.Context, e gamification.PointsEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	query := `
		INSERT INTO points_history (
			id, user_id, household_id, old_points, new_points, delta, reason, task_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := l.tx.Exec(ctx, query,
		e.ID,
		e.UserID,
		e.HouseholdID,
		e.OldPoints,
		e.NewPoints,
		e.Delta,
		string(e.Reason),
		e.TaskID,
		e.CreatedAt,
	)
	return translateError("AppendPointsEntry", err)
}

func (l *ledgerTx) IsMilestoneRecorded(ctx context.Context, userID, key string) (bool, error) {
	return isMilestoneRecorded(ctx, l.tx, userID, key)
}

func (l *ledgerTx) SaveMilestoneRecord(ctx context.Context, rec gamification.MilestoneRecord) error {
	return saveMilestoneRecord(ctx, l.tx, rec)
}

func (l *ledgerTx) ListMilestoneRecords(ctx context.Context, userID string) ([]gamification.MilestoneRecord, error) {
	query := `SELECT user_id, key, awarded_at FROM milestone_records WHERE user_id = $1 ORDER BY awarded_at, key`

	rows, err := l.tx.Query(ctx, query, userID)
	if err != nil {
		return nil, translateError("ListMilestoneRecords", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (gamification.MilestoneRecord, error) {
		var rec gamification.MilestoneRecord
		err := row.Scan(&rec.UserID, &rec.Key, &rec.AwardedAt)
		return rec, err
	})
	return records, translateError("ListMilestoneRecords", err)
}
