package memory

import (
	"context"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

// InLedgerTx runs fn as one transaction. Writes are staged and applied only
// when fn and the commit hook succeed. Rows a transaction reads for update or
// writes stay locked until it ends, so transactions on different users run
// concurrently while those on the same user or task queue up.
func (s *Store) InLedgerTx(ctx context.Context, fn func(ctx context.Context, tx gamification.LedgerTx) error) error {
	if err := s.faults.check(ctx, OpBeginTx); err != nil {
		return err
	}

	tx := &ledgerTx{
		s:       s,
		locked:  make(map[string]func()),
		users:   make(map[string]household.User),
		tasks:   make(map[string]household.Task),
		records: make(map[string]map[string]time.Time),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := s.faults.check(ctx, OpCommit); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range tx.users {
		u.Badges = nil
		s.users[id] = u
	}
	for id, t := range tx.tasks {
		s.tasks[id] = t
	}
	for userID, recs := range tx.records {
		if s.records[userID] == nil {
			s.records[userID] = make(map[string]time.Time)
		}
		for key, at := range recs {
			s.records[userID][key] = at
		}
	}
	s.history = append(s.history, tx.history...)
	return nil
}

// ledgerTx reads through staged state to the store. Store maps are read under
// the store's read lock; row locks come from Store.rows.
type ledgerTx struct {
	s       *Store
	locked  map[string]func()
	users   map[string]household.User
	tasks   map[string]household.Task
	records map[string]map[string]time.Time
	history []gamification.PointsEntry
}

var _ gamification.LedgerTx = (*ledgerTx)(nil)

func userRow(id string) string { return "user:" + id }
func taskRow(id string) string { return "task:" + id }

// lock takes the row lock once per transaction.
func (tx *ledgerTx) lock(ctx context.Context, row string) error {
	if _, ok := tx.locked[row]; ok {
		return nil
	}
	unlock, err := tx.s.rows.Lock(ctx, row)
	if err != nil {
		return err
	}
	tx.locked[row] = unlock
	return nil
}

func (tx *ledgerTx) release() {
	for row, unlock := range tx.locked {
		unlock()
		delete(tx.locked, row)
	}
}

func (tx *ledgerTx) FindHousehold(ctx context.Context, id string) (*household.Household, error) {
	if err := tx.s.faults.check(ctx, OpFindHousehold); err != nil {
		return nil, err
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	h, ok := tx.s.households[id]
	if !ok {
		return nil, shared.ErrHouseholdNotFound
	}
	return &h, nil
}

func (tx *ledgerTx) FindUserForUpdate(ctx context.Context, id string) (*household.User, error) {
	if err := tx.s.faults.check(ctx, OpFindUserForUpdate); err != nil {
		return nil, err
	}
	if err := tx.lock(ctx, userRow(id)); err != nil {
		return nil, err
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	u, ok := tx.users[id]
	if !ok {
		if u, ok = tx.s.users[id]; !ok {
			return nil, shared.ErrUserNotFound
		}
	}
	out := cloneUser(u)
	out.Badges = nil
	for _, rec := range sortedRecords(id, tx.s.records[id], tx.records[id]) {
		if badge, ok := gamification.BadgeIDFromKey(rec.Key); ok {
			out.Badges = append(out.Badges, badge)
		}
	}
	return &out, nil
}

func (tx *ledgerTx) SaveUser(ctx context.Context, u *household.User) error {
	if err := tx.s.faults.check(ctx, OpSaveUser); err != nil {
		return err
	}
	if err := tx.lock(ctx, userRow(u.ID)); err != nil {
		return err
	}
	tx.users[u.ID] = cloneUser(*u)
	return nil
}

func (tx *ledgerTx) MarkTaskCompleted(ctx context.Context, taskID, userID string, at time.Time) (*household.Task, error) {
	if err := tx.s.faults.check(ctx, OpMarkTaskCompleted); err != nil {
		return nil, err
	}
	if err := tx.lock(ctx, taskRow(taskID)); err != nil {
		return nil, err
	}
	t, ok := tx.tasks[taskID]
	if !ok {
		tx.s.mu.RLock()
		t, ok = tx.s.tasks[taskID]
		tx.s.mu.RUnlock()
		if !ok {
			return nil, shared.ErrTaskNotFound
		}
	}
	task := cloneTask(t)
	if err := task.Complete(userID, at); err != nil {
		return nil, err
	}
	tx.tasks[taskID] = *task
	return cloneTask(*task), nil
}

func (tx *ledgerTx) CountCompletedTasks(ctx context.Context, userID string) (int, error) {
	if err := tx.s.faults.check(ctx, OpCountCompletedTasks); err != nil {
		return 0, err
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return len(completionTimes(tx.s.tasks, tx.tasks, userID, time.Time{})), nil
}

func (tx *ledgerTx) CompletionTimes(ctx context.Context, userID string, since time.Time) ([]time.Time, error) {
	if err := tx.s.faults.check(ctx, OpCompletionTimes); err != nil {
		return nil, err
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return completionTimes(tx.s.tasks, tx.tasks, userID, since), nil
}

func (tx *ledgerTx) AppendPointsEntry(ctx context.Context, e gamification.PointsEntry) error {
	if err := tx.s.faults.check(ctx, OpAppendPointsEntry); err != nil {
		return err
	}
	e.ID = newEntryID(e)
	tx.history = append(tx.history, e)
	return nil
}

func (tx *ledgerTx) IsMilestoneRecorded(ctx context.Context, userID, key string) (bool, error) {
	if err := tx.s.faults.check(ctx, OpIsMilestoneRecorded); err != nil {
		return false, err
	}
	return tx.recorded(userID, key), nil
}

func (tx *ledgerTx) SaveMilestoneRecord(ctx context.Context, rec gamification.MilestoneRecord) error {
	if err := tx.s.faults.check(ctx, OpSaveMilestoneRecord); err != nil {
		return err
	}
	if err := tx.lock(ctx, userRow(rec.UserID)); err != nil {
		return err
	}
	if tx.recorded(rec.UserID, rec.Key) {
		return shared.ErrMilestoneRecorded
	}
	if tx.records[rec.UserID] == nil {
		tx.records[rec.UserID] = make(map[string]time.Time)
	}
	tx.records[rec.UserID][rec.Key] = rec.AwardedAt
	return nil
}

func (tx *ledgerTx) ListMilestoneRecords(ctx context.Context, userID string) ([]gamification.MilestoneRecord, error) {
	if err := tx.s.faults.check(ctx, OpListMilestoneRecords); err != nil {
		return nil, err
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return sortedRecords(userID, tx.s.records[userID], tx.records[userID]), nil
}

func (tx *ledgerTx) recorded(userID, key string) bool {
	tx.s.mu.RLock()
	_, ok := tx.s.records[userID][key]
	tx.s.mu.RUnlock()
	if ok {
		return true
	}
	_, ok = tx.records[userID][key]
	return ok
}
