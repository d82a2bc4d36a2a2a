// Package memory implements the Roomies Hub stores in process memory.
// It is used in development (no Postgres) and as the test double of the
// ledger, with fault injection for store failures.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/pkg/keylock"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store keeps households, users, tasks, milestone records and the points
// history in maps. Ledger transactions are staged and applied on commit, so a
// failing transaction leaves no trace.
type Store struct {
	mu         sync.RWMutex
	households map[string]household.Household
	users      map[string]household.User
	tasks      map[string]household.Task
	records    map[string]map[string]time.Time // user -> key -> awardedAt
	history    []gamification.PointsEntry

	// rows holds the row locks of ledger transactions.
	rows *keylock.KeyLock

	faults *faults
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		households: make(map[string]household.Household),
		users:      make(map[string]household.User),
		tasks:      make(map[string]household.Task),
		records:    make(map[string]map[string]time.Time),
		rows:       keylock.New(),
		faults:     newFaults(),
	}
}

var (
	_ household.Store                  = (*Store)(nil)
	_ gamification.MilestoneRepository = (*Store)(nil)
	_ gamification.LedgerTransactor    = (*Store)(nil)
)

// ─────────────────────────────────────────────────────────────────────────────
// Households
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) FindHousehold(ctx context.Context, id string) (*household.Household, error) {
	if err := s.faults.check(ctx, OpFindHousehold); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.households[id]
	if !ok {
		return nil, shared.ErrHouseholdNotFound
	}
	return &h, nil
}

func (s *Store) SaveHousehold(ctx context.Context, h *household.Household) error {
	if err := s.faults.check(ctx, OpSaveHousehold); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *h
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.households[h.ID] = stored
	return nil
}

func (s *Store) ListActiveHouseholds(ctx context.Context, since time.Time) ([]string, error) {
	if err := s.faults.check(ctx, OpListActiveHouseholds); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, t := range s.tasks {
		active := !t.CreatedAt.Before(since) ||
			(t.IsCompleted && t.CompletedAt != nil && !t.CompletedAt.Before(since))
		if active {
			seen[t.HouseholdID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Users
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) FindUser(ctx context.Context, id string) (*household.User, error) {
	if err := s.faults.check(ctx, OpFindUser); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return s.withBadges(u, s.records[id]), nil
}

func (s *Store) SaveUser(ctx context.Context, u *household.User) error {
	if err := s.faults.check(ctx, OpSaveUser); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[u.ID] = cloneUser(*u)
	return nil
}

func (s *Store) ListByHousehold(ctx context.Context, householdID string) ([]*household.User, error) {
	if err := s.faults.check(ctx, OpListByHousehold); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []*household.User
	for _, u := range s.users {
		if u.HouseholdID == householdID {
			users = append(users, s.withBadges(u, s.records[u.ID]))
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].DisplayName != users[j].DisplayName {
			return users[i].DisplayName < users[j].DisplayName
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Tasks
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) FindTask(ctx context.Context, id string) (*household.Task, error) {
	if err := s.faults.check(ctx, OpFindTask); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, shared.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (s *Store) SaveTask(ctx context.Context, t *household.Task) error {
	if err := s.faults.check(ctx, OpSaveTask); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[t.ID] = *cloneTask(*t)
	return nil
}

func (s *Store) FindTasks(ctx context.Context, householdID string, window shared.TimeRange, filter household.TaskFilter) ([]*household.Task, error) {
	if err := s.faults.check(ctx, OpFindTasks); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []*household.Task
	for _, t := range s.tasks {
		if t.HouseholdID != householdID {
			continue
		}
		if !window.Contains(t.CreatedAt) && !t.CompletedWithin(window) {
			continue
		}
		if filter.AssignedUserID != "" && t.AssignedUserID != filter.AssignedUserID && t.CompletedBy != filter.AssignedUserID {
			continue
		}
		if filter.CompletedOnly && !t.IsCompleted {
			continue
		}
		tasks = append(tasks, cloneTask(t))
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

func (s *Store) CompletionTimes(ctx context.Context, userID string, since time.Time) ([]time.Time, error) {
	if err := s.faults.check(ctx, OpCompletionTimes); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return completionTimes(s.tasks, nil, userID, since), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Milestones
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) IsMilestoneRecorded(ctx context.Context, userID, key string) (bool, error) {
	if err := s.faults.check(ctx, OpIsMilestoneRecorded); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[userID][key]
	return ok, nil
}

func (s *Store) SaveMilestoneRecord(ctx context.Context, rec gamification.MilestoneRecord) error {
	if err := s.faults.check(ctx, OpSaveMilestoneRecord); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.UserID][rec.Key]; ok {
		return shared.ErrMilestoneRecorded
	}
	if s.records[rec.UserID] == nil {
		s.records[rec.UserID] = make(map[string]time.Time)
	}
	s.records[rec.UserID][rec.Key] = rec.AwardedAt
	return nil
}

func (s *Store) ListMilestoneRecords(ctx context.Context, userID string) ([]gamification.MilestoneRecord, error) {
	if err := s.faults.check(ctx, OpListMilestoneRecords); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedRecords(userID, s.records[userID], nil), nil
}

// PointsHistory returns a copy of the user's history rows in insertion order.
func (s *Store) PointsHistory(userID string) []gamification.PointsEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []gamification.PointsEntry
	for _, e := range s.history {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) withBadges(u household.User, records map[string]time.Time) *household.User {
	out := cloneUser(u)
	out.Badges = nil
	for _, rec := range sortedRecords(u.ID, records, nil) {
		if id, ok := gamification.BadgeIDFromKey(rec.Key); ok {
			out.Badges = append(out.Badges, id)
		}
	}
	return &out
}

// sortedRecords merges base and staged records in award order.
func sortedRecords(userID string, base, staged map[string]time.Time) []gamification.MilestoneRecord {
	out := make([]gamification.MilestoneRecord, 0, len(base)+len(staged))
	for key, at := range base {
		out = append(out, gamification.MilestoneRecord{UserID: userID, Key: key, AwardedAt: at})
	}
	for key, at := range staged {
		if _, dup := base[key]; !dup {
			out = append(out, gamification.MilestoneRecord{UserID: userID, Key: key, AwardedAt: at})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AwardedAt.Equal(out[j].AwardedAt) {
			return out[i].AwardedAt.Before(out[j].AwardedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// completionTimes collects completions credited to userID, staged tasks
// taking precedence over committed ones.
func completionTimes(base, staged map[string]household.Task, userID string, since time.Time) []time.Time {
	var out []time.Time
	visit := func(t household.Task) {
		if t.IsCompleted && t.CompletedAt != nil && t.Performer() == userID && !t.CompletedAt.Before(since) {
			out = append(out, *t.CompletedAt)
		}
	}
	for id, t := range base {
		if _, overridden := staged[id]; !overridden {
			visit(t)
		}
	}
	for _, t := range staged {
		visit(t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func cloneUser(u household.User) household.User {
	u.Badges = append([]string(nil), u.Badges...)
	return u
}

func cloneTask(t household.Task) *household.Task {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		t.CompletedAt = &c
	}
	return &t
}

func newEntryID(e gamification.PointsEntry) string {
	if strings.TrimSpace(e.ID) != "" {
		return e.ID
	}
	return uuid.NewString()
}
