package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements household.Store, gamification.MilestoneRepository and
// gamification.LedgerTransactor on PostgreSQL.
type Store struct {
	conn *Connection
}

// NewStore creates a new Store.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

var (
	_ household.Store                  = (*Store)(nil)
	_ gamification.MilestoneRepository = (*Store)(nil)
	_ gamification.LedgerTransactor    = (*Store)(nil)
)

// ─────────────────────────────────────────────────────────────────────────────
// Households
// ─────────────────────────────────────────────────────────────────────────────

// FindHousehold returns a household by ID.
func (s *Store) FindHousehold(ctx context.Context, id string) (*household.Household, error) {
	return findHousehold(ctx, s.conn, id)
}

// SaveHousehold creates or updates a household.
func (s *Store) SaveHousehold(ctx context.Context, h *household.Household) error {
	query := `
		INSERT INTO households (id, name, timezone, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			timezone = EXCLUDED.timezone
	`
	createdAt := h.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.conn.Exec(ctx, query, h.ID, h.Name, h.Timezone, createdAt)
	return translateError("SaveHousehold", err)
}

// ListActiveHouseholds returns households with tasks created or completed since.
func (s *Store) ListActiveHouseholds(ctx context.Context, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT household_id
		FROM tasks
		WHERE created_at >= $1 OR (is_completed AND completed_at >= $1)
		ORDER BY household_id
	`
	rows, err := s.conn.Query(ctx, query, since)
	if err != nil {
		return nil, translateError("ListActiveHouseholds", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, translateError("ListActiveHouseholds", err)
	}
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Users
// ─────────────────────────────────────────────────────────────────────────────

// FindUser returns a user with badges derived from milestone records.
func (s *Store) FindUser(ctx context.Context, id string) (*household.User, error) {
	return findUser(ctx, s.conn, id, false)
}

// SaveUser creates or updates a user.
func (s *Store) SaveUser(ctx context.Context, u *household.User) error {
	return saveUser(ctx, s.conn, u)
}

// ListByHousehold returns all members of a household ordered by name.
func (s *Store) ListByHousehold(ctx context.Context, householdID string) ([]*household.User, error) {
	query := userSelect + ` WHERE u.household_id = $1 ORDER BY u.display_name, u.id`

	rows, err := s.conn.Query(ctx, query, householdID)
	if err != nil {
		return nil, translateError("ListByHousehold", err)
	}
	defer rows.Close()

	var users []*household.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, translateError("ListByHousehold", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("ListByHousehold", err)
	}
	return users, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Tasks
// ─────────────────────────────────────────────────────────────────────────────

// FindTask returns a task by ID.
func (s *Store) FindTask(ctx context.Context, id string) (*household.Task, error) {
	row := s.conn.QueryRow(ctx, taskSelect+` WHERE id = $1`, id)
	t, err := scanTask(row)
	if IsNoRows(err) {
		return nil, shared.ErrTaskNotFound
	}
	if err != nil {
		return nil, translateError("FindTask", err)
	}
	return t, nil
}

// SaveTask creates or updates a task.
func (s *Store) SaveTask(ctx context.Context, t *household.Task) error {
	query := `
		INSERT INTO tasks (
			id, household_id, assigned_user_id, title, point_value, priority,
			recurrence, due_date, completed_at, completed_by, is_completed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			assigned_user_id = EXCLUDED.assigned_user_id,
			title = EXCLUDED.title,
			point_value = EXCLUDED.point_value,
			priority = EXCLUDED.priority,
			recurrence = EXCLUDED.recurrence,
			due_date = EXCLUDED.due_date,
			completed_at = EXCLUDED.completed_at,
			completed_by = EXCLUDED.completed_by,
			is_completed = EXCLUDED.is_completed
	`
	_, err := s.conn.Exec(ctx, query,
		t.ID,
		t.HouseholdID,
		t.AssignedUserID,
		t.Title,
		t.PointValue,
		string(t.Priority),
		string(t.Recurrence),
		t.DueDate,
		t.CompletedAt,
		t.CompletedBy,
		t.IsCompleted,
		t.CreatedAt,
	)
	return translateError("SaveTask", err)
}

// FindTasks returns tasks of a household created or completed within the window.
func (s *Store) FindTasks(ctx context.Context, householdID string, window shared.TimeRange, filter household.TaskFilter) ([]*household.Task, error) {
	query, args := buildTaskQuery(householdID, window, filter)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, translateError("FindTasks", err)
	}
	defer rows.Close()

	var tasks []*household.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, translateError("FindTasks", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("FindTasks", err)
	}
	return tasks, nil
}

// CompletionTimes returns completion instants of tasks performed by the user.
func (s *Store) CompletionTimes(ctx context.Context, userID string, since time.Time) ([]time.Time, error) {
	return completionTimes(ctx, s.conn, userID, since)
}

// ─────────────────────────────────────────────────────────────────────────────
// Milestones
// ─────────────────────────────────────────────────────────────────────────────

// IsMilestoneRecorded reports whether the user already has the milestone.
func (s *Store) IsMilestoneRecorded(ctx context.Context, userID, key string) (bool, error) {
	return isMilestoneRecorded(ctx, s.conn, userID, key)
}

// SaveMilestoneRecord inserts an idempotency record.
func (s *Store) SaveMilestoneRecord(ctx context.Context, rec gamification.MilestoneRecord) error {
	return saveMilestoneRecord(ctx, s.conn, rec)
}

// ListMilestoneRecords returns the user's records in award order.
func (s *Store) ListMilestoneRecords(ctx context.Context, userID string) ([]gamification.MilestoneRecord, error) {
	query := `
		SELECT user_id, key, awarded_at
		FROM milestone_records
		WHERE user_id = $1
		ORDER BY awarded_at, key
	`
	rows, err := s.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, translateError("ListMilestoneRecords", err)
	}
	defer rows.Close()

	var records []gamification.MilestoneRecord
	for rows.Next() {
		var rec gamification.MilestoneRecord
		if err := rows.Scan(&rec.UserID, &rec.Key, &rec.AwardedAt); err != nil {
			return nil, translateError("ListMilestoneRecords", err)
		}
		records = append(records, rec)
	}
	return records, translateError("ListMilestoneRecords", rows.Err())
}

// ══════════════════════════════════════════════════════════════════════════════
// SHARED QUERIES (pool or transaction)
// ══════════════════════════════════════════════════════════════════════════════

const userSelect = `
	SELECT u.id, u.household_id, u.display_name, u.points, u.current_streak,
		   u.best_streak, u.created_at, u.updated_at,
		   COALESCE((
			   SELECT array_agg(substr(m.key, 7) ORDER BY m.awarded_at, m.key)
			   FROM milestone_records m
			   WHERE m.user_id = u.id AND m.key LIKE 'badge:%'
		   ), '{}') AS badges
	FROM users u`

const taskSelect = `
	SELECT id, household_id, assigned_user_id, title, point_value, priority,
		   recurrence, due_date, completed_at, completed_by, is_completed, created_at
	FROM tasks`

// performerExpr is the user a completed task is credited to.
const performerExpr = `CASE WHEN completed_by <> '' THEN completed_by ELSE assigned_user_id END`

func findHousehold(ctx context.Context, q Querier, id string) (*household.Household, error) {
	query := `SELECT id, name, timezone, created_at FROM households WHERE id = $1`

	var h household.Household
	err := q.QueryRow(ctx, query, id).Scan(&h.ID, &h.Name, &h.Timezone, &h.CreatedAt)
	if IsNoRows(err) {
		return nil, shared.ErrHouseholdNotFound
	}
	if err != nil {
		return nil, translateError("FindHousehold", err)
	}
	return &h, nil
}

func findUser(ctx context.Context, q Querier, id string, forUpdate bool) (*household.User, error) {
	query := userSelect + ` WHERE u.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF u`
	}

	u, err := scanUser(q.QueryRow(ctx, query, id))
	if IsNoRows(err) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, translateError("FindUser", err)
	}
	return u, nil
}

func saveUser(ctx context.Context, q Querier, u *household.User) error {
	query := `
		INSERT INTO users (
			id, household_id, display_name, points, current_streak, best_streak,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			points = EXCLUDED.points,
			current_streak = EXCLUDED.current_streak,
			best_streak = EXCLUDED.best_streak
	`
	_, err := q.Exec(ctx, query,
		u.ID,
		u.HouseholdID,
		u.DisplayName,
		u.Points.Int(),
		u.CurrentStreak,
		u.BestStreak,
		u.CreatedAt,
		u.UpdatedAt,
	)
	return translateError("SaveUser", err)
}

func completionTimes(ctx context.Context, q Querier, userID string, since time.Time) ([]time.Time, error) {
	query := `
		SELECT completed_at
		FROM tasks
		WHERE is_completed AND completed_at >= $2 AND ` + performerExpr + ` = $1
		ORDER BY completed_at
	`
	rows, err := q.Query(ctx, query, userID, since)
	if err != nil {
		return nil, translateError("CompletionTimes", err)
	}
	times, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, translateError("CompletionTimes", err)
	}
	return times, nil
}

func isMilestoneRecorded(ctx context.Context, q Querier, userID, key string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM milestone_records WHERE user_id = $1 AND key = $2)`

	var exists bool
	if err := q.QueryRow(ctx, query, userID, key).Scan(&exists); err != nil {
		return false, translateError("IsMilestoneRecorded", err)
	}
	return exists, nil
}

// saveMilestoneRecord uses ON CONFLICT DO NOTHING: a unique violation would
// abort the surrounding transaction, a zero row count does not.
func saveMilestoneRecord(ctx context.Context, q Querier, rec gamification.MilestoneRecord) error {
	query := `
		INSERT INTO milestone_records (user_id, key, awarded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, key) DO NOTHING
	`
	tag, err := q.Exec(ctx, query, rec.UserID, rec.Key, rec.AwardedAt)
	if err != nil {
		return translateError("SaveMilestoneRecord", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrMilestoneRecorded
	}
	return nil
}

// buildTaskQuery assembles the window query with optional filters.
func buildTaskQuery(householdID string, window shared.TimeRange, filter household.TaskFilter) (string, []any) {
	var b strings.Builder
	args := []any{householdID, window.From, window.To}

	b.WriteString(taskSelect)
	b.WriteString(`
	WHERE household_id = $1
	  AND ((created_at >= $2 AND created_at < $3)
	    OR (is_completed AND completed_at >= $2 AND completed_at < $3))`)

	if filter.AssignedUserID != "" {
		args = append(args, filter.AssignedUserID)
		fmt.Fprintf(&b, "\n\t  AND (assigned_user_id = $%d OR completed_by = $%d)", len(args), len(args))
	}
	if filter.CompletedOnly {
		b.WriteString("\n\t  AND is_completed")
	}
	b.WriteString("\n\tORDER BY created_at, id")

	return b.String(), args
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanUser(row pgx.Row) (*household.User, error) {
	var (
		u      household.User
		points int
	)
	err := row.Scan(
		&u.ID,
		&u.HouseholdID,
		&u.DisplayName,
		&points,
		&u.CurrentStreak,
		&u.BestStreak,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.Badges,
	)
	if err != nil {
		return nil, err
	}
	u.Points = shared.Points(points)
	return &u, nil
}

func scanTask(row pgx.Row) (*household.Task, error) {
	var (
		t          household.Task
		priority   string
		recurrence string
	)
	err := row.Scan(
		&t.ID,
		&t.HouseholdID,
		&t.AssignedUserID,
		&t.Title,
		&t.PointValue,
		&priority,
		&recurrence,
		&t.DueDate,
		&t.CompletedAt,
		&t.CompletedBy,
		&t.IsCompleted,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Priority = household.ParsePriority(priority)
	t.Recurrence = household.ParseRecurrence(recurrence)
	return &t, nil
}
