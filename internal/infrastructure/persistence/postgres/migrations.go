package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// migrationLockKey serializes schema changes of concurrently starting
// server and worker processes.
const migrationLockKey = 0x526f6f6d

// Migration is one forward schema step.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded schema in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

// Migrate applies all pending migrations in a single transaction guarded by
// an advisory lock. Either every pending step lands or none does.
func (m *Migrator) Migrate(ctx context.Context) error {
	err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		if err := ensureMigrationTable(ctx, tx); err != nil {
			return err
		}
		applied, err := appliedMigrations(ctx, tx)
		if err != nil {
			return err
		}

		for _, mig := range m.migrations {
			if _, ok := applied[mig.Version]; ok {
				continue
			}
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("version %d (%s): %w", mig.Version, mig.Name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				mig.Version, mig.Name,
			); err != nil {
				return fmt.Errorf("record version %d: %w", mig.Version, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	return nil
}

// Status lists the embedded migrations with their applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := ensureMigrationTable(ctx, m.conn); err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, m.conn)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

func ensureMigrationTable(ctx context.Context, q Querier) error {
	_, err := q.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, q Querier) (map[int]time.Time, error) {
	rows, err := q.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// GetMigrations returns the embedded schema, ascending by version.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_households", UpSQL: migration001Up},
		{Version: 2, Name: "create_gamification", UpSQL: migration002Up},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE HOUSEHOLDS, USERS, TASKS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create household tables
-- Version: 001

CREATE TABLE IF NOT EXISTS households (
    id VARCHAR(128) PRIMARY KEY,
    name VARCHAR(200) NOT NULL DEFAULT '',
    timezone VARCHAR(64) NOT NULL DEFAULT 'UTC',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(128) PRIMARY KEY,
    household_id VARCHAR(128) NOT NULL REFERENCES households(id) ON DELETE CASCADE,
    display_name VARCHAR(100) NOT NULL,
    points INTEGER NOT NULL DEFAULT 0,
    current_streak INTEGER NOT NULL DEFAULT 0,
    best_streak INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- Balance is clamped at zero by the ledger; the constraint backs it up
    CONSTRAINT valid_points CHECK (points >= 0),
    CONSTRAINT valid_streak CHECK (current_streak >= 0 AND best_streak >= current_streak)
);

CREATE INDEX IF NOT EXISTS idx_users_household ON users(household_id);

CREATE TABLE IF NOT EXISTS tasks (
    id VARCHAR(128) PRIMARY KEY,
    household_id VARCHAR(128) NOT NULL REFERENCES households(id) ON DELETE CASCADE,
    assigned_user_id VARCHAR(128) NOT NULL DEFAULT '',
    title VARCHAR(300) NOT NULL DEFAULT '',
    point_value INTEGER NOT NULL DEFAULT 0,
    priority VARCHAR(10) NOT NULL DEFAULT 'medium',
    recurrence VARCHAR(10) NOT NULL DEFAULT 'none',
    due_date TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    completed_by VARCHAR(128) NOT NULL DEFAULT '',
    is_completed BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_priority CHECK (priority IN ('low', 'medium', 'high', 'urgent')),
    CONSTRAINT valid_recurrence CHECK (recurrence IN ('none', 'daily', 'weekly', 'monthly')),
    CONSTRAINT completed_has_time CHECK (NOT is_completed OR completed_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_tasks_household_created ON tasks(household_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_household_completed ON tasks(household_id, completed_at) WHERE is_completed;
CREATE INDEX IF NOT EXISTS idx_tasks_completed_by ON tasks(completed_by, completed_at) WHERE is_completed;
CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_user_id) WHERE assigned_user_id <> '';

-- Updated_at trigger function for automatic timestamp updates
CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS update_users_updated_at ON users;
CREATE TRIGGER update_users_updated_at
    BEFORE UPDATE ON users
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE GAMIFICATION
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create milestone records and points history
-- Version: 002

-- Idempotency records: one row per (user, milestone key), insert-only
CREATE TABLE IF NOT EXISTS milestone_records (
    user_id VARCHAR(128) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    key VARCHAR(64) NOT NULL,
    awarded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, key)
);

CREATE INDEX IF NOT EXISTS idx_milestone_records_awarded ON milestone_records(user_id, awarded_at);

-- Points history: one row per applied mutation
CREATE TABLE IF NOT EXISTS points_history (
    id UUID PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    household_id VARCHAR(128) NOT NULL,
    old_points INTEGER NOT NULL,
    new_points INTEGER NOT NULL,
    delta INTEGER NOT NULL,
    reason VARCHAR(30) NOT NULL,
    task_id VARCHAR(128) NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_new_points CHECK (new_points >= 0)
);

CREATE INDEX IF NOT EXISTS idx_points_history_user_date ON points_history(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_points_history_household_date ON points_history(household_id, created_at DESC);
`
