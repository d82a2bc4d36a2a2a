package gamification

import (
	"context"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/household"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// MilestoneRecord - запись идемпотентности: пара (пользователь, ключ вехи).
// Создаётся при первом пересечении порога и больше не меняется.
type MilestoneRecord struct {
	UserID    string
	Key       string
	AwardedAt time.Time
}

// PointsEntry - строка истории баланса, пишется в той же транзакции, что и баланс.
type PointsEntry struct {
	ID          string
	UserID      string
	HouseholdID string
	OldPoints   int
	NewPoints   int
	Delta       int
	Reason      Reason
	TaskID      string
	CreatedAt   time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// MilestoneRepository хранит записи идемпотентности вех и значков.
type MilestoneRepository interface {
	// IsMilestoneRecorded проверяет, записана ли веха для пользователя.
	IsMilestoneRecorded(ctx context.Context, userID, key string) (bool, error)

	// SaveMilestoneRecord вставляет запись. Повторная вставка возвращает
	// ошибку вида ErrAlreadyExists (ErrMilestoneRecorded).
	SaveMilestoneRecord(ctx context.Context, rec MilestoneRecord) error

	// ListMilestoneRecords возвращает все записи пользователя.
	ListMilestoneRecords(ctx context.Context, userID string) ([]MilestoneRecord, error)
}

// LedgerTx - единица работы начисления. Все чтения и записи внутри неё
// либо фиксируются вместе, либо откатываются вместе.
type LedgerTx interface {
	MilestoneRepository

	// FindHousehold возвращает домохозяйство (нужна его зона для серии).
	FindHousehold(ctx context.Context, id string) (*household.Household, error)

	// FindUserForUpdate загружает пользователя и блокирует его строку до
	// конца транзакции.
	FindUserForUpdate(ctx context.Context, id string) (*household.User, error)

	// SaveUser сохраняет баланс, серию и значки пользователя.
	SaveUser(ctx context.Context, user *household.User) error

	// MarkTaskCompleted переводит задачу в состояние "выполнена" ровно один раз.
	// Возвращает ErrTaskAlreadyCompleted при повторе и ErrTaskNotFound,
	// если задачи нет.
	MarkTaskCompleted(ctx context.Context, taskID, userID string, at time.Time) (*household.Task, error)

	// CountCompletedTasks возвращает число задач, выполненных пользователем.
	CountCompletedTasks(ctx context.Context, userID string) (int, error)

	// CompletionTimes возвращает моменты выполнения задач пользователем с since.
	CompletionTimes(ctx context.Context, userID string, since time.Time) ([]time.Time, error)

	// AppendPointsEntry добавляет строку истории баланса.
	AppendPointsEntry(ctx context.Context, entry PointsEntry) error
}

// LedgerTransactor открывает транзакцию начисления. Если fn возвращает
// ошибку, всё откатывается.
type LedgerTransactor interface {
	InLedgerTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}
