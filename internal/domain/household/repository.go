package household

import (
	"context"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт хранилища. Реализации находятся в infrastructure/persistence
// (postgres и memory).
// ══════════════════════════════════════════════════════════════════════════════

// TaskFilter сужает выборку задач.
type TaskFilter struct {
	// AssignedUserID - только задачи, назначенные пользователю или выполненные им.
	AssignedUserID string

	// CompletedOnly - только выполненные задачи.
	CompletedOnly bool
}

// UserRepository - операции с пользователями.
type UserRepository interface {
	// FindUser возвращает пользователя по ID.
	// Возвращает ErrUserNotFound, если пользователь не найден.
	FindUser(ctx context.Context, id string) (*User, error)

	// SaveUser создаёт или обновляет пользователя.
	SaveUser(ctx context.Context, user *User) error

	// ListByHousehold возвращает всех участников домохозяйства.
	ListByHousehold(ctx context.Context, householdID string) ([]*User, error)
}

// TaskRepository - операции с задачами.
type TaskRepository interface {
	// FindTask возвращает задачу по ID.
	// Возвращает ErrTaskNotFound, если задача не найдена.
	FindTask(ctx context.Context, id string) (*Task, error)

	// SaveTask создаёт или обновляет задачу. Используется потоком
	// управления задачами и импортом данных.
	SaveTask(ctx context.Context, task *Task) error

	// FindTasks возвращает задачи домохозяйства, созданные или выполненные
	// внутри окна.
	FindTasks(ctx context.Context, householdID string, window shared.TimeRange, filter TaskFilter) ([]*Task, error)

	// CompletionTimes возвращает моменты выполнения задач пользователем
	// начиная с since.
	CompletionTimes(ctx context.Context, userID string, since time.Time) ([]time.Time, error)
}

// HouseholdRepository - операции с домохозяйствами.
type HouseholdRepository interface {
	// FindHousehold возвращает домохозяйство по ID.
	// Возвращает ErrHouseholdNotFound, если оно не найдено.
	FindHousehold(ctx context.Context, id string) (*Household, error)

	// SaveHousehold создаёт или обновляет домохозяйство.
	SaveHousehold(ctx context.Context, h *Household) error

	// ListActiveHouseholds возвращает ID домохозяйств, в которых были
	// созданы или выполнены задачи начиная с since.
	ListActiveHouseholds(ctx context.Context, since time.Time) ([]string, error)
}

// Store объединяет все репозитории для чтения аналитики.
type Store interface {
	UserRepository
	TaskRepository
	HouseholdRepository
}
