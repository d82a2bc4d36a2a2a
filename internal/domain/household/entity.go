package household

import (
	"strings"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Priority - приоритет задачи.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities возвращает все приоритеты в порядке возрастания.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
}

// IsValid проверяет, что приоритет корректен.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// ParsePriority разбирает строку; пустая или неизвестная строка даёт medium.
func ParsePriority(s string) Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return PriorityMedium
	}
	return p
}

// Recurrence - тип повторения задачи.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// Recurrences возвращает все типы повторения.
func Recurrences() []Recurrence {
	return []Recurrence{RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly}
}

// IsValid проверяет, что тип повторения корректен.
func (r Recurrence) IsValid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	default:
		return false
	}
}

// ParseRecurrence разбирает строку; пустая или неизвестная строка даёт none.
func ParseRecurrence(s string) Recurrence {
	r := Recurrence(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return RecurrenceNone
	}
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// HOUSEHOLD
// ══════════════════════════════════════════════════════════════════════════════

// Household - домохозяйство. Его часовой пояс - единственная календарная
// опора для серий и дневных корзин аналитики.
type Household struct {
	ID        string
	Name      string
	Timezone  string
	CreatedAt time.Time
}

// Location возвращает часовой пояс домохозяйства. Пустой или неизвестный
// пояс даёт UTC, чтобы расчёты не смешивали зоны.
func (h *Household) Location() *time.Location {
	if h == nil || h.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ══════════════════════════════════════════════════════════════════════════════
// USER
// ══════════════════════════════════════════════════════════════════════════════

// User - участник домохозяйства.
type User struct {
	// ID - уникальный идентификатор (UUID).
	ID string

	// HouseholdID - домохозяйство пользователя.
	HouseholdID string

	// DisplayName - отображаемое имя.
	DisplayName string

	// Points - текущий баланс очков, всегда >= 0.
	Points shared.Points

	// CurrentStreak - текущая серия дней с выполненными задачами.
	CurrentStreak int

	// BestStreak - лучшая серия за всё время.
	BestStreak int

	// Badges - идентификаторы полученных значков (выводятся из записей вех).
	Badges []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserParams содержит параметры для создания пользователя.
type NewUserParams struct {
	ID          string
	HouseholdID string
	DisplayName string
}

// NewUser создаёт пользователя с нулевым балансом.
func NewUser(params NewUserParams) (*User, error) {
	if !shared.ValidID(params.ID) {
		return nil, shared.ErrInvalidUserID
	}
	if !shared.ValidID(params.HouseholdID) {
		return nil, shared.ErrInvalidHouseholdID
	}
	name := strings.TrimSpace(params.DisplayName)
	if name == "" || len(name) > 100 {
		return nil, shared.NewDomainError("household", "NewUser", shared.ErrInvalidInput, "display name must be 1-100 chars")
	}

	now := time.Now().UTC()
	return &User{
		ID:          params.ID,
		HouseholdID: params.HouseholdID,
		DisplayName: name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// HasBadge проверяет, есть ли у пользователя значок.
func (u *User) HasBadge(id string) bool {
	for _, b := range u.Badges {
		if b == id {
			return true
		}
	}
	return false
}

// RecordStreak обновляет текущую и лучшую серию.
func (u *User) RecordStreak(current int) {
	if current < 0 {
		current = 0
	}
	u.CurrentStreak = current
	if current > u.BestStreak {
		u.BestStreak = current
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TASK
// ══════════════════════════════════════════════════════════════════════════════

// Task - задача по дому.
type Task struct {
	ID             string
	HouseholdID    string
	AssignedUserID string
	Title          string
	PointValue     int
	Priority       Priority
	Recurrence     Recurrence
	DueDate        *time.Time
	CompletedAt    *time.Time
	CompletedBy    string
	IsCompleted    bool
	CreatedAt      time.Time
}

// Complete переводит задачу в состояние "выполнена". Повторное выполнение
// возвращает ErrTaskAlreadyCompleted.
func (t *Task) Complete(userID string, at time.Time) error {
	if t.IsCompleted {
		return shared.ErrTaskAlreadyCompleted
	}
	if !shared.ValidID(userID) {
		return shared.ErrInvalidUserID
	}
	completedAt := at
	t.CompletedAt = &completedAt
	t.CompletedBy = userID
	t.IsCompleted = true
	return nil
}

// CompletedWithin проверяет, что задача выполнена внутри окна.
func (t *Task) CompletedWithin(window shared.TimeRange) bool {
	return t.IsCompleted && t.CompletedAt != nil && window.Contains(*t.CompletedAt)
}

// CompletedOnTime возвращает (вовремя, применимо). Применимо только для
// выполненных задач со сроком.
func (t *Task) CompletedOnTime() (onTime bool, applicable bool) {
	if !t.IsCompleted || t.CompletedAt == nil || t.DueDate == nil {
		return false, false
	}
	return !t.CompletedAt.After(*t.DueDate), true
}

// IsOverdue - задача не выполнена, а её срок раньше asOf.
func (t *Task) IsOverdue(asOf time.Time) bool {
	return !t.IsCompleted && t.DueDate != nil && t.DueDate.Before(asOf)
}

// CompletionDuration возвращает время от создания до выполнения.
// ok=false, если метки отсутствуют или длительность отрицательна.
func (t *Task) CompletionDuration() (time.Duration, bool) {
	if !t.IsCompleted || t.CompletedAt == nil || t.CreatedAt.IsZero() {
		return 0, false
	}
	d := t.CompletedAt.Sub(t.CreatedAt)
	if d < 0 {
		return 0, false
	}
	return d, true
}

// Performer возвращает пользователя, которому засчитывается выполнение.
func (t *Task) Performer() string {
	if t.CompletedBy != "" {
		return t.CompletedBy
	}
	return t.AssignedUserID
}
