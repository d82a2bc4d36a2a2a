package gamification

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEGENDARY MILESTONES (Пороговые вехи)
// ══════════════════════════════════════════════════════════════════════════════

// Milestone - порог баланса, пересечение которого празднуется один раз.
type Milestone struct {
	Threshold int    `json:"threshold"`
	Name      string `json:"name"`
	Icon      string `json:"icon"`
}

// Key возвращает ключ записи идемпотентности.
func (m Milestone) Key() string {
	return "legendary:" + strconv.Itoa(m.Threshold)
}

// DefaultMilestones возвращает таблицу легендарных вех по возрастанию порога.
func DefaultMilestones() []Milestone {
	return []Milestone{
		{250, "Rising Star", "⭐"},
		{500, "Household Hero", "🦸"},
		{1000, "Chore Champion", "🏆"},
		{2500, "Legend of the House", "👑"},
		{5000, "Mythic Tidier", "🐉"},
		{10000, "Immortal Roomie", "💎"},
	}
}

// Crossed возвращает вехи с oldPoints < t <= newPoints по возрастанию.
func Crossed(table []Milestone, oldPoints, newPoints int) []Milestone {
	var crossed []Milestone
	for _, m := range table {
		if oldPoints < m.Threshold && m.Threshold <= newPoints {
			crossed = append(crossed, m)
		}
	}
	return crossed
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES (Значки)
// ══════════════════════════════════════════════════════════════════════════════

// ThresholdKind - счётчик, по которому проверяется значок.
type ThresholdKind string

const (
	ThresholdPoints         ThresholdKind = "points"
	ThresholdTasksCompleted ThresholdKind = "tasksCompleted"
	ThresholdStreak         ThresholdKind = "streak"
)

// Badge - определение значка (справочные данные).
type Badge struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Icon        string        `json:"icon"`
	Kind        ThresholdKind `json:"threshold_kind"`
	Threshold   int           `json:"threshold_value"`
}

// Key возвращает ключ записи идемпотентности.
func (b Badge) Key() string {
	return "badge:" + b.ID
}

// Counters - текущие значения счётчиков пользователя.
type Counters struct {
	Points         int
	TasksCompleted int
	Streak         int
}

// Met проверяет, выполнено ли условие значка.
func (b Badge) Met(c Counters) bool {
	switch b.Kind {
	case ThresholdPoints:
		return c.Points >= b.Threshold
	case ThresholdTasksCompleted:
		return c.TasksCompleted >= b.Threshold
	case ThresholdStreak:
		return c.Streak >= b.Threshold
	default:
		return false
	}
}

// DefaultBadges возвращает таблицу значков по умолчанию.
func DefaultBadges() []Badge {
	return []Badge{
		{"first_task", "First Step", "Completed the first task", "🎯", ThresholdTasksCompleted, 1},
		{"tasks_10", "Busy Bee", "Completed 10 tasks", "🐝", ThresholdTasksCompleted, 10},
		{"tasks_50", "Clean Machine", "Completed 50 tasks", "🧹", ThresholdTasksCompleted, 50},
		{"tasks_100", "Centurion", "Completed 100 tasks", "💯", ThresholdTasksCompleted, 100},
		{"points_100", "Pocket Change", "Earned 100 points", "🪙", ThresholdPoints, 100},
		{"points_1000", "Treasure Chest", "Earned 1000 points", "💰", ThresholdPoints, 1000},
		{"streak_7", "Week on Fire", "7 days in a row", "🔥", ThresholdStreak, 7},
		{"streak_30", "Iron Will", "30 days in a row", "💪", ThresholdStreak, 30},
	}
}

// BadgeIDFromKey извлекает ID значка из ключа записи.
func BadgeIDFromKey(key string) (string, bool) {
	return strings.CutPrefix(key, "badge:")
}

// ══════════════════════════════════════════════════════════════════════════════
// MILESTONE ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// AwardedMilestone - веха, записанная в текущем начислении.
type AwardedMilestone struct {
	Milestone
	// Celebrated - только наивысшая веха начисления порождает событие.
	Celebrated bool `json:"celebrated"`
}

// Outcome - результат проверки вех и значков.
type Outcome struct {
	Milestones []AwardedMilestone
	Badges     []Badge
}

// Celebrated возвращает празднуемую веху, если она есть.
func (o Outcome) Celebrated() (Milestone, bool) {
	for _, m := range o.Milestones {
		if m.Celebrated {
			return m.Milestone, true
		}
	}
	return Milestone{}, false
}

// EvaluateInput - входные данные проверки.
type EvaluateInput struct {
	UserID    string
	OldPoints int
	NewPoints int
	Counters  Counters
	At        time.Time

	// Отключение отдельных видов наград (флаги функций).
	SkipMilestones bool
	SkipBadges     bool
}

// MilestoneEngine обнаруживает пересечения порогов и выполненные условия
// значков и идемпотентно записывает их.
type MilestoneEngine struct {
	milestones []Milestone
	badges     []Badge
}

// NewMilestoneEngine создаёт движок. nil-таблицы заменяются значениями по умолчанию.
func NewMilestoneEngine(milestones []Milestone, badges []Badge) *MilestoneEngine {
	if milestones == nil {
		milestones = DefaultMilestones()
	}
	if badges == nil {
		badges = DefaultBadges()
	}
	sorted := append([]Milestone(nil), milestones...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })
	return &MilestoneEngine{milestones: sorted, badges: append([]Badge(nil), badges...)}
}

// Badges возвращает таблицу значков движка.
func (e *MilestoneEngine) Badges() []Badge {
	return append([]Badge(nil), e.badges...)
}

// Badge ищет определение значка по ID.
func (e *MilestoneEngine) Badge(id string) (Badge, bool) {
	for _, b := range e.badges {
		if b.ID == id {
			return b, true
		}
	}
	return Badge{}, false
}

// Evaluate проверяет вехи и значки и пишет новые записи через repo.
//
// Все пересечённые и ещё не записанные вехи записываются; празднуется только
// наивысшая. Значки с выполненным условием и без записи записываются,
// уже записанные пропускаются. Параллельный дубль (ErrAlreadyExists)
// считается "уже записано". Любая другая ошибка записи возвращается как
// ErrIdempotencyWriteFailure, и вызывающая транзакция должна откатиться.
func (e *MilestoneEngine) Evaluate(ctx context.Context, repo MilestoneRepository, in EvaluateInput) (Outcome, error) {
	var out Outcome

	var crossed []Milestone
	if !in.SkipMilestones {
		crossed = Crossed(e.milestones, in.OldPoints, in.NewPoints)
	}
	for _, m := range crossed {
		recorded, err := e.record(ctx, repo, in.UserID, m.Key(), in.At)
		if err != nil {
			return Outcome{}, err
		}
		if recorded {
			out.Milestones = append(out.Milestones, AwardedMilestone{Milestone: m})
		}
	}
	if n := len(out.Milestones); n > 0 {
		out.Milestones[n-1].Celebrated = true
	}

	for _, b := range e.badges {
		if in.SkipBadges || !b.Met(in.Counters) {
			continue
		}
		recorded, err := e.record(ctx, repo, in.UserID, b.Key(), in.At)
		if err != nil {
			return Outcome{}, err
		}
		if recorded {
			out.Badges = append(out.Badges, b)
		}
	}

	return out, nil
}

// record возвращает true, если запись создана этим вызовом.
func (e *MilestoneEngine) record(ctx context.Context, repo MilestoneRepository, userID, key string, at time.Time) (bool, error) {
	exists, err := repo.IsMilestoneRecorded(ctx, userID, key)
	if err != nil {
		return false, shared.WrapError("gamification", "IsMilestoneRecorded", shared.ErrIdempotencyWriteFailure, "check "+key, err)
	}
	if exists {
		return false, nil
	}

	err = repo.SaveMilestoneRecord(ctx, MilestoneRecord{UserID: userID, Key: key, AwardedAt: at})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, shared.ErrAlreadyExists):
		return false, nil
	default:
		return false, shared.WrapError("gamification", "SaveMilestoneRecord", shared.ErrIdempotencyWriteFailure, "record "+key, err)
	}
}
