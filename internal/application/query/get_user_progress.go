package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER PROGRESS QUERY
// Баланс, уровень с прогрессом, серия, значки и вехи пользователя.
// Уровень вычисляется из баланса при каждом чтении.
// ══════════════════════════════════════════════════════════════════════════════

// GetUserProgressQuery - параметры запроса.
type GetUserProgressQuery struct {
	UserID string
}

// Validate проверяет параметры.
func (q GetUserProgressQuery) Validate() error {
	if !shared.ValidID(q.UserID) {
		return shared.ErrInvalidUserID
	}
	return nil
}

// UserProgressDTO - прогресс пользователя.
type UserProgressDTO struct {
	UserID      string `json:"user_id"`
	HouseholdID string `json:"household_id"`
	DisplayName string `json:"display_name"`

	// ─────────────────────────────────────────────────────────────────────────
	// Очки и уровень
	// ─────────────────────────────────────────────────────────────────────────

	Points int                   `json:"points"`
	Level  gamification.Progress `json:"level"`

	// ─────────────────────────────────────────────────────────────────────────
	// Серия
	// ─────────────────────────────────────────────────────────────────────────

	CurrentStreak int `json:"current_streak"`
	BestStreak    int `json:"best_streak"`

	// ─────────────────────────────────────────────────────────────────────────
	// Награды
	// ─────────────────────────────────────────────────────────────────────────

	// Badges - полученные значки в порядке получения.
	Badges []EarnedBadgeDTO `json:"badges"`

	// Milestones - достигнутые легендарные вехи по возрастанию порога.
	Milestones []ReachedMilestoneDTO `json:"milestones"`

	// NextMilestone - ближайшая недостигнутая веха (nil, если все пройдены).
	NextMilestone *gamification.Milestone `json:"next_milestone,omitempty"`
}

// EarnedBadgeDTO - значок с моментом получения.
type EarnedBadgeDTO struct {
	gamification.Badge
	EarnedAt time.Time `json:"earned_at"`
}

// ReachedMilestoneDTO - веха с моментом достижения.
type ReachedMilestoneDTO struct {
	gamification.Milestone
	ReachedAt time.Time `json:"reached_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetUserProgressHandler обрабатывает запрос прогресса.
type GetUserProgressHandler struct {
	users      household.UserRepository
	milestones gamification.MilestoneRepository
	engine     *gamification.MilestoneEngine
	table      []gamification.Milestone
}

// NewGetUserProgressHandler создаёт обработчик. nil-движок - таблицы по умолчанию.
func NewGetUserProgressHandler(
	users household.UserRepository,
	milestones gamification.MilestoneRepository,
	engine *gamification.MilestoneEngine,
) *GetUserProgressHandler {
	if engine == nil {
		engine = gamification.NewMilestoneEngine(nil, nil)
	}
	return &GetUserProgressHandler{
		users:      users,
		milestones: milestones,
		engine:     engine,
		table:      gamification.DefaultMilestones(),
	}
}

// Handle выполняет запрос.
func (h *GetUserProgressHandler) Handle(ctx context.Context, q GetUserProgressQuery) (*UserProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	user, err := h.users.FindUser(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	records, err := h.milestones.ListMilestoneRecords(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	points := user.Points.Int()
	dto := &UserProgressDTO{
		UserID:        user.ID,
		HouseholdID:   user.HouseholdID,
		DisplayName:   user.DisplayName,
		Points:        points,
		Level:         gamification.LevelProgress(points),
		CurrentStreak: user.CurrentStreak,
		BestStreak:    user.BestStreak,
		Badges:        []EarnedBadgeDTO{},
		Milestones:    []ReachedMilestoneDTO{},
	}

	reached := make(map[int]bool)
	for _, rec := range records {
		if id, ok := gamification.BadgeIDFromKey(rec.Key); ok {
			if b, ok := h.engine.Badge(id); ok {
				dto.Badges = append(dto.Badges, EarnedBadgeDTO{Badge: b, EarnedAt: rec.AwardedAt})
			}
			continue
		}
		for _, m := range h.table {
			if m.Key() == rec.Key {
				dto.Milestones = append(dto.Milestones, ReachedMilestoneDTO{Milestone: m, ReachedAt: rec.AwardedAt})
				reached[m.Threshold] = true
			}
		}
	}

	sort.SliceStable(dto.Badges, func(i, j int) bool {
		if !dto.Badges[i].EarnedAt.Equal(dto.Badges[j].EarnedAt) {
			return dto.Badges[i].EarnedAt.Before(dto.Badges[j].EarnedAt)
		}
		return strings.Compare(dto.Badges[i].ID, dto.Badges[j].ID) < 0
	})
	sort.Slice(dto.Milestones, func(i, j int) bool {
		return dto.Milestones[i].Threshold < dto.Milestones[j].Threshold
	})

	for _, m := range h.table {
		if !reached[m.Threshold] && m.Threshold > points {
			next := m
			dto.NextMilestone = &next
			break
		}
	}

	return dto, nil
}
