package analytics

import (
	"maps"
	"slices"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/household"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - неизменяемый снимок аналитики домохозяйства.
type Snapshot struct {
	HouseholdID       string            `json:"household_id"`
	GeneratedAt       time.Time         `json:"generated_at"`
	Window            WindowInfo        `json:"window"`
	CompletionRates   CompletionRates   `json:"completion_rates"`
	ProductivityTrend []DayBucket       `json:"productivity_trend"`
	UserPerformance   []UserPerformance `json:"user_performance"`
	TaskDistribution  TaskDistribution  `json:"task_distribution"`
	TimeAnalysis      TimeAnalysis      `json:"time_analysis"`
	Predictions       Predictions       `json:"predictions"`

	// Degraded - чтение хранилища не удалось, секции пустые.
	Degraded bool `json:"degraded"`

	// Warnings - заметки о качестве данных.
	Warnings []string `json:"warnings,omitempty"`
}

// Clone возвращает копию без общих срезов и карт с исходным снимком.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.ProductivityTrend = slices.Clone(s.ProductivityTrend)
	out.UserPerformance = slices.Clone(s.UserPerformance)
	out.TaskDistribution.ByPriority = maps.Clone(s.TaskDistribution.ByPriority)
	out.TaskDistribution.ByRecurrence = maps.Clone(s.TaskDistribution.ByRecurrence)
	out.TaskDistribution.ByCategory = maps.Clone(s.TaskDistribution.ByCategory)
	out.Predictions.Recommendations = slices.Clone(s.Predictions.Recommendations)
	out.Warnings = slices.Clone(s.Warnings)
	return out
}

// WindowInfo - параметры окна в сериализуемом виде.
type WindowInfo struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Days     int       `json:"days"`
	Timezone string    `json:"timezone"`
	Key      string    `json:"key"`
}

// CompletionRates - доли выполнения.
type CompletionRates struct {
	Total                    int     `json:"total"`
	Completed                int     `json:"completed"`
	OverdueCount             int     `json:"overdue_count"`
	Overall                  float64 `json:"overall"`
	OnTime                   float64 `json:"on_time"`
	Overdue                  float64 `json:"overdue"`
	AverageCompletionSeconds float64 `json:"average_completion_seconds"`
}

// DayBucket - одна корзина тренда продуктивности.
type DayBucket struct {
	Date             string  `json:"date"`
	TasksCompleted   int     `json:"tasks_completed"`
	PointsEarned     int     `json:"points_earned"`
	AverageTaskValue float64 `json:"average_task_value"`
}

// UserPerformance - показатели участника.
type UserPerformance struct {
	UserID             string  `json:"user_id"`
	DisplayName        string  `json:"display_name"`
	TasksAssigned      int     `json:"tasks_assigned"`
	TasksCompleted     int     `json:"tasks_completed"`
	PointsEarned       int     `json:"points_earned"`
	CompletionRate     float64 `json:"completion_rate"`
	AverageTasksPerDay float64 `json:"average_tasks_per_day"`
	Streak             int     `json:"streak"`
}

// TaskDistribution - распределение задач окна.
type TaskDistribution struct {
	ByPriority        map[household.Priority]int   `json:"by_priority"`
	ByRecurrence      map[household.Recurrence]int `json:"by_recurrence"`
	ByCategory        map[string]int               `json:"by_category"`
	AveragePointValue float64                      `json:"average_point_value"`
}

// TimeAnalysis - гистограммы выполнений по часу и дню недели (воскресенье = 0).
type TimeAnalysis struct {
	ByHour      [24]int `json:"by_hour"`
	ByWeekday   [7]int  `json:"by_weekday"`
	PeakHour    int     `json:"peak_hour"`
	PeakWeekday int     `json:"peak_weekday"`
	HasActivity bool    `json:"has_activity"`
}

// Predictions - прогноз и рекомендации.
type Predictions struct {
	Enabled                    bool     `json:"enabled"`
	PendingCount               int      `json:"pending_count"`
	EstimatedCompletionSeconds float64  `json:"estimated_completion_seconds"`
	Recommendations            []string `json:"recommendations"`
}

// NewDistribution возвращает распределение со всеми известными ключами.
func NewDistribution() TaskDistribution {
	d := TaskDistribution{
		ByPriority:   make(map[household.Priority]int, 4),
		ByRecurrence: make(map[household.Recurrence]int, 4),
		ByCategory:   make(map[string]int),
	}
	for _, p := range household.Priorities() {
		d.ByPriority[p] = 0
	}
	for _, r := range household.Recurrences() {
		d.ByRecurrence[r] = 0
	}
	return d
}

// EmptySnapshot - снимок без данных; degraded отмечает сбой чтения.
func EmptySnapshot(householdID string, w Window, generatedAt time.Time, degraded bool) Snapshot {
	return Snapshot{
		HouseholdID:       householdID,
		GeneratedAt:       generatedAt,
		Window:            infoOf(w),
		CompletionRates:   CompletionRates{OnTime: 1.0},
		ProductivityTrend: []DayBucket{},
		UserPerformance:   []UserPerformance{},
		TaskDistribution:  NewDistribution(),
		Predictions:       Predictions{Recommendations: []string{}},
		Degraded:          degraded,
	}
}

func infoOf(w Window) WindowInfo {
	return WindowInfo{
		Start:    w.Start,
		End:      w.End,
		Days:     w.Days,
		Timezone: w.loc().String(),
		Key:      w.Key(),
	}
}
