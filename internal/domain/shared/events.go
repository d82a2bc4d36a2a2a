// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Subscribers (realtime fan-out, cache invalidation,
// notifications) key their handlers on these values.
const (
	// Progress events
	EventPointsAwarded    EventType = "progress.points_awarded"
	EventLevelUp          EventType = "progress.level_up"
	EventBadgeEarned      EventType = "progress.badge_earned"
	EventMilestoneReached EventType = "progress.milestone_reached"
	EventStreakUpdated    EventType = "progress.streak_updated"

	// Task events
	EventTaskCompleted EventType = "task.completed"
	EventTaskCreated   EventType = "task.created"
	EventTaskDeleted   EventType = "task.deleted"

	// Analytics events
	EventAnalyticsRefreshed EventType = "analytics.refreshed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// HouseholdEvent is implemented by events that belong to a single household.
type HouseholdEvent interface {
	Event
	Household() string
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// Correlation returns the correlation ID, if any.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// PointsAwardedEvent is emitted after every committed balance mutation,
// including deductions that were clamped to zero.
type PointsAwardedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	HouseholdID string `json:"household_id"`
	Delta       int    `json:"delta"`
	OldBalance  int    `json:"old_balance"`
	NewBalance  int    `json:"new_balance"`
	Reason      string `json:"reason"`
	TaskID      string `json:"task_id,omitempty"`
}

// Payload implements Event interface.
func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"household_id": e.HouseholdID,
		"delta":        e.Delta,
		"old_balance":  e.OldBalance,
		"new_balance":  e.NewBalance,
		"reason":       e.Reason,
		"task_id":      e.TaskID,
	}
}

// Household implements HouseholdEvent.
func (e PointsAwardedEvent) Household() string { return e.HouseholdID }

// NewPointsAwardedEvent creates a new PointsAwardedEvent.
func NewPointsAwardedEvent(userID, householdID string, delta, oldBalance, newBalance int, reason, taskID string) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent:   NewBaseEvent(EventPointsAwarded, userID),
		UserID:      userID,
		HouseholdID: householdID,
		Delta:       delta,
		OldBalance:  oldBalance,
		NewBalance:  newBalance,
		Reason:      reason,
		TaskID:      taskID,
	}
}

// LevelUpEvent is emitted when a user reaches a new level.
type LevelUpEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	HouseholdID string `json:"household_id"`
	OldLevel    int    `json:"old_level"`
	NewLevel    int    `json:"new_level"`
	Points      int    `json:"points"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"household_id": e.HouseholdID,
		"old_level":    e.OldLevel,
		"new_level":    e.NewLevel,
		"points":       e.Points,
	}
}

// Household implements HouseholdEvent.
func (e LevelUpEvent) Household() string { return e.HouseholdID }

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID, householdID string, oldLevel, newLevel, points int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:   NewBaseEvent(EventLevelUp, userID),
		UserID:      userID,
		HouseholdID: householdID,
		OldLevel:    oldLevel,
		NewLevel:    newLevel,
		Points:      points,
	}
}

// BadgeEarnedEvent is emitted once per (user, badge) when the badge record is written.
type BadgeEarnedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	HouseholdID string `json:"household_id"`
	BadgeID     string `json:"badge_id"`
	BadgeName   string `json:"badge_name"`
	Icon        string `json:"icon"`
}

// Payload implements Event interface.
func (e BadgeEarnedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"household_id": e.HouseholdID,
		"badge_id":     e.BadgeID,
		"badge_name":   e.BadgeName,
		"icon":         e.Icon,
	}
}

// Household implements HouseholdEvent.
func (e BadgeEarnedEvent) Household() string { return e.HouseholdID }

// NewBadgeEarnedEvent creates a new BadgeEarnedEvent.
func NewBadgeEarnedEvent(userID, householdID, badgeID, badgeName, icon string) BadgeEarnedEvent {
	return BadgeEarnedEvent{
		BaseEvent:   NewBaseEvent(EventBadgeEarned, userID),
		UserID:      userID,
		HouseholdID: householdID,
		BadgeID:     badgeID,
		BadgeName:   badgeName,
		Icon:        icon,
	}
}

// MilestoneReachedEvent is emitted for the highest legendary threshold
// recorded in a single award.
type MilestoneReachedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	HouseholdID string `json:"household_id"`
	Threshold   int    `json:"threshold"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
}

// Payload implements Event interface.
func (e MilestoneReachedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"household_id": e.HouseholdID,
		"threshold":    e.Threshold,
		"name":         e.Name,
		"icon":         e.Icon,
	}
}

// Household implements HouseholdEvent.
func (e MilestoneReachedEvent) Household() string { return e.HouseholdID }

// NewMilestoneReachedEvent creates a new MilestoneReachedEvent.
func NewMilestoneReachedEvent(userID, householdID string, threshold int, name, icon string) MilestoneReachedEvent {
	return MilestoneReachedEvent{
		BaseEvent:   NewBaseEvent(EventMilestoneReached, userID),
		UserID:      userID,
		HouseholdID: householdID,
		Threshold:   threshold,
		Name:        name,
		Icon:        icon,
	}
}

// StreakUpdatedEvent is emitted when a task completion changes a user's streak.
type StreakUpdatedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	HouseholdID   string `json:"household_id"`
	CurrentStreak int    `json:"current_streak"`
	BestStreak    int    `json:"best_streak"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"household_id":   e.HouseholdID,
		"current_streak": e.CurrentStreak,
		"best_streak":    e.BestStreak,
	}
}

// Household implements HouseholdEvent.
func (e StreakUpdatedEvent) Household() string { return e.HouseholdID }

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID, householdID string, current, best int) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:     NewBaseEvent(EventStreakUpdated, userID),
		UserID:        userID,
		HouseholdID:   householdID,
		CurrentStreak: current,
		BestStreak:    best,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Task Events
// ═══════════════════════════════════════════════════════════════════════════

// TaskCompletedEvent is emitted after a task completion has been committed.
type TaskCompletedEvent struct {
	BaseEvent
	TaskID      string    `json:"task_id"`
	HouseholdID string    `json:"household_id"`
	UserID      string    `json:"user_id"`
	Points      int       `json:"points"`
	CompletedAt time.Time `json:"completed_at"`
}

// Payload implements Event interface.
func (e TaskCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"task_id":      e.TaskID,
		"household_id": e.HouseholdID,
		"user_id":      e.UserID,
		"points":       e.Points,
		"completed_at": e.CompletedAt.Format(time.RFC3339),
	}
}

// Household implements HouseholdEvent.
func (e TaskCompletedEvent) Household() string { return e.HouseholdID }

// NewTaskCompletedEvent creates a new TaskCompletedEvent.
func NewTaskCompletedEvent(taskID, householdID, userID string, points int, completedAt time.Time) TaskCompletedEvent {
	return TaskCompletedEvent{
		BaseEvent:   NewBaseEvent(EventTaskCompleted, taskID),
		TaskID:      taskID,
		HouseholdID: householdID,
		UserID:      userID,
		Points:      points,
		CompletedAt: completedAt,
	}
}

// TaskCreatedEvent is published by the task-management flow when a task is added.
type TaskCreatedEvent struct {
	BaseEvent
	TaskID      string `json:"task_id"`
	HouseholdID string `json:"household_id"`
}

// Payload implements Event interface.
func (e TaskCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"task_id":      e.TaskID,
		"household_id": e.HouseholdID,
	}
}

// Household implements HouseholdEvent.
func (e TaskCreatedEvent) Household() string { return e.HouseholdID }

// NewTaskCreatedEvent creates a new TaskCreatedEvent.
func NewTaskCreatedEvent(taskID, householdID string) TaskCreatedEvent {
	return TaskCreatedEvent{
		BaseEvent:   NewBaseEvent(EventTaskCreated, taskID),
		TaskID:      taskID,
		HouseholdID: householdID,
	}
}

// TaskDeletedEvent is published by the task-management flow when a task is removed.
type TaskDeletedEvent struct {
	BaseEvent
	TaskID      string `json:"task_id"`
	HouseholdID string `json:"household_id"`
}

// Payload implements Event interface.
func (e TaskDeletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"task_id":      e.TaskID,
		"household_id": e.HouseholdID,
	}
}

// Household implements HouseholdEvent.
func (e TaskDeletedEvent) Household() string { return e.HouseholdID }

// NewTaskDeletedEvent creates a new TaskDeletedEvent.
func NewTaskDeletedEvent(taskID, householdID string) TaskDeletedEvent {
	return TaskDeletedEvent{
		BaseEvent:   NewBaseEvent(EventTaskDeleted, taskID),
		TaskID:      taskID,
		HouseholdID: householdID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Analytics Events
// ═══════════════════════════════════════════════════════════════════════════

// AnalyticsRefreshedEvent is emitted when a fresh snapshot has been cached,
// so connected clients can refetch their charts.
type AnalyticsRefreshedEvent struct {
	BaseEvent
	HouseholdID string `json:"household_id"`
	WindowKey   string `json:"window_key"`
	Degraded    bool   `json:"degraded"`
}

// Payload implements Event interface.
func (e AnalyticsRefreshedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"household_id": e.HouseholdID,
		"window_key":   e.WindowKey,
		"degraded":     e.Degraded,
	}
}

// Household implements HouseholdEvent.
func (e AnalyticsRefreshedEvent) Household() string { return e.HouseholdID }

// NewAnalyticsRefreshedEvent creates a new AnalyticsRefreshedEvent.
func NewAnalyticsRefreshedEvent(householdID, windowKey string, degraded bool) AnalyticsRefreshedEvent {
	return AnalyticsRefreshedEvent{
		BaseEvent:   NewBaseEvent(EventAnalyticsRefreshed, householdID),
		HouseholdID: householdID,
		WindowKey:   windowKey,
		Degraded:    degraded,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
