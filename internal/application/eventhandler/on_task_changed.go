// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON TASK CHANGED HANDLER
// Сбрасывает закэшированную аналитику домохозяйства, когда меняются его
// задачи или баланс участника.
//
// События:
// 1. task.created / task.deleted - публикуются внешним управлением задачами
// 2. task.completed - публикуется после фиксации начисления
// 3. progress.points_awarded - меняет очки участника в аналитике
// ═══════════════════════════════════════════════════════════════════════════

// AnalyticsInvalidator удаляет все окна аналитики домохозяйства из кэша.
type AnalyticsInvalidator interface {
	Invalidate(ctx context.Context, householdID string) error
}

// OnTaskChangedHandler обрабатывает события изменения задач.
type OnTaskChangedHandler struct {
	invalidator AnalyticsInvalidator

	// Logger для структурированного логирования
	logger *slog.Logger

	config TaskChangedConfig
}

// TaskChangedConfig содержит конфигурацию обработчика.
type TaskChangedConfig struct {
	// Timeout ограничивает одну инвалидацию.
	Timeout time.Duration
}

// DefaultTaskChangedConfig возвращает конфигурацию по умолчанию.
func DefaultTaskChangedConfig() TaskChangedConfig {
	return TaskChangedConfig{
		Timeout: 5 * time.Second,
	}
}

// InvalidatingEvents - события, после которых аналитика устаревает.
var InvalidatingEvents = []shared.EventType{
	shared.EventTaskCreated,
	shared.EventTaskDeleted,
	shared.EventTaskCompleted,
	shared.EventPointsAwarded,
}

// NewOnTaskChangedHandler создаёт обработчик.
func NewOnTaskChangedHandler(invalidator AnalyticsInvalidator, log *slog.Logger, config TaskChangedConfig) *OnTaskChangedHandler {
	if log == nil {
		log = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTaskChangedConfig().Timeout
	}
	return &OnTaskChangedHandler{
		invalidator: invalidator,
		logger:      log.With("handler", "on_task_changed"),
		config:      config,
	}
}

// Register подписывает обработчик на все события из InvalidatingEvents.
func (h *OnTaskChangedHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range InvalidatingEvents {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle обрабатывает событие.
// Реализует интерфейс shared.EventHandler.
func (h *OnTaskChangedHandler) Handle(event shared.Event) error {
	hhEvent, ok := event.(shared.HouseholdEvent)
	if !ok {
		h.logger.Warn("received event without household",
			"event_type", event.EventType(),
		)
		return nil
	}

	householdID := hhEvent.Household()
	if householdID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if err := h.invalidator.Invalidate(ctx, householdID); err != nil {
		// Локальный кэш уже сброшен; внешний истечёт по TTL.
		h.logger.Warn("failed to invalidate analytics cache",
			logger.HouseholdID(householdID),
			"event_type", event.EventType(),
			logger.Err(err),
		)
		return err
	}

	h.logger.Debug("analytics cache invalidated",
		logger.HouseholdID(householdID),
		"event_type", event.EventType(),
	)
	return nil
}
