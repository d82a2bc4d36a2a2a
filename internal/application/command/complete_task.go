package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE TASK COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// CompleteTaskCommand marks a task completed and credits its points.
type CompleteTaskCommand struct {
	// TaskID is the task being completed.
	TaskID string

	// UserID is who performed the task. Empty means the assignee.
	UserID string

	// CompletedAt defaults to now if zero.
	CompletedAt time.Time

	CorrelationID string
}

// Validate validates the command.
func (c CompleteTaskCommand) Validate() error {
	if !shared.ValidID(c.TaskID) {
		return shared.ErrInvalidTaskID
	}
	if c.UserID != "" && !shared.ValidID(c.UserID) {
		return shared.ErrInvalidUserID
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CompleteTaskHandler resolves the performer and point value of a task and
// hands the completion to the ledger, which marks the task exactly once in
// the same transaction as the balance change.
type CompleteTaskHandler struct {
	tasks  household.TaskRepository
	ledger *PointsLedger
	logger *slog.Logger
}

// NewCompleteTaskHandler creates a new CompleteTaskHandler.
func NewCompleteTaskHandler(tasks household.TaskRepository, ledger *PointsLedger, log *slog.Logger) *CompleteTaskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CompleteTaskHandler{
		tasks:  tasks,
		ledger: ledger,
		logger: log.With(logger.Component("complete_task")),
	}
}

// Handle executes the command. A task that is already completed returns
// ErrTaskAlreadyCompleted and credits nothing.
func (h *CompleteTaskHandler) Handle(ctx context.Context, cmd CompleteTaskCommand) (*AwardPointsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	task, err := h.tasks.FindTask(ctx, cmd.TaskID)
	if err != nil {
		return nil, err
	}
	if task.IsCompleted {
		return nil, shared.ErrTaskAlreadyCompleted
	}

	performer := cmd.UserID
	if performer == "" {
		performer = task.AssignedUserID
	}
	if performer == "" {
		return nil, shared.NewDomainError("household", "CompleteTask", shared.ErrInvalidInput, "task has no assignee and no performer given")
	}

	result, err := h.ledger.Award(ctx, AwardPointsCommand{
		UserID:        performer,
		Delta:         task.PointValue,
		Reason:        gamification.ReasonTaskCompleted,
		TaskID:        task.ID,
		OccurredAt:    cmd.CompletedAt,
		CorrelationID: cmd.CorrelationID,
	})
	if err != nil {
		return nil, err
	}

	h.logger.Debug("task completed",
		logger.TaskID(task.ID),
		logger.UserID(performer),
		logger.HouseholdID(task.HouseholdID),
		"points", task.PointValue,
	)
	return result, nil
}
