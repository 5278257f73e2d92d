package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/assignment"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SKIP TASK COMMAND
// Clears the active assignment without awarding points. The skipped task
// stays in the candidate pool.
// ══════════════════════════════════════════════════════════════════════════════

// SkipTaskCommand contains the data to skip a task.
type SkipTaskCommand struct {
	UserID shared.UserID
	TaskID shared.TaskID
}

// Validate validates the command.
func (c SkipTaskCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if !c.TaskID.IsValid() {
		return shared.NewDomainError("command", "SkipTask", shared.ErrInvalidID, "task id must be positive")
	}
	return nil
}

// SkipTaskHandler handles SkipTaskCommand.
type SkipTaskHandler struct {
	tracker   assignment.Tracker
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewSkipTaskHandler creates a new SkipTaskHandler.
func NewSkipTaskHandler(tracker assignment.Tracker, publisher shared.EventPublisher, logger *slog.Logger) *SkipTaskHandler {
	return &SkipTaskHandler{
		tracker:   tracker,
		publisher: publisher,
		logger:    orDefault(logger).With("handler", "skip_task"),
	}
}

// Handle executes the command.
func (h *SkipTaskHandler) Handle(ctx context.Context, cmd SkipTaskCommand) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("skip_task: %w", err)
	}

	if err := h.tracker.Skip(ctx, cmd.UserID, cmd.TaskID); err != nil {
		return fmt.Errorf("skip_task: %w", err)
	}

	h.logger.Debug("task skipped", "user_id", cmd.UserID.Int64(), "task_id", int(cmd.TaskID))

	ev := shared.NewTaskSkippedEvent(cmd.UserID, cmd.TaskID)
	ev.BaseEvent = correlated(ctx, ev.BaseEvent)
	publish(h.logger, h.publisher, ev)
	return nil
}
