package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/assignment"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/catalog"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/progress"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE TASK COMMAND
// Clears the active assignment and awards its points. Both steps run under
// the user lock: nobody can observe a cleared assignment without the award.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteTaskCommand contains the data to complete a task.
type CompleteTaskCommand struct {
	UserID shared.UserID
	TaskID shared.TaskID
}

// Validate validates the command.
func (c CompleteTaskCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if !c.TaskID.IsValid() {
		return shared.NewDomainError("command", "CompleteTask", shared.ErrInvalidID, "task id must be positive")
	}
	return nil
}

// CompleteTaskResult contains the outcome of a completion.
type CompleteTaskResult struct {
	Task    catalog.Task
	Earned  shared.Points
	Total   shared.Points
	Level   shared.Level
	LevelUp bool
}

// CompleteTaskHandler handles CompleteTaskCommand.
type CompleteTaskHandler struct {
	locker    UserLocker
	progress  progress.Repository
	tracker   assignment.Tracker
	catalog   *catalog.Catalog
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewCompleteTaskHandler creates a new CompleteTaskHandler.
func NewCompleteTaskHandler(
	locker UserLocker,
	repo progress.Repository,
	tracker assignment.Tracker,
	cat *catalog.Catalog,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *CompleteTaskHandler {
	return &CompleteTaskHandler{
		locker:    locker,
		progress:  repo,
		tracker:   tracker,
		catalog:   cat,
		publisher: publisher,
		logger:    orDefault(logger).With("handler", "complete_task"),
	}
}

// Handle executes the command. Fails with shared.ErrNotActive or
// shared.ErrTaskMismatch without changing any state.
func (h *CompleteTaskHandler) Handle(ctx context.Context, cmd CompleteTaskCommand) (*CompleteTaskResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("complete_task: %w", err)
	}

	// A task missing from the catalog can never be the active one.
	task, err := h.catalog.Task(cmd.TaskID)
	if err != nil {
		return nil, fmt.Errorf("complete_task: %w", shared.ErrNotActive)
	}

	var award progress.AwardResult
	err = h.locker.WithUserLock(ctx, cmd.UserID, func(ctx context.Context) error {
		// Unknown users hold no assignment and fail with NotActive here.
		if _, err := h.tracker.Complete(ctx, cmd.UserID, cmd.TaskID); err != nil {
			return err
		}
		award, err = h.progress.Award(ctx, cmd.UserID, task.ID, task.Points)
		return err
	})
	if err != nil {
		if !shared.IsNotActive(err) {
			h.logger.Error("complete task failed", "user_id", cmd.UserID.Int64(), "task_id", int(cmd.TaskID), "error", err)
		}
		return nil, fmt.Errorf("complete_task: %w", err)
	}

	h.logger.Info("task completed",
		"user_id", cmd.UserID.Int64(),
		"task_id", int(task.ID),
		"earned", award.Earned.Int(),
		"total", award.Total.Int(),
		"level", award.Current.Int(),
	)

	completed := shared.NewTaskCompletedEvent(cmd.UserID, task.ID, award.Earned, award.Total)
	completed.BaseEvent = correlated(ctx, completed.BaseEvent)
	events := []shared.Event{completed}
	if award.LevelUp {
		ev := shared.NewLevelUpEvent(cmd.UserID, award.Previous, award.Current, award.Total)
		ev.BaseEvent = correlated(ctx, ev.BaseEvent)
		events = append(events, ev)
	}
	publish(h.logger, h.publisher, events...)

	return &CompleteTaskResult{
		Task:    task,
		Earned:  award.Earned,
		Total:   award.Total,
		Level:   award.Current,
		LevelUp: award.LevelUp,
	}, nil
}
