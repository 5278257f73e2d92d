package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/assignment"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/catalog"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/progress"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST TASK COMMAND
// Assigns a random task the user has not completed in the current cycle.
// When the cycle is exhausted the completed set is cleared first.
// ══════════════════════════════════════════════════════════════════════════════

// RequestTaskCommand contains the data to request a new task.
type RequestTaskCommand struct {
	// UserID is the Telegram user id.
	UserID shared.UserID

	// Origin is the message the request came from, if any.
	Origin shared.MessageRef
}

// Validate validates the command.
func (c RequestTaskCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	return nil
}

// RequestTaskResult contains the assigned task.
type RequestTaskResult struct {
	Task catalog.Task

	// CycleReset is true when the completed set was cleared to make room.
	CycleReset bool

	// PoolSize is the number of candidates the task was drawn from.
	PoolSize int
}

// RequestTaskHandler handles RequestTaskCommand.
type RequestTaskHandler struct {
	locker    UserLocker
	progress  progress.Repository
	tracker   assignment.Tracker
	catalog   *catalog.Catalog
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewRequestTaskHandler creates a new RequestTaskHandler.
func NewRequestTaskHandler(
	locker UserLocker,
	repo progress.Repository,
	tracker assignment.Tracker,
	cat *catalog.Catalog,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *RequestTaskHandler {
	return &RequestTaskHandler{
		locker:    locker,
		progress:  repo,
		tracker:   tracker,
		catalog:   cat,
		publisher: publisher,
		logger:    orDefault(logger).With("handler", "request_task"),
	}
}

// Handle executes the command. Returns shared.ErrAlreadyActive if the user
// already holds an assignment.
func (h *RequestTaskHandler) Handle(ctx context.Context, cmd RequestTaskCommand) (*RequestTaskResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("request_task: %w", err)
	}

	var (
		result  RequestTaskResult
		created bool
	)

	all := h.catalog.TaskIDs()

	err := h.locker.WithUserLock(ctx, cmd.UserID, func(ctx context.Context) error {
		var err error
		if created, err = h.progress.EnsureUser(ctx, cmd.UserID); err != nil {
			return err
		}

		// Check before touching the completed set: a reset must never happen
		// on behalf of a request that is going to be rejected anyway.
		if _, active := h.tracker.Active(ctx, cmd.UserID); active {
			return shared.ErrAlreadyActive
		}

		pool, err := h.progress.CandidatePool(ctx, cmd.UserID, all)
		if err != nil {
			return err
		}
		if len(pool) == 0 {
			reset, err := h.progress.ResetCycleIfExhausted(ctx, cmd.UserID, all)
			if err != nil {
				return err
			}
			result.CycleReset = reset
			pool = all
		}

		taskID, err := h.tracker.TryAssign(ctx, cmd.UserID, pool, cmd.Origin)
		if err != nil {
			return err
		}

		result.PoolSize = len(pool)
		result.Task, err = h.catalog.Task(taskID)
		return err
	})
	if err != nil {
		if !errors.Is(err, shared.ErrAlreadyActive) {
			h.logger.Error("request task failed", "user_id", cmd.UserID.Int64(), "error", err)
		}
		return nil, fmt.Errorf("request_task: %w", err)
	}

	h.logger.Debug("task assigned",
		"user_id", cmd.UserID.Int64(),
		"task_id", int(result.Task.ID),
		"pool", result.PoolSize,
		"cycle_reset", result.CycleReset,
	)

	events := make([]shared.Event, 0, 3)
	if created {
		ev := shared.NewUserRegisteredEvent(cmd.UserID)
		ev.BaseEvent = correlated(ctx, ev.BaseEvent)
		events = append(events, ev)
	}
	if result.CycleReset {
		ev := shared.NewCycleResetEvent(cmd.UserID, len(all))
		ev.BaseEvent = correlated(ctx, ev.BaseEvent)
		events = append(events, ev)
	}
	assigned := shared.NewTaskAssignedEvent(cmd.UserID, result.Task.ID, result.PoolSize, result.CycleReset)
	assigned.BaseEvent = correlated(ctx, assigned.BaseEvent)
	events = append(events, assigned)
	publish(h.logger, h.publisher, events...)

	return &result, nil
}

// TrackOrigin records the message that now presents the active task, so a
// later edit targets the right message. A mismatch means the assignment was
// already resolved by a concurrent update; that is not an error for the caller.
func (h *RequestTaskHandler) TrackOrigin(ctx context.Context, userID shared.UserID, taskID shared.TaskID, origin shared.MessageRef) error {
	err := h.tracker.UpdateOrigin(ctx, userID, taskID, origin)
	if err != nil && !shared.IsNotActive(err) {
		return fmt.Errorf("track_origin: %w", err)
	}
	return nil
}

// Abandon releases an assignment whose task message never reached the user,
// so the next request can assign again. Unlike a skip it publishes nothing.
// Runs even when ctx is already done: the delivery that failed may have
// timed out.
func (h *RequestTaskHandler) Abandon(ctx context.Context, userID shared.UserID, taskID shared.TaskID) error {
	ctx = context.WithoutCancel(ctx)
	err := h.locker.WithUserLock(ctx, userID, func(ctx context.Context) error {
		return h.tracker.Skip(ctx, userID, taskID)
	})
	if shared.IsNotActive(err) {
		// Already resolved by a concurrent update.
		return nil
	}
	if err != nil {
		return fmt.Errorf("abandon: %w", err)
	}
	h.logger.Warn("assignment released after failed delivery",
		"user_id", userID.Int64(),
		"task_id", int(taskID),
	)
	return nil
}
