package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/progress"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER USER COMMAND
// Creates the progress record on first contact (/start or any button).
// Repeated registration is a no-op.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterUserCommand contains the data to register a user.
type RegisterUserCommand struct {
	// UserID is the Telegram user id.
	UserID shared.UserID
}

// Validate validates the command.
func (c RegisterUserCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	return nil
}

// RegisterUserResult contains the result of registration.
type RegisterUserResult struct {
	// Created is true only for the very first registration.
	Created bool
}

// RegisterUserHandler handles RegisterUserCommand.
type RegisterUserHandler struct {
	progress  progress.Repository
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewRegisterUserHandler creates a new RegisterUserHandler.
func NewRegisterUserHandler(
	repo progress.Repository,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *RegisterUserHandler {
	return &RegisterUserHandler{
		progress:  repo,
		publisher: publisher,
		logger:    orDefault(logger).With("handler", "register_user"),
	}
}

// Handle executes the command.
func (h *RegisterUserHandler) Handle(ctx context.Context, cmd RegisterUserCommand) (*RegisterUserResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("register_user: %w", err)
	}

	created, err := h.progress.EnsureUser(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("register_user: %w", err)
	}

	if created {
		h.logger.Info("new user", "user_id", cmd.UserID.Int64())
		ev := shared.NewUserRegisteredEvent(cmd.UserID)
		ev.BaseEvent = correlated(ctx, ev.BaseEvent)
		publish(h.logger, h.publisher, ev)
	}

	return &RegisterUserResult{Created: created}, nil
}
