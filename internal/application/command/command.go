// Package command contains write operations (CQRS - Commands).
//
// Every handler that touches more than one piece of user state runs inside
// UserLocker.WithUserLock, so the sequence is atomic with respect to other
// updates from the same user. Events are published after the lock is released.
package command

import (
	"context"
	"log/slog"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

// UserLocker serializes multi-step operations for one user.
type UserLocker interface {
	WithUserLock(ctx context.Context, userID shared.UserID, fn func(ctx context.Context) error) error
}

// correlated stamps the request id from ctx onto an event.
func correlated(ctx context.Context, base shared.BaseEvent) shared.BaseEvent {
	if id := logger.RequestIDFromContext(ctx); id != "" {
		return base.WithCorrelationID(id)
	}
	return base
}

// publish sends events in order. A failed publish is logged and never
// fails the command: the state change has already happened.
func publish(log *slog.Logger, publisher shared.EventPublisher, events ...shared.Event) {
	if publisher == nil {
		return
	}
	for _, ev := range events {
		if err := publisher.Publish(ev); err != nil {
			log.Warn("failed to publish event",
				"event_type", ev.EventType(),
				"error", err,
			)
		}
	}
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
