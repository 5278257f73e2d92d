package progress

import (
	"context"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализация находится в infrastructure/persistence/memory.
// ══════════════════════════════════════════════════════════════════════════════

// Repository хранит прогресс пользователей.
// Операции над одним пользователем взаимно исключают друг друга.
type Repository interface {
	// EnsureUser идемпотентно создаёт запись с начальными значениями.
	// created равен true, если запись была создана этим вызовом.
	EnsureUser(ctx context.Context, userID shared.UserID) (created bool, err error)

	// Award начисляет очки за задание.
	// Возвращает ErrUnknownUser, если EnsureUser не вызывался.
	Award(ctx context.Context, userID shared.UserID, taskID shared.TaskID, points shared.Points) (AwardResult, error)

	// ResetCycleIfExhausted очищает набор выполненных заданий, если он покрывает all.
	// Возвращает ErrUnknownUser, если EnsureUser не вызывался.
	ResetCycleIfExhausted(ctx context.Context, userID shared.UserID, all []shared.TaskID) (bool, error)

	// CandidatePool возвращает невыполненные в текущем круге задания из all.
	CandidatePool(ctx context.Context, userID shared.UserID, all []shared.TaskID) ([]shared.TaskID, error)

	// Snapshot возвращает представление прогресса.
	// Возвращает ErrUnknownUser, если EnsureUser не вызывался.
	Snapshot(ctx context.Context, userID shared.UserID) (Snapshot, error)
}
