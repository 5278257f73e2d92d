package assignment

import (
	"context"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// Tracker хранит активные задания пользователей.
// Реализация находится в infrastructure/persistence/memory.
type Tracker interface {
	// TryAssign выбирает случайное задание из pool и делает его активным.
	// Возвращает ErrAlreadyActive, если активное задание уже есть,
	// и ErrEmptyPool, если пул пуст.
	TryAssign(ctx context.Context, userID shared.UserID, pool []shared.TaskID, origin shared.MessageRef) (shared.TaskID, error)

	// Complete снимает активное задание как выполненное и возвращает его ID.
	// Возвращает ErrNotActive или ErrTaskMismatch без изменения состояния.
	Complete(ctx context.Context, userID shared.UserID, taskID shared.TaskID) (shared.TaskID, error)

	// Skip снимает активное задание без начисления очков.
	// Предусловия те же, что у Complete.
	Skip(ctx context.Context, userID shared.UserID, taskID shared.TaskID) error

	// Active возвращает активное задание, если оно есть.
	Active(ctx context.Context, userID shared.UserID) (Assignment, bool)

	// UpdateOrigin запоминает сообщение, в котором показано активное задание.
	UpdateOrigin(ctx context.Context, userID shared.UserID, taskID shared.TaskID, origin shared.MessageRef) error
}
