// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/progress"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Возвращает очки, уровень и число выполненных заданий для экрана прогресса.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery содержит параметры запроса.
type GetProgressQuery struct {
	UserID shared.UserID
}

// Validate проверяет корректность параметров запроса.
func (q GetProgressQuery) Validate() error {
	if !q.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	return nil
}

// ProgressDTO - прогресс пользователя для отображения.
type ProgressDTO struct {
	UserID            int64 `json:"user_id"`
	Points            int   `json:"points"`
	Level             int   `json:"level"`
	CompletedCount    int   `json:"completed_count"`
	Cycles            int   `json:"cycles"`
	PointsToNextLevel int   `json:"points_to_next_level"`

	// TaskCount - размер каталога, чтобы показать "выполнено N из M".
	TaskCount int `json:"task_count"`
}

// GetProgressHandler обрабатывает запрос прогресса.
type GetProgressHandler struct {
	progress  progress.Repository
	taskCount int
}

// NewGetProgressHandler создаёт обработчик.
func NewGetProgressHandler(repo progress.Repository, taskCount int) *GetProgressHandler {
	return &GetProgressHandler{
		progress:  repo,
		taskCount: taskCount,
	}
}

// Handle выполняет запрос. Возвращает shared.ErrUnknownUser, если
// пользователь ещё не начинал работу с ботом.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	snap, err := h.progress.Snapshot(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	return &ProgressDTO{
		UserID:            snap.UserID.Int64(),
		Points:            snap.Points.Int(),
		Level:             snap.Level.Int(),
		CompletedCount:    snap.CompletedCount,
		Cycles:            snap.Cycles,
		PointsToNextLevel: snap.PointsToNextLevel.Int(),
		TaskCount:         h.taskCount,
	}, nil
}
