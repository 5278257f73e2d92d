// Package progress содержит модель прогресса пользователя: очки, уровень
// и набор заданий, выполненных в текущем круге.
//
// Инвариант: Level всегда равен shared.CalculateLevel(Points). Уровень
// никогда не устанавливается напрямую, только пересчитывается после Award.
package progress

import (
	"sort"
	"time"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// UserProgress - прогресс одного пользователя.
type UserProgress struct {
	// UserID - Telegram ID пользователя.
	UserID shared.UserID

	// Points - накопленные очки. Не уменьшаются, в том числе при сбросе круга.
	Points shared.Points

	// Level - текущий уровень, производный от Points.
	Level shared.Level

	// Completed - задания, выполненные в текущем круге.
	Completed map[shared.TaskID]struct{}

	// Cycles - сколько полных кругов пройдено.
	Cycles int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserProgress создаёт прогресс нового пользователя: 0 очков, 1 уровень.
func NewUserProgress(userID shared.UserID) *UserProgress {
	now := time.Now()
	return &UserProgress{
		UserID:    userID,
		Points:    0,
		Level:     shared.MinLevel,
		Completed: make(map[shared.TaskID]struct{}),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AwardResult - итог начисления очков.
type AwardResult struct {
	Earned   shared.Points
	Total    shared.Points
	Previous shared.Level
	Current  shared.Level
	LevelUp  bool
}

// Award начисляет очки за задание, отмечает его выполненным и пересчитывает уровень.
// LevelUp равен true, если новый уровень больше предыдущего.
func (p *UserProgress) Award(taskID shared.TaskID, points shared.Points) AwardResult {
	prev := p.Level

	p.Points = p.Points.Add(points)
	p.Completed[taskID] = struct{}{}
	p.Level = shared.CalculateLevel(p.Points)
	p.UpdatedAt = time.Now()

	return AwardResult{
		Earned:   points,
		Total:    p.Points,
		Previous: prev,
		Current:  p.Level,
		LevelUp:  p.Level > prev,
	}
}

// IsExhausted сообщает, покрывает ли набор выполненных заданий весь каталог.
func (p *UserProgress) IsExhausted(all []shared.TaskID) bool {
	for _, id := range all {
		if _, ok := p.Completed[id]; !ok {
			return false
		}
	}
	return true
}

// ResetCycleIfExhausted очищает набор выполненных заданий, если пройден весь каталог.
// Очки и уровень не меняются. Возвращает true, если сброс произошёл.
func (p *UserProgress) ResetCycleIfExhausted(all []shared.TaskID) bool {
	if len(all) == 0 || !p.IsExhausted(all) {
		return false
	}
	p.Completed = make(map[shared.TaskID]struct{})
	p.Cycles++
	p.UpdatedAt = time.Now()
	return true
}

// CandidatePool возвращает задания каталога, ещё не выполненные в текущем круге,
// по возрастанию идентификатора.
func (p *UserProgress) CandidatePool(all []shared.TaskID) []shared.TaskID {
	pool := make([]shared.TaskID, 0, len(all))
	for _, id := range all {
		if _, done := p.Completed[id]; !done {
			pool = append(pool, id)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i] < pool[j] })
	return pool
}

// HasCompleted сообщает, выполнено ли задание в текущем круге.
func (p *UserProgress) HasCompleted(taskID shared.TaskID) bool {
	_, ok := p.Completed[taskID]
	return ok
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - неизменяемое представление прогресса для отображения.
type Snapshot struct {
	UserID            shared.UserID
	Points            shared.Points
	Level             shared.Level
	CompletedCount    int
	Cycles            int
	PointsToNextLevel shared.Points
}

// Snapshot возвращает копию текущего состояния.
func (p *UserProgress) Snapshot() Snapshot {
	return Snapshot{
		UserID:            p.UserID,
		Points:            p.Points,
		Level:             p.Level,
		CompletedCount:    len(p.Completed),
		Cycles:            p.Cycles,
		PointsToNextLevel: shared.PointsToNextLevel(p.Points),
	}
}
