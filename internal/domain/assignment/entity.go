// Package assignment описывает жизненный цикл активного задания пользователя.
//
// У пользователя не больше одного активного задания. Состояния:
//
//	idle ──assign──▶ assigned ──complete/skip──▶ idle
//
// Повторный assign в состоянии assigned отклоняется (ErrAlreadyActive),
// а не ставится в очередь. Конечного состояния нет.
package assignment

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/looplab/fsm"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// Состояния машины.
const (
	StateIdle     = "idle"
	StateAssigned = "assigned"
)

// События машины.
const (
	EventAssign   = "assign"
	EventComplete = "complete"
	EventSkip     = "skip"
)

// Assignment - активное задание пользователя.
type Assignment struct {
	UserID shared.UserID
	TaskID shared.TaskID

	// Origin - сообщение, в котором задание было показано.
	// Нужно только для редактирования этого сообщения.
	Origin shared.MessageRef

	AssignedAt time.Time
}

// NewAssignment создаёт активное задание.
func NewAssignment(userID shared.UserID, taskID shared.TaskID, origin shared.MessageRef) *Assignment {
	return &Assignment{
		UserID:     userID,
		TaskID:     taskID,
		Origin:     origin,
		AssignedAt: time.Now(),
	}
}

// NewMachine создаёт машину состояний в состоянии idle.
func NewMachine() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventAssign, Src: []string{StateIdle}, Dst: StateAssigned},
			{Name: EventComplete, Src: []string{StateAssigned}, Dst: StateIdle},
			{Name: EventSkip, Src: []string{StateAssigned}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
}

// Fire переводит машину по событию и переводит ошибки fsm в доменные.
func Fire(ctx context.Context, m *fsm.FSM, event string) error {
	err := m.Event(ctx, event)
	if err == nil {
		return nil
	}

	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		if event == EventAssign {
			return shared.ErrAlreadyActive
		}
		return shared.ErrNotActive
	}
	return shared.WrapError("assignment", "Fire", shared.ErrStateTransition, event, err)
}

// Resolve проверяет, что active соответствует taskID.
// Возвращает ErrNotActive, если задания нет, и ErrTaskMismatch, если оно другое.
func Resolve(active *Assignment, taskID shared.TaskID) error {
	if active == nil {
		return shared.ErrNotActive
	}
	if active.TaskID != taskID {
		return shared.ErrTaskMismatch
	}
	return nil
}

// Pick выбирает задание из пула равновероятно.
// Памяти о прошлых выборах нет: повторы между кругами ожидаемы.
func Pick(pool []shared.TaskID, rng *rand.Rand) (shared.TaskID, error) {
	if len(pool) == 0 {
		return 0, shared.ErrEmptyPool
	}
	if rng == nil {
		return pool[rand.IntN(len(pool))], nil
	}
	return pool[rng.IntN(len(pool))], nil
}
