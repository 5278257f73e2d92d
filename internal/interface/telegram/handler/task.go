package handler

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/ecotracker/eco-tracker-bot/internal/application/command"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TASKS
// Новое задание, выполнение и пропуск. Устаревшие кнопки (задание уже
// завершено или заменено) отвечают только всплывающим сообщением и не
// трогают сообщение.
// ══════════════════════════════════════════════════════════════════════════════

const (
	noticeAlreadyActive = "У вас уже есть активное задание. Сначала завершите его."
	noticeCycleReset    = "Вы выполнили все задания! Начинаем новый круг."
	noticeInactive      = "Это задание уже неактивно."
	noticeDone          = "Задание выполнено!"
	noticeSkipped       = "Задание пропущено."

	skippedText = "Понятно. Вы пропустили это задание.\n\n" +
		"Вы всегда можете взять новое из главного меню."
)

func (h *Handler) handleRequestTask(ctx context.Context, req Request) *Response {
	res, err := h.request.Handle(ctx, command.RequestTaskCommand{
		UserID: req.UserID,
		Origin: req.Origin,
	})
	if err != nil {
		if errors.Is(err, shared.ErrAlreadyActive) {
			return alert(noticeAlreadyActive)
		}
		return h.fail(ctx, req, err)
	}

	resp := reply(req, newTaskText(res.Task.Text, res.Task.Points), TaskMenu(res.Task.ID))
	if res.CycleReset {
		resp.Notice = noticeCycleReset
		resp.ShowAlert = true
	}
	return resp
}

func (h *Handler) handleDone(ctx context.Context, req Request, a MarkDone) *Response {
	res, err := h.complete.Handle(ctx, command.CompleteTaskCommand{
		UserID: req.UserID,
		TaskID: a.TaskID,
	})
	if err != nil {
		if shared.IsNotActive(err) {
			return alert(noticeInactive)
		}
		return h.fail(ctx, req, err)
	}

	text := doneText(res.Task.Text, res.Earned, res.Total)
	if res.LevelUp {
		text = levelUpBanner(res.Level) + text
	}
	resp := reply(req, text, MainMenu())
	resp.Notice = noticeDone
	return resp
}

func (h *Handler) handleSkip(ctx context.Context, req Request, a Skip) *Response {
	err := h.skip.Handle(ctx, command.SkipTaskCommand{
		UserID: req.UserID,
		TaskID: a.TaskID,
	})
	if err != nil {
		if shared.IsNotActive(err) {
			return alert(noticeInactive)
		}
		return h.fail(ctx, req, err)
	}

	resp := reply(req, skippedText, MainMenu())
	resp.Notice = noticeSkipped
	return resp
}

func newTaskText(task string, points shared.Points) string {
	return fmt.Sprintf(
		"Новое задание для вас:\n\n<b>%s</b>\n\n🏅 <b>Награда:</b> %d очков.",
		html.EscapeString(task),
		points.Int(),
	)
}

func doneText(task string, earned, total shared.Points) string {
	return fmt.Sprintf(
		"Отличная работа! ✅\n\n"+
			"Вы выполнили задание: «%s»\n"+
			"И заработали <b>+%d</b> очков.\n"+
			"Ваш текущий баланс: <b>%d</b> очков.",
		html.EscapeString(task),
		earned.Int(),
		total.Int(),
	)
}

func levelUpBanner(level shared.Level) string {
	return fmt.Sprintf("🎉 <b>Поздравляем! Вы достигли %d уровня!</b> 🎉\n\n", level.Int())
}
