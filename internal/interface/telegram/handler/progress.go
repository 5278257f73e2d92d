package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ecotracker/eco-tracker-bot/internal/application/query"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

const noticeStartFirst = "Сначала начните работу с ботом командой /start"

func (h *Handler) handleProgress(ctx context.Context, req Request) *Response {
	dto, err := h.progress.Handle(ctx, query.GetProgressQuery{UserID: req.UserID})
	if err != nil {
		if errors.Is(err, shared.ErrUnknownUser) {
			if req.FromCallback() {
				return alert(noticeStartFirst)
			}
			return reply(req, noticeStartFirst, Menu{})
		}
		return h.fail(ctx, req, err)
	}
	return reply(req, progressText(dto), MainMenu())
}

func progressText(p *query.ProgressDTO) string {
	var b strings.Builder
	b.WriteString("📊 <b>Ваш Эко-Прогресс</b> 📊\n\n")
	fmt.Fprintf(&b, "⭐ <b>Уровень:</b> %d\n", p.Level)
	fmt.Fprintf(&b, "🏅 <b>Очки:</b> %d\n", p.Points)
	fmt.Fprintf(&b, "✅ <b>Выполнено заданий:</b> %d", p.CompletedCount)
	if p.TaskCount > 0 {
		fmt.Fprintf(&b, " из %d", p.TaskCount)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "🎯 <b>До следующего уровня:</b> %d очков\n", p.PointsToNextLevel)
	if p.Cycles > 0 {
		fmt.Fprintf(&b, "🔄 <b>Пройдено кругов:</b> %d\n", p.Cycles)
	}
	b.WriteString("\nПродолжайте в том же духе! Каждое маленькое действие имеет большое значение.")
	return b.String()
}
