package handler

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/ecotracker/eco-tracker-bot/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// START
// /start регистрирует пользователя (если он новый) и показывает приветствие.
// Повторный /start ничего не сбрасывает.
// ══════════════════════════════════════════════════════════════════════════════

const mainMenuText = "Вы в главном меню. Что хотите сделать?"

func (h *Handler) handleStart(ctx context.Context, req Request, a Start) *Response {
	if _, err := h.register.Handle(ctx, command.RegisterUserCommand{UserID: req.UserID}); err != nil {
		return h.fail(ctx, req, err)
	}
	return reply(req, welcomeText(a.FirstName), MainMenu())
}

func welcomeText(firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "друг"
	}
	return fmt.Sprintf(
		"Привет, %s! 👋\n\n"+
			"Я — ваш <b>Эко-Трекер</b>, помошник по формированию полезных эко-привычек.\n\n"+
			"Давайте вместе сделаем мир чище! Каждый день я буду предлагать вам небольшое задание. "+
			"Выполняя их, вы будете зарабатывать баллы, повышать свой уровень и, самое главное, "+
			"вносить реальный вклад в защиту нашей планеты. 🌍\n\n"+
			"Используйте меню ниже, чтобы начать.",
		html.EscapeString(name),
	)
}
