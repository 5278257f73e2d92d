package handler

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/ecotracker/eco-tracker-bot/internal/application/query"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

const (
	tipMenuText    = "О чём вы хотели бы получить совет?"
	tipNotFoundFmt = "Не нашёл советов по запросу «%s».\n\n" + tipMenuText
)

// handleTip отвечает на кнопку категории. Категория из меню, которой нет
// в каталоге, - ошибка конфигурации: её уже залогировал и опубликовал
// query-слой, пользователю показываем общее сообщение.
func (h *Handler) handleTip(ctx context.Context, req Request, a RequestTip) *Response {
	tip, err := h.tips.Handle(ctx, query.GetTipQuery{Category: a.Category})
	if err != nil {
		if errors.Is(err, shared.ErrUnknownCategory) {
			return reply(req, genericErrorText, MainMenu())
		}
		return h.fail(ctx, req, err)
	}
	return reply(req, tipText(tip), TipCategoryMenu())
}

// handleSearchTip - /tip <запрос>.
func (h *Handler) handleSearchTip(ctx context.Context, req Request, a SearchTip) *Response {
	if a.Query == "" || !h.searchEnabled(req.UserID.Int64()) {
		return reply(req, tipMenuText, TipCategoryMenu())
	}

	tip, err := h.tips.Search(ctx, a.Query)
	if err != nil {
		if errors.Is(err, shared.ErrUnknownCategory) {
			return reply(req, fmt.Sprintf(tipNotFoundFmt, html.EscapeString(a.Query)), TipCategoryMenu())
		}
		return h.fail(ctx, req, err)
	}
	return reply(req, tipText(tip), TipCategoryMenu())
}

func tipText(t *query.TipDTO) string {
	return fmt.Sprintf("<b>💡 Эко-совет (%s):</b>\n\n%s",
		html.EscapeString(t.Category.String()),
		html.EscapeString(t.Text),
	)
}
