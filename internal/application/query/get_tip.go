package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/catalog"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET TIP QUERY
// Возвращает случайный эко-совет из категории.
//
// Категория из кнопки меню обязана существовать в каталоге: если её нет,
// это рассинхронизация меню и каталога (дефект), она логируется как ERROR
// и публикуется событием. Свободный текст из /tip <запрос> - это ввод
// пользователя, промах по нему логируется как WARN.
// ══════════════════════════════════════════════════════════════════════════════

// GetTipQuery содержит параметры запроса.
type GetTipQuery struct {
	Category shared.Category
}

// TipDTO - выбранный совет.
type TipDTO struct {
	Category shared.Category `json:"category"`
	Icon     string          `json:"icon,omitempty"`
	Text     string          `json:"text"`
}

// GetTipHandler обрабатывает запросы советов.
type GetTipHandler struct {
	selector  *catalog.TipSelector
	icons     map[shared.Category]string
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewGetTipHandler создаёт обработчик.
func NewGetTipHandler(selector *catalog.TipSelector, publisher shared.EventPublisher, log *slog.Logger) *GetTipHandler {
	if log == nil {
		log = slog.Default()
	}
	icons := make(map[shared.Category]string)
	for _, m := range selector.Catalog().TipMenu() {
		icons[m.Category] = m.Icon
	}
	return &GetTipHandler{
		selector:  selector,
		icons:     icons,
		publisher: publisher,
		logger:    log.With("handler", "get_tip"),
	}
}

// Handle выбирает совет для категории, пришедшей из меню.
func (h *GetTipHandler) Handle(ctx context.Context, q GetTipQuery) (*TipDTO, error) {
	text, err := h.selector.Pick(q.Category)
	if err != nil {
		if errors.Is(err, shared.ErrUnknownCategory) {
			h.logger.Error("tip menu category is missing from catalog",
				logger.Category(q.Category.String()),
				logger.RequestID(logger.RequestIDFromContext(ctx)),
			)
			if h.publisher != nil {
				ev := shared.NewUnknownCategoryEvent(q.Category, "tip_menu")
				ev.BaseEvent = ev.BaseEvent.WithCorrelationID(logger.RequestIDFromContext(ctx))
				if perr := h.publisher.Publish(ev); perr != nil {
					h.logger.Warn("failed to publish event", "error", perr)
				}
			}
		}
		return nil, fmt.Errorf("get_tip: %w", err)
	}

	return &TipDTO{
		Category: q.Category,
		Icon:     h.icons[q.Category],
		Text:     text,
	}, nil
}

// Search находит категорию по свободному тексту (нечёткое совпадение без
// учёта регистра, лучшее совпадение побеждает) и выбирает из неё совет.
func (h *GetTipHandler) Search(ctx context.Context, text string) (*TipDTO, error) {
	cat, ok := h.Resolve(text)
	if !ok {
		h.logger.Warn("no tip category matches query", "query", text)
		return nil, fmt.Errorf("get_tip: %q: %w", text, shared.ErrUnknownCategory)
	}
	return h.Handle(ctx, GetTipQuery{Category: cat})
}

// Resolve сопоставляет текст с категорией каталога.
func (h *GetTipHandler) Resolve(text string) (shared.Category, bool) {
	q := strings.ToLower(strings.TrimSpace(text))
	if q == "" {
		return "", false
	}

	source := newCategorySource(h.selector.Catalog().Categories())
	for i, name := range source.names {
		if name == q {
			return source.categories[i], true
		}
	}

	matches := fuzzy.FindFrom(q, source)
	if len(matches) == 0 {
		return "", false
	}
	return source.categories[matches[0].Index], true
}

// categorySource реализует fuzzy.Source над названиями категорий в нижнем регистре.
type categorySource struct {
	categories []shared.Category
	names      []string
}

func newCategorySource(categories []shared.Category) categorySource {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = strings.ToLower(c.String())
	}
	return categorySource{categories: categories, names: names}
}

func (s categorySource) String(i int) string { return s.names[i] }
func (s categorySource) Len() int            { return len(s.names) }
