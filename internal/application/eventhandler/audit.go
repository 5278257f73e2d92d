// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// AUDIT HANDLER
// Пишет каждое доменное событие в лог и ведёт счётчики по типам.
//
// Уровни:
// - catalog.unknown_category - ERROR (рассинхронизация меню и каталога)
// - progress.level_up, progress.cycle_reset - INFO
// - всё остальное - DEBUG
// ═══════════════════════════════════════════════════════════════════════════

// AuditHandler журналирует доменные события.
type AuditHandler struct {
	logger *slog.Logger

	mu     sync.Mutex
	counts map[shared.EventType]int64
}

// NewAuditHandler создаёт обработчик.
func NewAuditHandler(logger *slog.Logger) *AuditHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandler{
		logger: logger.With("component", "audit"),
		counts: make(map[shared.EventType]int64),
	}
}

// Register подписывает обработчик на все события шины.
func (h *AuditHandler) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(h.Handle)
}

// Handle реализует shared.EventHandler.
func (h *AuditHandler) Handle(event shared.Event) error {
	h.mu.Lock()
	h.counts[event.EventType()]++
	h.mu.Unlock()

	attrs := []any{
		"event_type", string(event.EventType()),
		"aggregate_id", event.AggregateID(),
	}
	if c, ok := event.(interface{ Correlation() string }); ok && c.Correlation() != "" {
		attrs = append(attrs, "correlation_id", c.Correlation())
	}
	for k, v := range event.Payload() {
		attrs = append(attrs, k, v)
	}

	switch event.EventType() {
	case shared.EventUnknownCategory:
		h.logger.Error("domain event", attrs...)
	case shared.EventLevelUp, shared.EventCycleReset:
		h.logger.Info("domain event", attrs...)
	default:
		h.logger.Debug("domain event", attrs...)
	}
	return nil
}

// EventCount - число событий одного типа.
type EventCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// Counts возвращает счётчики, отсортированные по типу события.
func (h *AuditHandler) Counts() []EventCount {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]EventCount, 0, len(h.counts))
	for t, n := range h.counts {
		out = append(out, EventCount{Type: string(t), Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Count возвращает число событий типа t.
func (h *AuditHandler) Count(t shared.EventType) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[t]
}
