package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ecotracker/eco-tracker-bot/internal/infrastructure/external/telegram"
	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM WEBHOOK
// ══════════════════════════════════════════════════════════════════════════════

// SecretTokenHeader carries the secret passed to setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateProcessor handles one decoded update (the bot).
type UpdateProcessor interface {
	HandleUpdate(ctx context.Context, update *telegram.Update) error
}

// WebhookHandler accepts updates pushed by Telegram.
type WebhookHandler struct {
	processor UpdateProcessor
	secret    string
	logger    *slog.Logger
}

// NewWebhookHandler creates a webhook handler. An empty secret disables the
// header check.
func NewWebhookHandler(processor UpdateProcessor, secret string, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		processor: processor,
		secret:    secret,
		logger:    log.With(logger.Component("webhook")),
	}
}

// ServeHTTP implements http.Handler.
//
// Processing errors still answer 200: Telegram retries non-2xx responses and
// a retried button press would be applied twice.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.logger.Warn("webhook secret mismatch", "remote", r.RemoteAddr)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
	}

	var update telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.logger.Warn("invalid webhook payload", logger.Err(err))
		http.Error(w, `{"error":"bad_request"}`, http.StatusBadRequest)
		return
	}

	// The update is finished even if Telegram drops the connection.
	ctx := context.WithoutCancel(r.Context())
	if err := h.processor.HandleUpdate(ctx, &update); err != nil {
		h.logger.Error("webhook update not processed", "update_id", update.UpdateID, logger.Err(err))
		http.Error(w, `{"error":"unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}
