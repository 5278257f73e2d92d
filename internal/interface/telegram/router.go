package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
	"github.com/ecotracker/eco-tracker-bot/internal/infrastructure/external/telegram"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/telegram/handler"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/telegram/presenter"
	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER
// Turns raw updates into handler requests and renders handler responses
// back through the Bot API. Callback data is decoded here exactly once.
// ══════════════════════════════════════════════════════════════════════════════

// Messenger is the part of the Bot API client the router needs.
type Messenger interface {
	SendMessage(ctx context.Context, params telegram.SendMessageParams) (*telegram.Message, error)
	EditMessageText(ctx context.Context, params telegram.EditMessageTextParams) error
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string, showAlert bool) error
}

// ActionHandler runs decoded requests.
type ActionHandler interface {
	Handle(ctx context.Context, req handler.Request) *handler.Response
	TrackOrigin(ctx context.Context, userID shared.UserID, taskID shared.TaskID, origin shared.MessageRef) error
	Abandon(ctx context.Context, userID shared.UserID, taskID shared.TaskID) error
}

// RouterConfig contains router dependencies.
type RouterConfig struct {
	Client    Messenger
	Handler   ActionHandler
	Keyboards *presenter.KeyboardBuilder
	Logger    *slog.Logger
}

// Router dispatches updates to the handler.
type Router struct {
	client    Messenger
	handler   ActionHandler
	keyboards *presenter.KeyboardBuilder
	logger    *slog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		client:    config.Client,
		handler:   config.Handler,
		keyboards: config.Keyboards,
		logger:    log.With(logger.Component("router")),
	}
}

// Inbound is a decoded update together with where to answer.
type Inbound struct {
	Request handler.Request

	// ChatID is where new messages are sent.
	ChatID int64

	// CallbackID is set for button presses and must always be answered.
	CallbackID string
}

// IsCallback reports whether the update was a button press.
func (in Inbound) IsCallback() bool {
	return in.CallbackID != ""
}

// Decode converts an update into a request. Updates the bot does not react
// to (stickers, edited messages, service messages) return false.
func (r *Router) Decode(update *telegram.Update) (Inbound, bool) {
	switch {
	case update == nil:
		return Inbound{}, false
	case update.CallbackQuery != nil:
		return r.decodeCallback(update.CallbackQuery)
	case update.Message != nil:
		return r.decodeMessage(update.Message)
	default:
		return Inbound{}, false
	}
}

func (r *Router) decodeCallback(cq *telegram.CallbackQuery) (Inbound, bool) {
	if cq.From == nil {
		return Inbound{}, false
	}

	in := Inbound{
		ChatID:     cq.From.ID,
		CallbackID: cq.ID,
		Request: handler.Request{
			UserID:    shared.UserID(cq.From.ID),
			FirstName: cq.From.FirstName,
		},
	}
	if cq.Message != nil && cq.Message.Chat != nil {
		in.ChatID = cq.Message.Chat.ID
		in.Request.Origin = shared.MessageRef{ChatID: cq.Message.Chat.ID, MessageID: cq.Message.MessageID}
	}

	action, err := handler.DecodeCallback(cq.Data)
	if err != nil {
		r.logger.Warn("undecodable callback data", logger.UserID(cq.From.ID), "data", cq.Data, logger.Err(err))
		action = handler.Unrecognized{Text: cq.Data}
	}
	in.Request.Action = action
	return in, true
}

func (r *Router) decodeMessage(msg *telegram.Message) (Inbound, bool) {
	if msg.From == nil || msg.Chat == nil {
		return Inbound{}, false
	}

	var action handler.Action
	if cmd := telegram.ExtractCommand(msg); cmd != "" {
		action = handler.ParseCommand(cmd, telegram.ExtractCommandArgs(msg), msg.From.FirstName)
	} else if msg.Text != "" {
		action = handler.Unrecognized{Text: msg.Text}
	} else {
		return Inbound{}, false
	}

	return Inbound{
		ChatID: msg.Chat.ID,
		Request: handler.Request{
			UserID:    shared.UserID(msg.From.ID),
			FirstName: msg.From.FirstName,
			Action:    action,
		},
	}, true
}

// Dispatch runs the handler and renders its response.
func (r *Router) Dispatch(ctx context.Context, in Inbound) error {
	resp := r.handler.Handle(ctx, in.Request)
	return r.Render(ctx, in, resp)
}

// Render delivers a response. Callbacks are always answered, even when
// editing or sending fails, so the client stops showing the spinner.
func (r *Router) Render(ctx context.Context, in Inbound, resp *handler.Response) error {
	if in.IsCallback() {
		defer r.answer(ctx, in, resp)
	}

	if resp.NoticeOnly() {
		if in.IsCallback() || resp.Notice == "" {
			return nil
		}
		// Commands have no callback to answer; the notice becomes a message.
		_, err := r.client.SendMessage(ctx, telegram.SendMessageParams{ChatID: in.ChatID, Text: resp.Notice})
		return err
	}

	ref, err := r.deliver(ctx, in, resp)
	if err != nil {
		// A task without its done/skip buttons could never be resolved.
		if resp.Menu.Kind == handler.MenuTask {
			if aerr := r.handler.Abandon(ctx, in.Request.UserID, resp.Menu.TaskID); aerr != nil {
				r.logger.Error("failed to release undelivered task", logger.UserID(in.Request.UserID.Int64()), logger.Err(aerr))
			}
		}
		return err
	}

	if resp.Menu.Kind == handler.MenuTask {
		if err := r.handler.TrackOrigin(ctx, in.Request.UserID, resp.Menu.TaskID, ref); err != nil {
			r.logger.Warn("failed to record task message", logger.UserID(in.Request.UserID.Int64()), logger.Err(err))
		}
	}
	return nil
}

// deliver edits the origin message in place when asked to, and falls back to
// a new message when the edit fails (e.g. the message is too old).
func (r *Router) deliver(ctx context.Context, in Inbound, resp *handler.Response) (shared.MessageRef, error) {
	markup := convertKeyboard(r.keyboards.ForMenu(resp.Menu))
	origin := in.Request.Origin

	if resp.Edit && !origin.IsZero() {
		err := r.client.EditMessageText(ctx, telegram.EditMessageTextParams{
			ChatID:      origin.ChatID,
			MessageID:   origin.MessageID,
			Text:        resp.Text,
			ParseMode:   resp.ParseMode,
			ReplyMarkup: markup,
		})
		if err == nil {
			return origin, nil
		}
		if ctx.Err() != nil {
			return shared.MessageRef{}, err
		}
		r.logger.Warn("edit failed, sending a new message",
			logger.UserID(in.Request.UserID.Int64()),
			"message", origin.String(),
			logger.Err(err),
		)
	}

	msg, err := r.client.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:      in.ChatID,
		Text:        resp.Text,
		ParseMode:   resp.ParseMode,
		ReplyMarkup: markup,
	})
	if err != nil {
		return shared.MessageRef{}, fmt.Errorf("deliver %s: %w", handler.Name(in.Request.Action), err)
	}
	return shared.MessageRef{ChatID: in.ChatID, MessageID: msg.MessageID}, nil
}

func (r *Router) answer(ctx context.Context, in Inbound, resp *handler.Response) {
	var text string
	var alert bool
	if resp != nil {
		text, alert = resp.Notice, resp.ShowAlert
	}
	if err := r.client.AnswerCallbackQuery(ctx, in.CallbackID, text, alert); err != nil {
		r.logger.Warn("failed to answer callback", logger.UserID(in.Request.UserID.Int64()), logger.Err(err))
	}
}

// Notify tells the user something outside the handler flow (rate limit,
// recovered panic). Callbacks get an alert, messages get a reply.
func (r *Router) Notify(ctx context.Context, in Inbound, text string) error {
	if in.IsCallback() {
		return r.client.AnswerCallbackQuery(ctx, in.CallbackID, text, true)
	}
	_, err := r.client.SendMessage(ctx, telegram.SendMessageParams{ChatID: in.ChatID, Text: text})
	return err
}

// convertKeyboard converts presenter.InlineKeyboard to telegram.InlineKeyboardMarkup.
func convertKeyboard(kb *presenter.InlineKeyboard) *telegram.InlineKeyboardMarkup {
	if kb == nil {
		return nil
	}

	rows := make([][]telegram.InlineKeyboardButton, len(kb.Rows))
	for i, row := range kb.Rows {
		buttons := make([]telegram.InlineKeyboardButton, len(row))
		for j, btn := range row {
			buttons[j] = telegram.InlineKeyboardButton{
				Text:         btn.Text,
				CallbackData: btn.CallbackData,
			}
		}
		rows[i] = buttons
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}
