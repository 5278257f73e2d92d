// Package handler contains the Telegram-facing handlers.
// Each handler follows the pattern: receive action → call application layer → format response.
// Handlers know nothing about the Bot API; the router renders a Response.
package handler

import (
	"context"
	"log/slog"

	"github.com/ecotracker/eco-tracker-bot/internal/application/command"
	"github.com/ecotracker/eco-tracker-bot/internal/application/query"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

// ParseModeHTML is the parse mode of every text the handlers produce.
const ParseModeHTML = "HTML"

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE
// ══════════════════════════════════════════════════════════════════════════════

// Request is a decoded update.
type Request struct {
	// UserID is the Telegram user id.
	UserID shared.UserID

	// FirstName is the user's first name from Telegram.
	FirstName string

	// Origin is the message the button was attached to. Zero for commands.
	Origin shared.MessageRef

	// Action is what the user asked for.
	Action Action
}

// FromCallback reports whether the request came from an inline button.
func (r Request) FromCallback() bool {
	return !r.Origin.IsZero()
}

// MenuKind selects the inline keyboard attached to a response.
type MenuKind int

const (
	MenuNone MenuKind = iota
	MenuMain
	MenuTask
	MenuTips
)

// Menu describes a keyboard without depending on any Telegram types.
type Menu struct {
	Kind MenuKind

	// TaskID is set for MenuTask.
	TaskID shared.TaskID
}

// MainMenu - главное меню.
func MainMenu() Menu { return Menu{Kind: MenuMain} }

// TaskMenu - "Выполнено" / "Пропустить" для задания.
func TaskMenu(id shared.TaskID) Menu { return Menu{Kind: MenuTask, TaskID: id} }

// TipCategoryMenu - меню категорий советов.
func TipCategoryMenu() Menu { return Menu{Kind: MenuTips} }

// Response contains the response to send back.
type Response struct {
	// Text is the message text (HTML formatted). Empty means notice-only:
	// the message is left untouched and only the callback is answered.
	Text string

	// Menu is the inline keyboard to attach.
	Menu Menu

	// Notice is the callback answer text.
	Notice string

	// ShowAlert shows Notice as a modal alert instead of a toast.
	ShowAlert bool

	// Edit asks the router to edit the origin message in place.
	Edit bool

	// ParseMode is the parse mode (HTML).
	ParseMode string
}

// NoticeOnly reports whether the response carries no message text.
func (r *Response) NoticeOnly() bool {
	return r.Text == ""
}

func reply(req Request, text string, menu Menu) *Response {
	return &Response{
		Text:      text,
		Menu:      menu,
		Edit:      req.FromCallback(),
		ParseMode: ParseModeHTML,
	}
}

func alert(text string) *Response {
	return &Response{Notice: text, ShowAlert: true}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// Handler dispatches actions to the application layer.
type Handler struct {
	register *command.RegisterUserHandler
	request  *command.RequestTaskHandler
	complete *command.CompleteTaskHandler
	skip     *command.SkipTaskHandler
	progress *query.GetProgressHandler
	tips     *query.GetTipHandler

	searchEnabled func(userID int64) bool
	logger        *slog.Logger
}

// Config holds handler dependencies.
type Config struct {
	Register *command.RegisterUserHandler
	Request  *command.RequestTaskHandler
	Complete *command.CompleteTaskHandler
	Skip     *command.SkipTaskHandler
	Progress *query.GetProgressHandler
	Tips     *query.GetTipHandler

	// SearchEnabled gates /tip <query>. Nil means enabled for everyone.
	SearchEnabled func(userID int64) bool

	Logger *slog.Logger
}

// New creates a new Handler.
func New(cfg Config) *Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	search := cfg.SearchEnabled
	if search == nil {
		search = func(int64) bool { return true }
	}
	return &Handler{
		register:      cfg.Register,
		request:       cfg.Request,
		complete:      cfg.Complete,
		skip:          cfg.Skip,
		progress:      cfg.Progress,
		tips:          cfg.Tips,
		searchEnabled: search,
		logger:        log.With(logger.Component("handler")),
	}
}

// Handle runs the action and returns what to show. It never returns nil:
// every failure is turned into a user-facing message here.
func (h *Handler) Handle(ctx context.Context, req Request) *Response {
	switch a := req.Action.(type) {
	case Start:
		return h.handleStart(ctx, req, a)
	case BackToMenu:
		return reply(req, mainMenuText, MainMenu())
	case RequestTask:
		return h.handleRequestTask(ctx, req)
	case MarkDone:
		return h.handleDone(ctx, req, a)
	case Skip:
		return h.handleSkip(ctx, req, a)
	case ViewProgress:
		return h.handleProgress(ctx, req)
	case TipMenu:
		return reply(req, tipMenuText, TipCategoryMenu())
	case RequestTip:
		return h.handleTip(ctx, req, a)
	case SearchTip:
		return h.handleSearchTip(ctx, req, a)
	case About:
		return reply(req, aboutText, MainMenu())
	case Unrecognized:
		return reply(req, unrecognizedText, MainMenu())
	default:
		h.logger.Error("unhandled action", "action", Name(req.Action))
		return reply(req, genericErrorText, MainMenu())
	}
}

// TrackOrigin records the message a task was presented in.
func (h *Handler) TrackOrigin(ctx context.Context, userID shared.UserID, taskID shared.TaskID, origin shared.MessageRef) error {
	return h.request.TrackOrigin(ctx, userID, taskID, origin)
}

// Abandon releases a task the user was never shown.
func (h *Handler) Abandon(ctx context.Context, userID shared.UserID, taskID shared.TaskID) error {
	return h.request.Abandon(ctx, userID, taskID)
}

func (h *Handler) fail(ctx context.Context, req Request, err error) *Response {
	h.logger.Error("action failed",
		"action", debugString(req.Action),
		logger.UserID(req.UserID.Int64()),
		logger.RequestID(logger.RequestIDFromContext(ctx)),
		logger.Err(err),
	)
	return reply(req, genericErrorText, MainMenu())
}

const (
	genericErrorText = "😔 Произошла ошибка. Попробуй позже."
	unrecognizedText = "Я понимаю только кнопки меню и команды. Выберите действие ниже 👇"
)
