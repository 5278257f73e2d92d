package handler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIONS
// Action is a closed set: every button press and command is decoded into one
// of the variants below exactly once, in the router. Handlers switch on the
// concrete type and never look at raw callback strings.
// ══════════════════════════════════════════════════════════════════════════════

// Action is a decoded user intent.
type Action interface {
	isAction()
}

type (
	// Start - команда /start.
	Start struct{ FirstName string }

	// RequestTask - "✅ Новое задание".
	RequestTask struct{}

	// MarkDone - "✔️ Выполнено" под заданием.
	MarkDone struct{ TaskID shared.TaskID }

	// Skip - "➡️ Пропустить" под заданием.
	Skip struct{ TaskID shared.TaskID }

	// ViewProgress - "📊 Мой прогресс".
	ViewProgress struct{}

	// TipMenu - "💡 Эко-совет", выбор категории.
	TipMenu struct{}

	// RequestTip - кнопка категории в меню советов.
	RequestTip struct{ Category shared.Category }

	// SearchTip - /tip <запрос>.
	SearchTip struct{ Query string }

	// About - "ℹ️ О боте" и /help.
	About struct{}

	// BackToMenu - "↩️ Назад в меню" и /menu.
	BackToMenu struct{}

	// Unrecognized - произвольный текст или неизвестная команда.
	Unrecognized struct{ Text string }
)

func (Start) isAction()        {}
func (RequestTask) isAction()  {}
func (MarkDone) isAction()     {}
func (Skip) isAction()         {}
func (ViewProgress) isAction() {}
func (TipMenu) isAction()      {}
func (RequestTip) isAction()   {}
func (SearchTip) isAction()    {}
func (About) isAction()        {}
func (BackToMenu) isAction()   {}
func (Unrecognized) isAction() {}

// Name returns a stable label for logs and metrics.
func Name(a Action) string {
	switch a.(type) {
	case Start:
		return "start"
	case RequestTask:
		return "request_task"
	case MarkDone:
		return "mark_done"
	case Skip:
		return "skip"
	case ViewProgress:
		return "view_progress"
	case TipMenu:
		return "tip_menu"
	case RequestTip:
		return "request_tip"
	case SearchTip:
		return "search_tip"
	case About:
		return "about"
	case BackToMenu:
		return "back_to_menu"
	case Unrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CALLBACK CODEC
// ══════════════════════════════════════════════════════════════════════════════

// Callback data prefixes.
const (
	prefixMenu = "menu:"
	prefixTask = "task:"
	prefixTip  = "tip:"
)

// ErrUnknownCallback is returned for callback data no build of the bot produces.
var ErrUnknownCallback = shared.NewDomainError("handler", "DecodeCallback", shared.ErrInvalidInput, "unknown callback data")

// EncodeCallback returns the callback data for a button action.
// Actions that are never attached to a button encode to "".
func EncodeCallback(a Action) string {
	switch v := a.(type) {
	case BackToMenu:
		return prefixMenu + "main"
	case RequestTask:
		return prefixMenu + "task"
	case ViewProgress:
		return prefixMenu + "progress"
	case TipMenu:
		return prefixMenu + "tips"
	case About:
		return prefixMenu + "about"
	case MarkDone:
		return prefixTask + "done:" + v.TaskID.String()
	case Skip:
		return prefixTask + "skip:" + v.TaskID.String()
	case RequestTip:
		return prefixTip + v.Category.String()
	default:
		return ""
	}
}

// CallbackSize returns the encoded size of the tip button for a category.
// Used by catalog validation against Telegram's 64-byte limit.
func CallbackSize(cat shared.Category) int {
	return len(EncodeCallback(RequestTip{Category: cat}))
}

// DecodeCallback parses callback data. Payloads of the previous format
// ("get_task", "task_done_3", "tip_cat_Вода", ...) are still accepted so
// that buttons on old messages keep working.
func DecodeCallback(data string) (Action, error) {
	switch data {
	case "menu:main", "main_menu":
		return BackToMenu{}, nil
	case "menu:task", "get_task":
		return RequestTask{}, nil
	case "menu:progress", "my_progress":
		return ViewProgress{}, nil
	case "menu:tips", "get_tip":
		return TipMenu{}, nil
	case "menu:about", "about":
		return About{}, nil
	}

	switch {
	case strings.HasPrefix(data, prefixTask+"done:"):
		return decodeTaskID(data, prefixTask+"done:", func(id shared.TaskID) Action { return MarkDone{TaskID: id} })
	case strings.HasPrefix(data, prefixTask+"skip:"):
		return decodeTaskID(data, prefixTask+"skip:", func(id shared.TaskID) Action { return Skip{TaskID: id} })
	case strings.HasPrefix(data, "task_done_"):
		return decodeTaskID(data, "task_done_", func(id shared.TaskID) Action { return MarkDone{TaskID: id} })
	case strings.HasPrefix(data, "task_skip_"):
		return decodeTaskID(data, "task_skip_", func(id shared.TaskID) Action { return Skip{TaskID: id} })
	case strings.HasPrefix(data, prefixTip):
		return decodeCategory(data, prefixTip)
	case strings.HasPrefix(data, "tip_cat_"):
		return decodeCategory(data, "tip_cat_")
	}

	return nil, fmt.Errorf("%q: %w", data, ErrUnknownCallback)
}

func decodeTaskID(data, prefix string, build func(shared.TaskID) Action) (Action, error) {
	id, err := shared.ParseTaskID(strings.TrimPrefix(data, prefix))
	if err != nil {
		return nil, fmt.Errorf("%q: %w", data, ErrUnknownCallback)
	}
	return build(id), nil
}

func decodeCategory(data, prefix string) (Action, error) {
	cat, err := shared.NewCategory(strings.TrimPrefix(data, prefix))
	if err != nil {
		return nil, fmt.Errorf("%q: %w", data, ErrUnknownCallback)
	}
	return RequestTip{Category: cat}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// ParseCommand maps a slash command (without "/") and its arguments to an action.
func ParseCommand(command, args, firstName string) Action {
	switch strings.ToLower(command) {
	case "start":
		return Start{FirstName: firstName}
	case "task":
		return RequestTask{}
	case "progress":
		return ViewProgress{}
	case "tip":
		if q := strings.TrimSpace(args); q != "" {
			return SearchTip{Query: q}
		}
		return TipMenu{}
	case "about", "help":
		return About{}
	case "menu":
		return BackToMenu{}
	default:
		return Unrecognized{Text: "/" + command}
	}
}

// Commands lists the supported commands with their descriptions,
// in the order they are shown to users.
func Commands() [][2]string {
	return [][2]string{
		{"start", "Начать работу с ботом"},
		{"task", "Получить новое задание"},
		{"progress", "Мой эко-прогресс"},
		{"tip", "Эко-совет (можно указать категорию)"},
		{"menu", "Главное меню"},
		{"about", "О боте"},
	}
}

// debugString is used in logs; it never includes user-provided free text.
func debugString(a Action) string {
	switch v := a.(type) {
	case MarkDone:
		return Name(a) + ":" + strconv.Itoa(int(v.TaskID))
	case Skip:
		return Name(a) + ":" + strconv.Itoa(int(v.TaskID))
	case RequestTip:
		return Name(a) + ":" + v.Category.String()
	default:
		return Name(a)
	}
}
