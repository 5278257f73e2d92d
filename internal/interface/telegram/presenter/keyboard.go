// Package presenter formats handler output for Telegram display.
// Presenters turn library-agnostic menu descriptors into inline keyboards.
package presenter

import (
	"github.com/ecotracker/eco-tracker-bot/internal/domain/catalog"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/telegram/handler"
)

// ══════════════════════════════════════════════════════════════════════════════
// INLINE KEYBOARD TYPES
// These types represent Telegram inline keyboards in a library-agnostic way.
// The router converts them to the Bot API format.
// ══════════════════════════════════════════════════════════════════════════════

// InlineKeyboard represents an inline keyboard.
type InlineKeyboard struct {
	Rows [][]InlineButton
}

// InlineButton represents a single inline button.
type InlineButton struct {
	// Text is the button text.
	Text string

	// CallbackData is the callback data (for callback buttons).
	CallbackData string
}

// NewInlineKeyboard creates a new empty inline keyboard.
func NewInlineKeyboard() *InlineKeyboard {
	return &InlineKeyboard{
		Rows: make([][]InlineButton, 0),
	}
}

// AddRow adds a row of buttons.
func (k *InlineKeyboard) AddRow(buttons ...InlineButton) *InlineKeyboard {
	k.Rows = append(k.Rows, buttons)
	return k
}

// CallbackButton creates a button that sends the encoded action back.
func CallbackButton(text string, action handler.Action) InlineButton {
	return InlineButton{
		Text:         text,
		CallbackData: handler.EncodeCallback(action),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYBOARD BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// Button labels.
const (
	LabelNewTask  = "✅ Новое задание"
	LabelProgress = "📊 Мой прогресс"
	LabelTip      = "💡 Эко-совет"
	LabelAbout    = "ℹ️ О боте"
	LabelDone     = "✔️ Выполнено"
	LabelSkip     = "➡️ Пропустить"
	LabelBack     = "↩️ Назад в меню"
)

// KeyboardBuilder builds inline keyboards for menu descriptors.
// The tip menu is built once from the catalog; the catalog is immutable.
type KeyboardBuilder struct {
	main *InlineKeyboard
	tips *InlineKeyboard
}

// NewKeyboardBuilder creates a new KeyboardBuilder.
func NewKeyboardBuilder(cat *catalog.Catalog) *KeyboardBuilder {
	main := NewInlineKeyboard().
		AddRow(CallbackButton(LabelNewTask, handler.RequestTask{})).
		AddRow(CallbackButton(LabelProgress, handler.ViewProgress{})).
		AddRow(CallbackButton(LabelTip, handler.TipMenu{})).
		AddRow(CallbackButton(LabelAbout, handler.About{}))

	tips := NewInlineKeyboard()
	for _, item := range cat.TipMenu() {
		tips.AddRow(CallbackButton(item.Label(), handler.RequestTip{Category: item.Category}))
	}
	tips.AddRow(CallbackButton(LabelBack, handler.BackToMenu{}))

	return &KeyboardBuilder{main: main, tips: tips}
}

// ForMenu returns the keyboard for a menu descriptor, or nil for MenuNone.
func (b *KeyboardBuilder) ForMenu(m handler.Menu) *InlineKeyboard {
	switch m.Kind {
	case handler.MenuMain:
		return b.main
	case handler.MenuTask:
		return NewInlineKeyboard().AddRow(
			CallbackButton(LabelDone, handler.MarkDone{TaskID: m.TaskID}),
			CallbackButton(LabelSkip, handler.Skip{TaskID: m.TaskID}),
		)
	case handler.MenuTips:
		return b.tips
	default:
		return nil
	}
}
