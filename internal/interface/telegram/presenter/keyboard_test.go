package presenter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotracker/eco-tracker-bot/internal/infrastructure/catalogfile"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/telegram/handler"
)

func newBuilder(t *testing.T) *KeyboardBuilder {
	t.Helper()
	cat, err := catalogfile.LoadDefault(catalogfile.Options{CallbackSizer: handler.CallbackSize})
	require.NoError(t, err)
	return NewKeyboardBuilder(cat)
}

func labels(kb *InlineKeyboard) [][]string {
	out := make([][]string, len(kb.Rows))
	for i, row := range kb.Rows {
		for _, b := range row {
			out[i] = append(out[i], b.Text)
		}
	}
	return out
}

func TestForMenu_Main(t *testing.T) {
	kb := newBuilder(t).ForMenu(handler.MainMenu())

	require.NotNil(t, kb)
	assert.Equal(t, [][]string{{LabelNewTask}, {LabelProgress}, {LabelTip}, {LabelAbout}}, labels(kb))
	assert.Equal(t, "menu:task", kb.Rows[0][0].CallbackData)
}

func TestForMenu_Task(t *testing.T) {
	kb := newBuilder(t).ForMenu(handler.TaskMenu(5))

	require.Len(t, kb.Rows, 1)
	require.Len(t, kb.Rows[0], 2)
	assert.Equal(t, "task:done:5", kb.Rows[0][0].CallbackData)
	assert.Equal(t, "task:skip:5", kb.Rows[0][1].CallbackData)
}

func TestForMenu_Tips(t *testing.T) {
	kb := newBuilder(t).ForMenu(handler.TipCategoryMenu())

	assert.Equal(t, [][]string{{"💡 Энергия"}, {"💧 Вода"}, {"♻️ Пластик"}, {LabelBack}}, labels(kb))
	for _, row := range kb.Rows {
		action, err := handler.DecodeCallback(row[0].CallbackData)
		require.NoError(t, err)
		assert.NotNil(t, action)
	}
}

func TestForMenu_None(t *testing.T) {
	assert.Nil(t, newBuilder(t).ForMenu(handler.Menu{}))
}
