package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

func TestCallbackCodec_RoundTrip(t *testing.T) {
	actions := []Action{
		BackToMenu{},
		RequestTask{},
		ViewProgress{},
		TipMenu{},
		About{},
		MarkDone{TaskID: 3},
		Skip{TaskID: 8},
		RequestTip{Category: "Вода"},
	}

	for _, a := range actions {
		data := EncodeCallback(a)
		require.NotEmpty(t, data, Name(a))
		assert.LessOrEqual(t, len(data), 64)

		got, err := DecodeCallback(data)
		require.NoError(t, err, data)
		assert.Equal(t, a, got)
	}
}

func TestDecodeCallback_LegacyPayloads(t *testing.T) {
	tests := map[string]Action{
		"main_menu":       BackToMenu{},
		"get_task":        RequestTask{},
		"my_progress":     ViewProgress{},
		"get_tip":         TipMenu{},
		"about":           About{},
		"task_done_3":     MarkDone{TaskID: 3},
		"task_skip_12":    Skip{TaskID: 12},
		"tip_cat_Пластик": RequestTip{Category: "Пластик"},
	}

	for data, want := range tests {
		got, err := DecodeCallback(data)
		require.NoError(t, err, data)
		assert.Equal(t, want, got, data)
	}
}

func TestDecodeCallback_RejectsGarbage(t *testing.T) {
	for _, data := range []string{"", "settings", "task:done:", "task:done:x", "task_skip_-1", "tip:", "tip_cat_ ", "menu:unknown"} {
		_, err := DecodeCallback(data)
		require.Error(t, err, data)
		assert.ErrorIs(t, err, ErrUnknownCallback, data)
		assert.True(t, shared.IsValidation(err), data)
	}
}

func TestEncodeCallback_NonButtonActions(t *testing.T) {
	assert.Empty(t, EncodeCallback(Start{}))
	assert.Empty(t, EncodeCallback(SearchTip{Query: "вода"}))
	assert.Empty(t, EncodeCallback(Unrecognized{}))
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		cmd, args string
		want      Action
	}{
		{"start", "", Start{FirstName: "Аня"}},
		{"task", "", RequestTask{}},
		{"progress", "", ViewProgress{}},
		{"tip", "", TipMenu{}},
		{"tip", "  вода ", SearchTip{Query: "вода"}},
		{"about", "", About{}},
		{"help", "", About{}},
		{"menu", "", BackToMenu{}},
		{"settings", "", Unrecognized{Text: "/settings"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseCommand(tt.cmd, tt.args, "Аня"), tt.cmd)
	}
}
