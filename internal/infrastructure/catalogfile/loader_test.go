package catalogfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

func TestLoadDefault(t *testing.T) {
	c, err := LoadDefault(Options{})
	require.NoError(t, err)

	assert.Equal(t, []shared.TaskID{1, 2, 3, 4, 5, 6, 7, 8}, c.TaskIDs())

	task, err := c.Task(3)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(5), task.Points)
	assert.Equal(t, shared.Category("Энергия"), task.Category)

	task, err = c.Task(8)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(20), task.Points)

	menu := c.TipMenu()
	require.Len(t, menu, 3)
	assert.Equal(t, shared.Category("Энергия"), menu[0].Category)
	assert.Equal(t, shared.Category("Вода"), menu[1].Category)
	assert.Equal(t, shared.Category("Пластик"), menu[2].Category)

	water, err := c.Tips("Вода")
	require.NoError(t, err)
	assert.Len(t, water, 3)
	assert.Equal(t, 9, c.TipCount())
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader(`
[[tasks]]
id = 1
text = "x"
points = 1
reward = 5
`), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode catalog")
}

func TestParse_ValidatesMenu(t *testing.T) {
	_, err := Parse(strings.NewReader(`
[[tasks]]
id = 1
text = "Выключите свет"
points = 5
category = "Энергия"

[[tip_menu]]
category = "Вода"
`), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidCatalog)
	assert.Contains(t, err.Error(), `"Вода" has no tips`)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[tasks]]
id = 10
text = "Посадите дерево"
points = 50
category = "Природа"

[[tip_menu]]
category = "Природа"
icon = "🌳"

[tips]
"Природа" = ["Поливайте деревья во дворе."]
`), 0o600))

	c, err := Load(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []shared.TaskID{10}, c.TaskIDs())
	assert.Equal(t, "🌳 Природа", c.TipMenu()[0].Label())

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"), Options{})
	assert.Error(t, err)
}
