package catalog

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

var waterTips = []string{
	"Закрывайте кран во время чистки зубов.",
	"Собирайте дождевую воду для полива.",
	"Запускайте посудомойку только полной.",
}

func testParams() Params {
	return Params{
		Tasks: []Task{
			{ID: 2, Text: "Возьмите шоппер", Points: 10, Category: "Пластик"},
			{ID: 1, Text: "Отсортируйте мусор", Points: 15, Category: "Сортировка"},
			{ID: 3, Text: "Выключайте свет", Points: 5, Category: "Энергия"},
		},
		Tips: map[shared.Category][]string{
			"Вода":    waterTips,
			"Энергия": {"Замените лампы на LED."},
		},
		Menu: []MenuCategory{
			{Category: "Энергия", Icon: "💡"},
			{Category: "Вода", Icon: "💧"},
		},
	}
}

func TestNew_Valid(t *testing.T) {
	c, err := New(testParams())
	require.NoError(t, err)

	assert.Equal(t, []shared.TaskID{1, 2, 3}, c.TaskIDs())
	assert.Equal(t, 3, c.TaskCount())
	assert.Equal(t, 4, c.TipCount())
	assert.Equal(t, []shared.Category{"Вода", "Энергия"}, c.Categories())

	menu := c.TipMenu()
	require.Len(t, menu, 2)
	assert.Equal(t, "💡 Энергия", menu[0].Label())
	assert.Equal(t, "💧 Вода", menu[1].Label())
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Params)
		want   string
	}{
		{
			name:   "no tasks",
			mutate: func(p *Params) { p.Tasks = nil },
			want:   "no tasks defined",
		},
		{
			name: "duplicate id",
			mutate: func(p *Params) {
				p.Tasks = append(p.Tasks, Task{ID: 1, Text: "again", Points: 1})
			},
			want: "duplicate task id 1",
		},
		{
			name: "zero points",
			mutate: func(p *Params) {
				p.Tasks[0].Points = 0
			},
			want: "task 2 must award positive points",
		},
		{
			name: "menu category without tips",
			mutate: func(p *Params) {
				p.Menu = append(p.Menu, MenuCategory{Category: "Пластик"})
			},
			want: `tip menu category "Пластик" has no tips`,
		},
		{
			name: "callback too long",
			mutate: func(p *Params) {
				p.CallbackSizer = func(shared.Category) int { return MaxCallbackBytes + 1 }
			},
			want: "does not fit into callback data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)

			c, err := New(p)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, shared.ErrInvalidCatalog)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCatalog_Task(t *testing.T) {
	c, err := New(testParams())
	require.NoError(t, err)

	task, err := c.Task(3)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(5), task.Points)

	_, err = c.Task(42)
	assert.ErrorIs(t, err, shared.ErrUnknownTask)
	assert.True(t, shared.IsNotFound(err))
}

func TestCatalog_TipsReturnsCopy(t *testing.T) {
	c, err := New(testParams())
	require.NoError(t, err)

	tips, err := c.Tips("Вода")
	require.NoError(t, err)
	tips[0] = "changed"

	again, err := c.Tips("Вода")
	require.NoError(t, err)
	assert.Equal(t, waterTips[0], again[0])
}

func TestTipSelector_PickStaysInCategory(t *testing.T) {
	c, err := New(testParams())
	require.NoError(t, err)

	s := NewTipSelector(c, rand.New(rand.NewPCG(1, 2)))
	for i := 0; i < 100; i++ {
		tip, err := s.Pick("Вода")
		require.NoError(t, err)
		assert.Contains(t, waterTips, tip)
	}
}

func TestTipSelector_UnknownCategory(t *testing.T) {
	c, err := New(testParams())
	require.NoError(t, err)

	_, err = NewTipSelector(c, nil).Pick("Пластик")
	assert.ErrorIs(t, err, shared.ErrUnknownCategory)
}
