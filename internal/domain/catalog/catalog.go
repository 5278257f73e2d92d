// Package catalog содержит статические справочники бота: задания и эко-советы.
//
// Каталог загружается один раз при старте, проходит валидацию и дальше
// используется только на чтение. Все методы безопасны для конкурентного вызова.
package catalog

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// MaxCallbackBytes - ограничение Telegram на размер callback_data.
const MaxCallbackBytes = 64

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Task - одно эко-задание.
type Task struct {
	ID       shared.TaskID
	Text     string
	Points   shared.Points
	Category shared.Category
}

// MenuCategory - пункт меню советов.
type MenuCategory struct {
	Category shared.Category
	Icon     string
}

// Label возвращает подпись кнопки, например "💧 Вода".
func (m MenuCategory) Label() string {
	if m.Icon == "" {
		return m.Category.String()
	}
	return m.Icon + " " + m.Category.String()
}

// Catalog - неизменяемый набор заданий и советов.
type Catalog struct {
	tasks   map[shared.TaskID]Task
	taskIDs []shared.TaskID
	tips    map[shared.Category][]string
	menu    []MenuCategory
}

// Params - входные данные для построения каталога.
type Params struct {
	Tasks []Task
	Tips  map[shared.Category][]string
	Menu  []MenuCategory

	// CallbackSizer возвращает размер закодированного callback для категории.
	// Если nil, проверка размера пропускается.
	CallbackSizer func(shared.Category) int
}

// New валидирует входные данные и строит каталог.
// Все найденные проблемы возвращаются одной ошибкой ErrInvalidCatalog.
func New(p Params) (*Catalog, error) {
	var problems []string

	if len(p.Tasks) == 0 {
		problems = append(problems, "no tasks defined")
	}

	c := &Catalog{
		tasks: make(map[shared.TaskID]Task, len(p.Tasks)),
		tips:  make(map[shared.Category][]string, len(p.Tips)),
	}

	for _, t := range p.Tasks {
		switch {
		case !t.ID.IsValid():
			problems = append(problems, fmt.Sprintf("task id %d must be positive", t.ID))
			continue
		case strings.TrimSpace(t.Text) == "":
			problems = append(problems, fmt.Sprintf("task %d has empty text", t.ID))
		case t.Points <= 0:
			problems = append(problems, fmt.Sprintf("task %d must award positive points", t.ID))
		}
		if _, dup := c.tasks[t.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate task id %d", t.ID))
			continue
		}
		c.tasks[t.ID] = t
		c.taskIDs = append(c.taskIDs, t.ID)
	}
	sort.Slice(c.taskIDs, func(i, j int) bool { return c.taskIDs[i] < c.taskIDs[j] })

	for cat, list := range p.Tips {
		if strings.TrimSpace(cat.String()) == "" {
			problems = append(problems, "tip category with empty name")
			continue
		}
		cleaned := make([]string, 0, len(list))
		for i, tip := range list {
			if strings.TrimSpace(tip) == "" {
				problems = append(problems, fmt.Sprintf("tip %d in %q is empty", i, cat))
				continue
			}
			cleaned = append(cleaned, tip)
		}
		c.tips[cat] = cleaned
	}

	// Каждая категория из меню должна существовать в справочнике советов.
	seen := make(map[shared.Category]bool, len(p.Menu))
	for _, m := range p.Menu {
		if seen[m.Category] {
			problems = append(problems, fmt.Sprintf("tip menu lists %q twice", m.Category))
			continue
		}
		seen[m.Category] = true
		if len(c.tips[m.Category]) == 0 {
			problems = append(problems, fmt.Sprintf("tip menu category %q has no tips", m.Category))
		}
		if p.CallbackSizer != nil && p.CallbackSizer(m.Category) > MaxCallbackBytes {
			problems = append(problems, fmt.Sprintf("tip menu category %q does not fit into callback data", m.Category))
		}
		c.menu = append(c.menu, m)
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("%w:\n  - %s", shared.ErrInvalidCatalog, strings.Join(problems, "\n  - "))
	}

	return c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCESSORS
// ══════════════════════════════════════════════════════════════════════════════

// TaskIDs возвращает идентификаторы всех заданий по возрастанию.
func (c *Catalog) TaskIDs() []shared.TaskID {
	out := make([]shared.TaskID, len(c.taskIDs))
	copy(out, c.taskIDs)
	return out
}

// TaskCount возвращает количество заданий.
func (c *Catalog) TaskCount() int {
	return len(c.taskIDs)
}

// Task возвращает задание по идентификатору или ErrUnknownTask.
func (c *Catalog) Task(id shared.TaskID) (Task, error) {
	t, ok := c.tasks[id]
	if !ok {
		return Task{}, shared.WrapError("catalog", "Task", shared.ErrNotFound,
			fmt.Sprintf("task %d", id), shared.ErrUnknownTask)
	}
	return t, nil
}

// Tips возвращает копию списка советов категории или ErrUnknownCategory.
func (c *Catalog) Tips(cat shared.Category) ([]string, error) {
	list, ok := c.tips[cat]
	if !ok || len(list) == 0 {
		return nil, shared.WrapError("catalog", "Tips", shared.ErrNotFound,
			fmt.Sprintf("category %q", cat), shared.ErrUnknownCategory)
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

// HasCategory сообщает, есть ли советы для категории.
func (c *Catalog) HasCategory(cat shared.Category) bool {
	return len(c.tips[cat]) > 0
}

// Categories возвращает все категории советов в алфавитном порядке.
func (c *Catalog) Categories() []shared.Category {
	out := make([]shared.Category, 0, len(c.tips))
	for cat, list := range c.tips {
		if len(list) > 0 {
			out = append(out, cat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TipMenu возвращает пункты меню советов в заданном порядке.
func (c *Catalog) TipMenu() []MenuCategory {
	out := make([]MenuCategory, len(c.menu))
	copy(out, c.menu)
	return out
}

// TipCount возвращает общее количество советов.
func (c *Catalog) TipCount() int {
	n := 0
	for _, list := range c.tips {
		n += len(list)
	}
	return n
}

// ══════════════════════════════════════════════════════════════════════════════
// TIP SELECTOR
// ══════════════════════════════════════════════════════════════════════════════

// RandomTip возвращает случайный совет категории.
// Для неизвестной категории возвращает ErrUnknownCategory.
func (c *Catalog) RandomTip(cat shared.Category, rng *rand.Rand) (string, error) {
	list, ok := c.tips[cat]
	if !ok || len(list) == 0 {
		return "", shared.WrapError("catalog", "RandomTip", shared.ErrNotFound,
			fmt.Sprintf("category %q", cat), shared.ErrUnknownCategory)
	}
	if rng == nil {
		return list[rand.IntN(len(list))], nil
	}
	return list[rng.IntN(len(list))], nil
}
