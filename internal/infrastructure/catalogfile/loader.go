// Package catalogfile loads the task and tip catalog from TOML.
// The default catalog is embedded into the binary.
package catalogfile

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/catalog"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

//go:embed catalog.toml
var defaultCatalog []byte

// File is the on-disk layout of a catalog.
type File struct {
	Tasks   []TaskEntry         `toml:"tasks"`
	TipMenu []MenuEntry         `toml:"tip_menu"`
	Tips    map[string][]string `toml:"tips"`
}

// TaskEntry is one [[tasks]] table.
type TaskEntry struct {
	ID       int    `toml:"id"`
	Text     string `toml:"text"`
	Points   int    `toml:"points"`
	Category string `toml:"category"`
}

// MenuEntry is one [[tip_menu]] table.
type MenuEntry struct {
	Category string `toml:"category"`
	Icon     string `toml:"icon"`
}

// Options controls how a catalog is built.
type Options struct {
	// CallbackSizer reports the encoded callback size for a tip category,
	// so oversized categories are rejected at startup.
	CallbackSizer func(shared.Category) int
}

// Load reads the catalog from path, or the embedded default when path is empty.
func Load(path string, opts Options) (*catalog.Catalog, error) {
	if path == "" {
		return Parse(bytes.NewReader(defaultCatalog), opts)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer file.Close()

	return Parse(file, opts)
}

// LoadDefault builds the embedded catalog.
func LoadDefault(opts Options) (*catalog.Catalog, error) {
	return Load("", opts)
}

// Parse decodes and validates a catalog. Unknown keys are rejected.
func Parse(r io.Reader, opts Options) (*catalog.Catalog, error) {
	var f File
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return f.Build(opts)
}

// Build converts the file layout into a validated catalog.
func (f File) Build(opts Options) (*catalog.Catalog, error) {
	p := catalog.Params{
		Tasks:         make([]catalog.Task, 0, len(f.Tasks)),
		Tips:          make(map[shared.Category][]string, len(f.Tips)),
		Menu:          make([]catalog.MenuCategory, 0, len(f.TipMenu)),
		CallbackSizer: opts.CallbackSizer,
	}

	for _, t := range f.Tasks {
		p.Tasks = append(p.Tasks, catalog.Task{
			ID:       shared.TaskID(t.ID),
			Text:     t.Text,
			Points:   shared.Points(t.Points),
			Category: shared.Category(t.Category),
		})
	}
	for name, tips := range f.Tips {
		p.Tips[shared.Category(name)] = tips
	}
	for _, m := range f.TipMenu {
		p.Menu = append(p.Menu, catalog.MenuCategory{
			Category: shared.Category(m.Category),
			Icon:     m.Icon,
		})
	}

	return catalog.New(p)
}
