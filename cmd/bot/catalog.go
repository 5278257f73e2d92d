package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/catalog"
	"github.com/ecotracker/eco-tracker-bot/internal/infrastructure/catalogfile"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/telegram/handler"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Catalog utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Load and validate a catalog file (embedded default without a path)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			cat, err := loadCatalog(path)
			if err != nil {
				return err
			}
			printCatalogSummary(cmd.OutOrStdout(), path, cat)
			return nil
		},
	})
	return cmd
}

// loadCatalog reads the catalog and checks that every tip-menu button fits
// into Telegram's callback data limit.
func loadCatalog(path string) (*catalog.Catalog, error) {
	cat, err := catalogfile.Load(path, catalogfile.Options{CallbackSizer: handler.CallbackSize})
	if err != nil {
		if path == "" {
			path = "embedded default"
		}
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

func printCatalogSummary(w io.Writer, path string, cat *catalog.Catalog) {
	if path == "" {
		path = "(embedded default)"
	}

	total := 0
	for _, id := range cat.TaskIDs() {
		if t, err := cat.Task(id); err == nil {
			total += t.Points.Int()
		}
	}

	fmt.Fprintf(w, "catalog %s: OK\n", path)
	fmt.Fprintf(w, "  tasks:       %d (%d points in total)\n", cat.TaskCount(), total)
	fmt.Fprintf(w, "  categories:  %d (%d tips)\n", len(cat.Categories()), cat.TipCount())
	fmt.Fprintln(w, "  tip menu:")
	for _, m := range cat.TipMenu() {
		tips, _ := cat.Tips(m.Category)
		fmt.Fprintf(w, "    %-24s %d tips\n", m.Label(), len(tips))
	}
}
