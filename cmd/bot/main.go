// Package main - точка входа Эко-Трекер бота.
//
// Бот выдаёт пользователю небольшие экологичные задания, начисляет очки и
// уровни и показывает эко-советы по категориям. Прогресс хранится в памяти
// процесса; Redis опционален и нужен только для общего лимита запросов и
// трансляции событий.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version задаётся при сборке: -ldflags "-X main.version=1.2.3".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var catalogPath string

	root := &cobra.Command{
		Use:           "ecobot",
		Short:         "Eco-Tracker Telegram bot",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Без подкоманды бот просто запускается.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), catalogPath)
		},
	}
	root.Flags().StringVar(&catalogPath, "catalog", "", "path to a TOML catalog (overrides CATALOG_PATH)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newCatalogCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot (polling or webhook, from TELEGRAM_MODE)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), catalogPath)
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "path to a TOML catalog (overrides CATALOG_PATH)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ecobot %s\n", version)
		},
	}
}
