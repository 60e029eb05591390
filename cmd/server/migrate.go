package main

import (
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/ropasuggest/internal/config"
	"github.com/kiranshivaraju/ropasuggest/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := config.LoadDatabase()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
				db.MigrationsDir = dir
			}

			if err := store.RunMigrations(db.URL, db.MigrationsDir); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			slog.Info("database migrations applied", "dir", db.MigrationsDir)
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Migrations directory (overrides DATABASE_MIGRATIONS_DIR)")
	return cmd
}
