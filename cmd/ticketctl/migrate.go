package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/support-desk/internal/persistence"
)

func newMigrateCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				if dir == "" {
					dir = e.cfg.Postgres.MigrationsDir
				}
				if err := persistence.RunMigrations(ctx, e.pg.PoolHandle(), dir, e.logger); err != nil {
					return fmt.Errorf("run migrations: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (default POSTGRES_MIGRATIONS_DIR)")
	return cmd
}
