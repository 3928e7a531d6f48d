package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/prophet/market-engine/internal/store"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errors.New("migrate: database dsn is not configured")
			}
			pool, err := store.Connect(cmd.Context(), cfg.Database.DSN, int(cfg.Database.MaxConns))
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := store.RunMigrations(cmd.Context(), pool)
			if err != nil {
				return err
			}
			logger.Info("migrations complete", "applied", applied)
			return nil
		},
	}
}
