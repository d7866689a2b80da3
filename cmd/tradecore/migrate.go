package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/internal/database"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, zapLogger, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer zapLogger.Sync()

			db, err := database.Open(cfg.Database, zapLogger)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			zapLogger.Info("Schema migrated", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}
