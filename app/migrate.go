package app

import (
	"fmt"

	"polls-backend/database"
	"polls-backend/migrations"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := database.Open(cmd.Context(), cfg.Database, logger, database.LogLevelFor(cfg.Environment))
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()

			if err := migrations.Run(db, logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
