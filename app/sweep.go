package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete every poll whose deletion time has passed, once",
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

			c, err := build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			removed, err := c.service.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d polls deleted\n", removed)
			return nil
		},
	}
}
