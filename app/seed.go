package app

import (
	"fmt"

	"polls-backend/service"

	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the sample polls (12, 24 and 48 hours)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			onlyIfEmpty, _ := cmd.Flags().GetBool("if-empty")

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

			created, err := service.SeedSamplePolls(cmd.Context(), c.service, onlyIfEmpty)
			for _, poll := range created {
				fmt.Fprintf(cmd.OutOrStdout(), "created poll %d: %q (expires %s)\n", poll.ID, poll.Title, poll.ExpiresAt.Format("2006-01-02 15:04 MST"))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d sample polls created\n", len(created))
			return nil
		},
	}
	cmd.Flags().Bool("if-empty", false, "Only seed when there are no polls")
	return cmd
}
