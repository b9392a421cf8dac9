// Package app wires the polls backend together and exposes it as a CLI.
package app

import (
	"fmt"
	"os"

	"polls-backend/config"

	"github.com/spf13/cobra"
)

const (
	flagConfig   = "config"
	flagEnvFile  = "env-file"
	flagLogLevel = "log-level"
)

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "polls",
		Short:         "Polls API server",
		Long:          "Polls API server: time-boxed polls with one vote per participant.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String(flagConfig, "", "Path to a YAML configuration file")
	root.PersistentFlags().StringSlice(flagEnvFile, []string{".env"}, "dotenv files loaded before reading the environment")
	root.PersistentFlags().String(flagLogLevel, "", "Log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newSweepCmd())

	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration using the persistent flags of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	envFiles, err := flags.GetStringSlice(flagEnvFile)
	if err != nil {
		return nil, err
	}
	opts := []config.Option{config.WithEnvFiles(envFiles...)}

	if path, _ := flags.GetString(flagConfig); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	opts = append(opts, config.WithFlag("log_level", flags.Lookup(flagLogLevel)))

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
