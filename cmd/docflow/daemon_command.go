package main

import (
	"github.com/spf13/cobra"

	"docflow/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the auto-advance daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:      logLevel,
				SkipPreflight: skipPreflight,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip startup preflight checks")
	return cmd
}
