package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"docflow/internal/config"
	"docflow/internal/daemonrun"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var opts daemonrun.Options

	cmd := &cobra.Command{
		Use:           "docflowd",
		Short:         "docflow auto-advance daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(strings.TrimSpace(configPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&opts.SkipPreflight, "skip-preflight", false, "Skip startup preflight checks")
	return cmd
}
