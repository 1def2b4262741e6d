package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"docflow/internal/config"
	"docflow/internal/preflight"
)

var skipConfigLoad = map[string]string{"skipConfigLoad": "true"}

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
	}
	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigValidateCommand(ctx),
		newConfigShowCommand(ctx),
	)
	return cmd
}

// initTarget resolves where config init writes, defaulting to the
// standard config location.
func initTarget(flagValue string) (string, error) {
	if flagValue = strings.TrimSpace(flagValue); flagValue != "" {
		return config.ExpandPath(flagValue)
	}
	return config.DefaultConfigPath()
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: skipConfigLoad,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}
			if _, err := os.Stat(target); err == nil && !overwrite {
				return fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("stat %s: %w", target, err)
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Next: set llm.api_key (or DOCFLOW_LLM_API_KEY) and the OCR and entity service URLs.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

// loadExplicit loads the config named by --config without the cached
// root-level load, so validation errors surface as command output.
func loadExplicit(ctx *commandContext) (*config.Config, string, bool, error) {
	path := ""
	if ctx.configFlag != nil {
		path = strings.TrimSpace(*ctx.configFlag)
	}
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		return nil, resolved, exists, fmt.Errorf("load config: %w", err)
	}
	return cfg, resolved, exists, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:         "validate",
		Short:       "Check the configuration and optionally probe its services",
		Annotations: skipConfigLoad,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolved, exists, err := loadExplicit(ctx)
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", resolved)
			if !exists {
				fmt.Fprintln(out, "No config file found; built-in defaults apply")
			}
			fmt.Fprintln(out, "Configuration valid")
			if !probe {
				return nil
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			printPreflight(cmd, results, shouldColorize(out))
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Also probe directories and external services")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "show",
		Short:       "Print the effective configuration with secrets masked",
		Annotations: skipConfigLoad,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolved, _, err := loadExplicit(ctx)
			if err != nil {
				return err
			}
			data, err := cfg.Encode()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", resolved)
			_, err = out.Write(data)
			return err
		},
	}
}
