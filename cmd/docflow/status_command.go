package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"docflow/internal/daemon"
	"docflow/internal/preflight"
	"docflow/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, document, and stage health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			running, err := daemon.IsRunning(cfg)
			daemonKind, daemonMsg := statusWarn, "not running"
			switch {
			case err != nil:
				daemonKind, daemonMsg = statusError, err.Error()
			case running:
				daemonKind, daemonMsg = statusOK, "running"
			}
			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("docflowd", daemonKind, daemonMsg, colorize))

			return ctx.withManager(cmd, func(runCtx context.Context, mgr *workflow.Manager) error {
				summary := mgr.Status(runCtx)

				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Documents", colorize) {
					fmt.Fprintln(out, line)
				}
				if rows := buildCountRows(summary.Counts); len(rows) == 0 {
					fmt.Fprintln(out, "No documents")
				} else {
					fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows,
						[]columnAlignment{alignLeft, alignRight}, colorize))
				}

				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Stages", colorize) {
					fmt.Fprintln(out, line)
				}
				names := make([]string, 0, len(summary.StageHealth))
				for name := range summary.StageHealth {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					health := summary.StageHealth[name]
					kind, msg := statusOK, "ready"
					if !health.Ready {
						kind, msg = statusError, health.Detail
					}
					fmt.Fprintln(out, renderStatusLine(name, kind, msg, colorize))
				}

				if probe {
					fmt.Fprintln(out)
					printPreflight(cmd, preflight.RunAll(runCtx, cfg), colorize)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Also run directory and service preflight checks")
	return cmd
}

func printPreflight(cmd *cobra.Command, results []preflight.Result, colorize bool) {
	out := cmd.OutOrStdout()
	for _, line := range renderSectionHeader("Preflight", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, result := range results {
		kind := statusOK
		if !result.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
	}
}
