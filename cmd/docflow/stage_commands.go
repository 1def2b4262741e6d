package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docflow/internal/document"
	"docflow/internal/stage"
	"docflow/internal/workflow"
)

// stageOp runs one versioned manager operation against a resolved document.
type stageOp func(ctx context.Context, mgr *workflow.Manager, id string, version int64) (*document.Record, error)

func newStageCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newVersionedCommand(ctx, "split <id>", "Split a PDF source into per-page files",
			func(c context.Context, m *workflow.Manager, id string, v int64) (*document.Record, error) {
				return m.Split(c, id, v)
			}),
		newVersionedCommand(ctx, "extract <id>", "Run OCR extraction",
			func(c context.Context, m *workflow.Manager, id string, v int64) (*document.Record, error) {
				return m.Extract(c, id, v)
			}),
		newEntitiesCommand(ctx),
		newConfirmCommand(ctx),
		newVersionedCommand(ctx, "skip-entities <id>", "Disable entity recognition and return to extracted",
			func(c context.Context, m *workflow.Manager, id string, v int64) (*document.Record, error) {
				return m.SkipEntities(c, id, v)
			}),
		newVersionedCommand(ctx, "refine <id>", "Run LLM refinement",
			func(c context.Context, m *workflow.Manager, id string, v int64) (*document.Record, error) {
				return m.Refine(c, id, v)
			}),
		newVersionedCommand(ctx, "retry <id>", "Reset a failed document to uploaded",
			func(c context.Context, m *workflow.Manager, id string, v int64) (*document.Record, error) {
				return m.Retry(c, id, v)
			}),
		newSetEntitiesCommand(ctx),
	}
}

func newVersionedCommand(ctx *commandContext, use, short string, op stageOp) *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersioned(ctx, cmd, args[0], version, op)
		},
	}
	addVersionFlag(cmd, &version)
	return cmd
}

func addVersionFlag(cmd *cobra.Command, target *int64) {
	cmd.Flags().Int64Var(target, "version", -1, "Expected document version (-1 uses the current version)")
}

func runVersioned(ctx *commandContext, cmd *cobra.Command, arg string, version int64, op stageOp) error {
	return ctx.withManager(cmd, func(runCtx context.Context, mgr *workflow.Manager) error {
		id, err := resolveDocumentID(runCtx, mgr, arg)
		if err != nil {
			return err
		}
		rec, err := op(runCtx, mgr, id, version)
		if err != nil {
			return err
		}
		printOutcome(cmd, rec)
		return nil
	})
}

func printOutcome(cmd *cobra.Command, rec *document.Record) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s now %s (version %d)\n", shortDocumentID(rec.ID), rec.Stage, rec.Version)
	if rec.LastError != nil && rec.LastError.Recoverable && rec.Stage != document.StageFailed {
		fmt.Fprintf(out, "warning: %s\n", rec.LastError.Message)
	}
}

func newEntitiesCommand(ctx *commandContext) *cobra.Command {
	var version int64
	var mode string
	var names []string

	cmd := &cobra.Command{
		Use:   "entities <id>",
		Short: "Run entity recognition (fast, deep, or manual_adjust)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := workflow.EntityRequest{Mode: mode, Names: names}
			return runVersioned(ctx, cmd, args[0], version,
				func(c context.Context, m *workflow.Manager, id string, v int64) (*document.Record, error) {
					return m.RecognizeEntities(c, id, v, req)
				})
		},
	}
	addVersionFlag(cmd, &version)
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Recognition mode (defaults to entity.default_mode)")
	cmd.Flags().StringSliceVar(&names, "names", nil, "Curated names for manual_adjust")
	return cmd
}

func newConfirmCommand(ctx *commandContext) *cobra.Command {
	var version int64
	var pairs []string
	var noGuidance bool

	cmd := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm recognised entities and record translation guidance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guidance, err := parseGuidance(pairs, noGuidance)
			if err != nil {
				return err
			}
			return ctx.withManager(cmd, func(runCtx context.Context, mgr *workflow.Manager) error {
				id, err := resolveDocumentID(runCtx, mgr, args[0])
				if err != nil {
					return err
				}
				newVersion, err := mgr.Confirm(runCtx, id, version, guidance)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s confirmed (version %d)\n", shortDocumentID(id), newVersion)
				return nil
			})
		},
	}
	addVersionFlag(cmd, &version)
	cmd.Flags().StringArrayVarP(&pairs, "guidance", "g", nil, "Guidance entry as source=target (repeatable)")
	cmd.Flags().BoolVar(&noGuidance, "no-guidance", false, "Confirm without any guidance entries")
	return cmd
}

// parseGuidance returns nil when no entries were given so the gate derives
// guidance from the recognised entities.
func parseGuidance(pairs []string, none bool) ([]stage.GuidanceEntry, error) {
	if none {
		if len(pairs) > 0 {
			return nil, fmt.Errorf("--no-guidance cannot be combined with --guidance")
		}
		return []stage.GuidanceEntry{}, nil
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	entries := make([]stage.GuidanceEntry, 0, len(pairs))
	for _, pair := range pairs {
		source, target, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(source) == "" || strings.TrimSpace(target) == "" {
			return nil, fmt.Errorf("invalid guidance %q (want source=target)", pair)
		}
		entries = append(entries, stage.GuidanceEntry{Source: strings.TrimSpace(source), Target: strings.TrimSpace(target)})
	}
	return entries, nil
}

func newSetEntitiesCommand(ctx *commandContext) *cobra.Command {
	var version int64

	cmd := &cobra.Command{
		Use:       "set-entities <id> <on|off>",
		Short:     "Toggle entity recognition before the entity stage starts",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch strings.ToLower(strings.TrimSpace(args[1])) {
			case "on":
				enabled = true
			case "off":
			default:
				return fmt.Errorf("invalid value %q (want on or off)", args[1])
			}
			return runVersioned(ctx, cmd, args[0], version,
				func(c context.Context, m *workflow.Manager, id string, v int64) (*document.Record, error) {
					return m.SetEntityRecognition(c, id, v, enabled)
				})
		},
	}
	addVersionFlag(cmd, &version)
	return cmd
}
