package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"docflow/internal/document"
	"docflow/internal/services"
	"docflow/internal/stage"
	"docflow/internal/workflow"
)

type documentLister interface {
	List(ctx context.Context, filter document.ListFilter) ([]*document.Record, error)
}

// resolveDocumentID accepts a full ID or a unique prefix of one.
func resolveDocumentID(ctx context.Context, lister documentLister, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("document id is required")
	}
	records, err := lister.List(ctx, document.ListFilter{})
	if err != nil {
		return "", err
	}
	var matches []string
	for _, rec := range records {
		if rec.ID == arg {
			return rec.ID, nil
		}
		if strings.HasPrefix(rec.ID, arg) {
			matches = append(matches, rec.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", services.Wrap(services.ErrNotFound, "", "resolve document", fmt.Sprintf("no document matches %q", arg), nil)
	case 1:
		return matches[0], nil
	default:
		return "", services.Wrap(services.ErrValidation, "", "resolve document", fmt.Sprintf("%q matches %d documents", arg, len(matches)), nil)
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var name string
	var entities string

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Register a document for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := workflow.CreateRequest{Name: strings.TrimSpace(name), SourcePath: args[0]}
			if req.Name == "" {
				req.Name = filepath.Base(args[0])
			}
			switch strings.ToLower(strings.TrimSpace(entities)) {
			case "", "default":
			case "on":
				enabled := true
				req.EntityRecognition = &enabled
			case "off":
				enabled := false
				req.EntityRecognition = &enabled
			default:
				return fmt.Errorf("invalid --entities value %q (want on, off, or default)", entities)
			}
			return ctx.withManager(cmd, func(runCtx context.Context, mgr *workflow.Manager) error {
				rec, err := mgr.Create(runCtx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s) at version %d\n", rec.Name, rec.ID, rec.Version)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name (defaults to the file name)")
	cmd.Flags().StringVar(&entities, "entities", "default", "Entity recognition: on, off, or default")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var stages []string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := document.ListFilter{Limit: limit}
			for _, value := range statuses {
				status, err := document.ParseCoarseStatus(value)
				if err != nil {
					return err
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			for _, value := range stages {
				st, err := document.ParseStage(value)
				if err != nil {
					return err
				}
				filter.Stages = append(filter.Stages, st)
			}
			return ctx.withStore(func(store *document.Store) error {
				records, err := store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					views := make([]documentView, 0, len(records))
					for _, rec := range records {
						views = append(views, newDocumentView(rec, false))
					}
					return writeJSON(out, views)
				}
				if len(records) == 0 {
					fmt.Fprintln(out, "No documents")
					return nil
				}
				colorize := shouldColorize(out)
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Name", "Stage", "Status", "Progress", "Version", "Updated"},
					buildDocumentRows(records, colorize),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
					colorize,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by coarse status (repeatable)")
	cmd.Flags().StringSliceVar(&stages, "stage", nil, "Filter by stage (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum documents to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var showText bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *document.Store) error {
				id, err := resolveDocumentID(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				rec, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case asJSON:
					return writeJSON(out, newDocumentView(rec, true))
				case showText:
					refined, err := stage.DecodePayload[stage.RefinementPayload](rec, document.SlotRefinement, "show")
					if err != nil {
						return err
					}
					fmt.Fprintln(out, refined.RefinedText)
					return nil
				}
				for _, line := range describeDocument(rec, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON including stage payloads")
	cmd.Flags().BoolVar(&showText, "text", false, "Print only the refined text")
	return cmd
}

func newActionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "actions <id>",
		Short: "List operations currently available for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *document.Store) error {
				id, err := resolveDocumentID(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				rec, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				actions := document.AvailableActions(rec)
				if len(actions) == 0 {
					fmt.Fprintf(out, "No actions available at %s\n", rec.Stage)
					return nil
				}
				for _, action := range actions {
					fmt.Fprintln(out, action)
				}
				return nil
			})
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a document and its page work area",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(cmd, func(runCtx context.Context, mgr *workflow.Manager) error {
				id, err := resolveDocumentID(runCtx, mgr, args[0])
				if err != nil {
					return err
				}
				if err := mgr.Remove(runCtx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
				return nil
			})
		},
	}
}
