package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"docflow/internal/events"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var documentFilter string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow document events published on Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.RedisEnabled() {
				return errors.New("watch requires events.redis_addr to be configured")
			}
			sink, err := events.NewRedisSink(cmd.Context(), events.RedisConfig{
				Addr:     cfg.Events.RedisAddr,
				Password: cfg.Events.RedisPassword,
				DB:       cfg.Events.RedisDB,
				Channel:  cfg.Events.Channel,
				Source:   cfg.Events.Source,
			})
			if err != nil {
				return err
			}
			defer sink.Close()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			filter := strings.TrimSpace(documentFilter)
			return sink.Subscribe(cmd.Context(), func(evt events.Event) {
				if filter != "" && !strings.HasPrefix(evt.DocumentID, filter) {
					return
				}
				if asJSON {
					_ = json.NewEncoder(out).Encode(evt)
					return
				}
				writeEventLine(out, evt, colorize)
			}, func(err error) {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipping malformed event: %v\n", err)
			})
		},
	}
	cmd.Flags().StringVarP(&documentFilter, "document", "d", "", "Only show events for this document id (prefix)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit one JSON object per event")
	return cmd
}

func writeEventLine(w io.Writer, evt events.Event, colorize bool) {
	kind := statusInfo
	switch {
	case evt.LastError != nil && evt.Stage == "failed":
		kind = statusError
	case evt.CoarseStatus == "completed":
		kind = statusOK
	case evt.Kind == events.KindProgress:
		kind = statusWarn
	}
	line := fmt.Sprintf("%s  %-8s %-10s %-22s %3d%%  v%d",
		evt.Timestamp.Local().Format("15:04:05"),
		shortDocumentID(evt.DocumentID),
		evt.Kind,
		evt.Stage,
		evt.Progress,
		evt.Version,
	)
	if evt.LastError != nil {
		line += "  " + evt.LastError.Kind + ": " + evt.LastError.Message
	}
	fmt.Fprintln(w, colorizeText(line, kind, colorize))
}
