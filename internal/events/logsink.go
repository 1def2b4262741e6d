package events

import (
	"context"
	"log/slog"

	"docflow/internal/logging"
)

// LogSink writes every event at debug level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink that logs through logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logging.NewComponentLogger(logger, "events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, evt Event) error {
	s.logger.DebugContext(ctx, "document event",
		logging.String(logging.FieldEventType, "document_"+string(evt.Kind)),
		logging.String(logging.FieldDocumentID, evt.DocumentID),
		logging.String(logging.FieldStage, evt.Stage),
		logging.String("coarse_status", evt.CoarseStatus),
		logging.Int("progress", evt.Progress),
		logging.Int64(logging.FieldVersion, evt.Version),
	)
	return nil
}
