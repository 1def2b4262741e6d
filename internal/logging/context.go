package logging

import (
	"context"
	"log/slog"

	"docflow/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldDocumentID is the standardized key for document identifiers.
	FieldDocumentID = "document_id"
	// FieldStage is the standardized key for pipeline stage names.
	FieldStage = "stage"
	// FieldCorrelationID is the standardized key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (e.g. stage_failed).
	FieldEventType = "event_type"
	// FieldErrorHint suggests a next step to the operator.
	FieldErrorHint = "error_hint"
	FieldError     = "error"
	// FieldErrorKind is the services error kind (validation, upstream, ...).
	FieldErrorKind = "error_kind"
	// FieldVersion is the document version at the time of the log line.
	FieldVersion = "version"
)

// ContextFields returns the correlation attributes carried by ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	scope := services.ScopeFromContext(ctx)
	pairs := [...][2]string{
		{FieldDocumentID, scope.DocumentID},
		{FieldStage, scope.Stage},
		{FieldCorrelationID, scope.RequestID},
	}
	var fields []slog.Attr
	for _, p := range pairs {
		if p[1] != "" {
			fields = append(fields, slog.String(p[0], p[1]))
		}
	}
	return fields
}

// WithContext binds the correlation attributes of ctx to logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(Args(fields...)...)
	}
	return logger
}
