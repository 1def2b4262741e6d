package logging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docflow/internal/services"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.Any(FieldError, err)
}

// Args converts attributes into the variadic form slog methods accept.
func Args(attrs ...Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger tags logger with a component name. A nil logger
// yields a no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// defaultHints maps service error kinds to an operator next step.
var defaultHints = map[string]string{
	"validation":            "check the request arguments",
	"conflict":              "reload the document and retry with its current version",
	"locked":                "wait for the running stage to finish",
	"confirmation_required": "confirm the entities before refining",
	"upstream_timeout":      "the upstream service is slow; the stage can be retried",
	"upstream":              "check the upstream service health with docflow status --probe",
	"not_found":             "list documents with docflow list",
	"configuration":         "run docflow config validate",
}

const fallbackHint = "check logs for details"

// WarnWithContext logs at warn level with event_type, error_kind and
// error_hint filled in when the caller did not set them.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	logger.Warn(msg, Args(withEventFields(attrs, eventType)...)...)
}

// ErrorWithContext is WarnWithContext at error level.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	logger.Error(msg, Args(withEventFields(attrs, eventType)...)...)
}

func withEventFields(attrs []Attr, eventType string) []Attr {
	seen := make(map[string]bool, len(attrs))
	var cause error
	for _, a := range attrs {
		seen[a.Key] = true
		if a.Key == FieldError {
			if err, ok := a.Value.Any().(error); ok {
				cause = err
			}
		}
	}
	kind := ""
	var svcErr *services.Error
	if errors.As(cause, &svcErr) {
		kind = services.Kind(cause)
	}
	if !seen[FieldEventType] {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if kind != "" && !seen[FieldErrorKind] {
		attrs = append(attrs, String(FieldErrorKind, kind))
	}
	if !seen[FieldErrorHint] {
		hint, ok := defaultHints[kind]
		if !ok {
			hint = fallbackHint
		}
		attrs = append(attrs, String(FieldErrorHint, hint))
	}
	return attrs
}

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }

func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }

func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }
