package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrConflict             = errors.New("version conflict")
	ErrLocked               = errors.New("document locked")
	ErrConfirmationRequired = errors.New("entity confirmation required")
	ErrUpstreamTimeout      = errors.New("upstream timeout")
	ErrUpstream             = errors.New("upstream error")
	ErrNotFound             = errors.New("not found")
	ErrConfiguration        = errors.New("configuration error")
)

// Error is the structured failure reported by stores, adapters, and stage
// executors. The marker is one of the sentinels above and survives errors.Is.
type Error struct {
	Marker      error
	Stage       string
	Operation   string
	Message     string
	Recoverable bool
	Cause       error
}

func (e *Error) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	marker := e.Marker
	if marker == nil {
		marker = ErrUpstream
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", marker, detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", marker, detail)
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Marker != nil {
		out = append(out, e.Marker)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// ErrorKind reports the stable kind label used in logs and persisted lastError.
func (e *Error) ErrorKind() string {
	return kindOf(e.Marker)
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. Upstream timeouts are marked
// recoverable; everything else is fatal unless built with WrapRecoverable.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrUpstream
	}
	return &Error{
		Marker:      marker,
		Stage:       strings.TrimSpace(stage),
		Operation:   strings.TrimSpace(operation),
		Message:     strings.TrimSpace(message),
		Recoverable: errors.Is(marker, ErrUpstreamTimeout),
		Cause:       err,
	}
}

// WrapRecoverable is Wrap with the recoverable flag forced on.
func WrapRecoverable(marker error, stage, operation, message string, err error) error {
	wrapped := Wrap(marker, stage, operation, message, err).(*Error)
	wrapped.Recoverable = true
	return wrapped
}

// IsRecoverable reports whether err describes a transient failure that may be
// retried or degraded instead of terminating the document.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Recoverable
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUpstreamTimeout)
}

// Details summarises an error for persistence and display.
type Details struct {
	Kind        string
	Stage       string
	Operation   string
	Message     string
	Recoverable bool
}

// Describe extracts Details from err. Errors that were not built by Wrap are
// reported as kind "internal" with their full message.
func Describe(err error) Details {
	if err == nil {
		return Details{}
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		msg := svcErr.Message
		if svcErr.Cause != nil {
			if msg == "" {
				msg = svcErr.Cause.Error()
			} else {
				msg = msg + ": " + svcErr.Cause.Error()
			}
		}
		return Details{
			Kind:        svcErr.ErrorKind(),
			Stage:       svcErr.Stage,
			Operation:   svcErr.Operation,
			Message:     msg,
			Recoverable: svcErr.Recoverable,
		}
	}
	return Details{Kind: Kind(err), Message: err.Error(), Recoverable: IsRecoverable(err)}
}

// Kind returns the kind label of the first marker found in err's chain.
func Kind(err error) string {
	for _, marker := range []error{
		ErrValidation, ErrConflict, ErrLocked, ErrConfirmationRequired,
		ErrUpstreamTimeout, ErrUpstream, ErrNotFound, ErrConfiguration,
	} {
		if errors.Is(err, marker) {
			return kindOf(marker)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return kindOf(ErrUpstreamTimeout)
	}
	return "internal"
}

func kindOf(marker error) string {
	switch marker {
	case ErrValidation:
		return "validation"
	case ErrConflict:
		return "conflict"
	case ErrLocked:
		return "locked"
	case ErrConfirmationRequired:
		return "confirmation_required"
	case ErrUpstreamTimeout:
		return "upstream_timeout"
	case ErrUpstream:
		return "upstream"
	case ErrNotFound:
		return "not_found"
	case ErrConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
