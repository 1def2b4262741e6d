package events

import (
	"time"

	"docflow/internal/document"
)

// Kind distinguishes stage transitions from mid-stage progress reports.
type Kind string

const (
	KindTransition Kind = "transition"
	KindProgress   Kind = "progress"
)

// ErrorInfo mirrors document.StageError for observers.
type ErrorInfo struct {
	Kind        string `json:"kind"`
	Stage       string `json:"stage,omitempty"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Event is the observer-facing view of one committed change.
type Event struct {
	Sequence     uint64     `json:"seq"`
	Kind         Kind       `json:"kind"`
	DocumentID   string     `json:"documentId"`
	Name         string     `json:"name,omitempty"`
	CoarseStatus string     `json:"coarseStatus"`
	Stage        string     `json:"stage"`
	Progress     int        `json:"progress"`
	Version      int64      `json:"version"`
	LastError    *ErrorInfo `json:"lastError,omitempty"`
	Timestamp    time.Time  `json:"ts"`
}

// FromRecord builds a transition event from a committed record.
func FromRecord(rec *document.Record) Event {
	if rec == nil {
		return Event{}
	}
	evt := Event{
		Kind:         KindTransition,
		DocumentID:   rec.ID,
		Name:         rec.Name,
		CoarseStatus: string(rec.CoarseStatus),
		Stage:        rec.Stage.String(),
		Progress:     rec.EffectiveProgress(),
		Version:      rec.Version,
		Timestamp:    rec.UpdatedAt,
	}
	if rec.LastError != nil {
		evt.LastError = &ErrorInfo{
			Kind:        rec.LastError.Kind,
			Stage:       rec.LastError.Stage,
			Message:     rec.LastError.Message,
			Recoverable: rec.LastError.Recoverable,
		}
	}
	return evt
}

// Progress builds a progress event for a busy record.
func Progress(rec *document.Record, percent int) Event {
	evt := FromRecord(rec)
	evt.Kind = KindProgress
	evt.Progress = percent
	evt.Timestamp = time.Now().UTC()
	return evt
}
