// Package logging builds the slog loggers used by the CLI and daemon.
//
// Handlers come in two formats: a console layout that hoists document_id and
// stage next to the message, and one JSON object per line. The daemon always
// appends JSON to its log file. WithContext stamps document, stage and
// correlation ids from services.Scope, and WarnWithContext/ErrorWithContext
// add event_type, error_kind and error_hint fields.
package logging
