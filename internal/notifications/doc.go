// Package notifications delivers ntfy push messages for document
// transitions that need an operator: entity confirmation pending, refinement
// complete, and failures.
//
// The Notifier is an events.Sink, so delivery runs on the event hub's
// dispatcher and never delays a stage commit. A missing ntfy topic disables
// the notifier entirely.
package notifications
