// Package events publishes document progress to observers.
//
// Stage executors call Hub.Publish after every committed transition and for
// mid-stage progress. Publish never blocks and never fails: events land in a
// bounded ring buffer (Fetch by sequence), are offered to subscriber
// channels, and are queued for sinks that a single dispatcher goroutine
// drains. Sink failures are logged only.
//
// Sinks: RedisSink (CloudEvents JSON over Redis pub/sub, also used by the
// CLI's watch command), LogSink, and the ntfy notifier in
// internal/notifications.
package events
