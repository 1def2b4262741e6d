// Package daemon coordinates the long-running docflow process.
//
// It ties configuration, document storage, the event hub, and the workflow
// manager into a single lifecycle with flock-based locking to prevent two
// daemons from driving the same state directory. Individual pipeline stages
// live in their own packages; the daemon only owns startup, shutdown, and
// status reporting.
package daemon
