// Package main hosts the docflow CLI entrypoint and command graph.
//
// The Cobra-based command tree opens the document store directly and drives
// the same workflow manager the daemon runs, so every manual operation goes
// through the version check and busy-stage guard. Events produced by CLI
// operations reach the configured sinks, which lets "docflow watch" follow
// both daemon and manual activity over Redis.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
