// Package preflight provides readiness checks for the filesystem paths and
// external services docflow depends on.
//
// The daemon runs RunAll at startup and logs every failed check; the CLI
// "docflow config validate --probe" command prints the same results. Checks
// for optional services (Redis, ntfy) are skipped when they are not
// configured.
package preflight
