// Package stageexec runs one stage handler against one document.
//
// Run loads the record, rejects busy records with ErrLocked, lets the
// handler check preconditions, claims the busy stage under a fresh lease
// token, heartbeats while the handler calls its adapters, and commits the
// handler's result with the lease's version. Failures become the failed
// stage unless the handler degrades them. A commit rejected because the
// lease was reclaimed is discarded.
package stageexec
