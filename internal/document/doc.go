// Package document persists pipeline records in SQLite and owns the stage
// state machine.
//
// A Record is mutated only through Store.TryAdvance, the optimistic
// compare-and-swap primitive that also enforces the busy-stage lease and the
// transition table in transitions.go. Stage payloads live in a side table
// keyed by (document, slot) and are written in the same transaction as the
// record row, so a committed transition never exposes a half-written result.
//
// Holders of a busy stage may refresh their heartbeat and report sub-stage
// progress without bumping the version; the daemon reclaims busy records
// whose heartbeat has expired via ReclaimStale.
//
// Schema changes bump schemaVersion in schema.go; users delete the database
// to adopt the new schema.
package document
