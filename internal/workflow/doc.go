// Package workflow is the orchestration facade over the document pipeline.
//
// The Manager exposes one method per caller operation (create, split,
// extract, recognise entities, confirm, skip, refine, retry) and runs each
// stage through the shared stage template, so every method inherits the
// busy-stage lease, version check, and event publication. Callers pass the
// version they last read; stale versions are rejected with ErrConflict.
//
// When started, the Manager also runs the auto-advance loop used by the
// daemon: it reclaims busy stages whose holder stopped heartbeating and
// moves idle documents forward until they reach a human decision
// (entity_pending_confirm), a terminal stage, or failed. The number of
// documents processed at once is bounded by workflow.max_concurrent_documents.
package workflow
