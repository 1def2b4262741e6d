package document

// ReclaimMutation exposes the reclaim step so tests can replay a heartbeat
// that lands after the stale scan.
var ReclaimMutation = reclaimMutation
