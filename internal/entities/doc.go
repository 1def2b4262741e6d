// Package entities implements entity recognition and the confirmation gate.
//
// Recognition runs in one of three modes. Fast identification stops at
// entity_pending_confirm for a human decision. Deep analysis confirms its
// own results through the gate's mutation and lands at entity_confirmed.
// Manual adjustment re-analyses a curated list of names from
// entity_pending_confirm. Recoverable lookup failures roll the document back
// to extracted with entity recognition switched off instead of failing it.
//
// The Gate owns every write of the confirmation flag. Refinement refuses to
// run while recognition is enabled and unconfirmed.
package entities
