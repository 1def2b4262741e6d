// Package refinement implements the LLM refinement stage: regions from the
// extraction payload are sent to the model in batches, optionally with the
// confirmed entity guidance, and the per-region translations are merged into
// the refined text.
package refinement
