// Package extraction implements the OCR stage.
//
// Pages come from the split payload when the splitting stage ran, otherwise
// the source file is treated as a single page. Pages are recognised
// concurrently (bounded by ocr.concurrency), each with its own retry budget,
// and the resulting regions are renumbered so IDs are unique across the
// document.
package extraction
