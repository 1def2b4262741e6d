// Package services defines shared utilities consumed by the stage executors
// and the external service adapters.
//
// Key responsibilities:
//   - Context helpers that stamp document IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that carry the
//     recoverable/fatal classification from adapters up to the executors.
//
// Adapter clients live in subpackages (ocr, entity, llm). Each performs a
// single attempt per call; retries belong to the caller's retry policy.
package services
