// Package stage defines the executor contract shared by the splitting,
// extraction, entity, and refinement stages, along with the payload shapes
// each stage writes into its slot.
package stage
