// Package entity is the client for the entity lookup service.
//
// Identify is the fast path (names only). Analyze is the deep path that
// verifies each name against external sources and returns a proposed
// translation, source URL, and confidence; given a curated name list it
// re-analyses only those names. Entities without a type default to
// ORGANIZATION.
package entity
