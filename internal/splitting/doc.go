// Package splitting implements the optional page-splitting stage.
//
// PDF sources are split into one file per page with pdfcpu inside the
// document's work directory. Any other source is passed through as a single
// page so extraction can treat both cases the same way.
package splitting
