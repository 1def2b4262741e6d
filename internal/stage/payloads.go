package stage

import (
	"strings"

	"docflow/internal/document"
	"docflow/internal/services"
	"docflow/internal/services/entity"
	"docflow/internal/services/ocr"
)

// SplitPayload is written by the splitting stage.
type SplitPayload struct {
	PageCount int      `json:"pageCount"`
	Pages     []string `json:"pages"`
}

// ExtractionPayload is written by the extraction stage. Region IDs are
// unique across the whole document.
type ExtractionPayload struct {
	Engine    string       `json:"engine"`
	PageCount int          `json:"pageCount"`
	Regions   []ocr.Region `json:"regions"`
}

// Text joins the source text of every region in order.
func (p ExtractionPayload) Text() string {
	parts := make([]string, 0, len(p.Regions))
	for _, region := range p.Regions {
		if src := strings.TrimSpace(region.Src); src != "" {
			parts = append(parts, src)
		}
	}
	return strings.Join(parts, " ")
}

// GuidanceEntry is one approved source to target mapping.
type GuidanceEntry struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// EntityPayload is written by entity recognition and completed by the
// confirmation gate.
type EntityPayload struct {
	Mode      string          `json:"mode"`
	Requested []string        `json:"requested,omitempty"`
	Entities  []entity.Entity `json:"entities"`
	Guidance  []GuidanceEntry `json:"guidance,omitempty"`
}

// RefinementPayload is written by the refinement stage.
type RefinementPayload struct {
	Model       string              `json:"model,omitempty"`
	RefinedText string              `json:"refinedText"`
	PerRegion   []RefinedRegionText `json:"perRegion"`
	Guided      bool                `json:"guided"`
}

// RefinedRegionText is the refined translation for one region.
type RefinedRegionText struct {
	ID          int    `json:"id"`
	Translation string `json:"translation"`
	Original    string `json:"original,omitempty"`
}

// DecodePayload reads slot from rec, reporting a validation error naming
// stageName when the slot is missing or corrupt.
func DecodePayload[T any](rec *document.Record, slot document.Slot, stageName string) (T, error) {
	var out T
	ok, err := rec.DecodePayload(slot, &out)
	if err != nil {
		return out, services.Wrap(services.ErrValidation, stageName, "decode "+string(slot)+" payload",
			"stored payload is corrupt; retry the producing stage", err)
	}
	if !ok {
		return out, services.Wrap(services.ErrValidation, stageName, "decode "+string(slot)+" payload",
			"required "+string(slot)+" payload is missing", nil)
	}
	return out, nil
}
