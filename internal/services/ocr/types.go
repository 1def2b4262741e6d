package ocr

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"docflow/internal/services"
)

// Point is one polygon vertex in page pixel coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Region is one recognised text block. Dst carries the service's draft
// translation when it produces one.
type Region struct {
	ID         int     `json:"id"`
	Page       int     `json:"page,omitempty"`
	Src        string  `json:"src"`
	Dst        string  `json:"dst,omitempty"`
	Points     []Point `json:"points,omitempty"`
	LineCount  int     `json:"lineCount,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Page is the unit of extraction. Image is read from Path when empty.
type Page struct {
	Number int
	Path   string
	Image  []byte
}

// Result is the regions recognised on one page.
type Result struct {
	Regions  []Region `json:"regions"`
	Language string   `json:"language,omitempty"`
}

// Extractor recognises text regions on a page. Implementations perform a
// single attempt and classify failures as recoverable or fatal.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, page Page) (Result, error)
	HealthCheck(ctx context.Context) error
}

// LoadImage returns the page bytes, reading Path when Image is empty.
func (p Page) LoadImage() ([]byte, error) {
	if len(p.Image) > 0 {
		return p.Image, nil
	}
	if strings.TrimSpace(p.Path) == "" {
		return nil, services.Wrap(services.ErrValidation, "", "ocr load page", "page has no image or path", nil)
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "ocr load page", "read "+filepath.Base(p.Path), err)
	}
	return data, nil
}
