package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"docflow/internal/services"
	"docflow/internal/services/ocr"
)

const operationExtract = "tesseract extract"

// Engine runs Tesseract locally through gosseract and reports one region per
// recognised text line.
type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// New constructs an engine for the given Tesseract language codes.
func New(languages []string) *Engine {
	return &Engine{languages: append([]string(nil), languages...), clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Extract recognises text lines on a raster page. PDF pages are rejected;
// the HTTP engine handles those.
func (e *Engine) Extract(ctx context.Context, page ocr.Page) (ocr.Result, error) {
	image, err := page.LoadImage()
	if err != nil {
		return ocr.Result{}, err
	}
	if bytes.HasPrefix(image, []byte("%PDF")) {
		return ocr.Result{}, services.Wrap(services.ErrValidation, "", operationExtract, "tesseract requires raster page images", nil)
	}
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, services.ClassifyTransport(operationExtract, err)
	}

	client := e.clientFactory()
	defer client.Close()

	if len(e.languages) > 0 {
		if err := client.SetLanguage(e.languages...); err != nil {
			return ocr.Result{}, services.Wrap(services.ErrConfiguration, "", operationExtract, "set languages", err)
		}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return ocr.Result{}, services.Wrap(services.ErrValidation, "", operationExtract, "set image", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return ocr.Result{}, services.Wrap(services.ErrUpstream, "", operationExtract, "recognize lines", err)
	}

	regions := make([]ocr.Region, 0, len(boxes))
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		rect := box.Box
		regions = append(regions, ocr.Region{
			ID:   len(regions),
			Page: page.Number,
			Src:  text,
			Points: []ocr.Point{
				{X: rect.Min.X, Y: rect.Min.Y},
				{X: rect.Max.X, Y: rect.Min.Y},
				{X: rect.Max.X, Y: rect.Max.Y},
				{X: rect.Min.X, Y: rect.Max.Y},
			},
			LineCount:  1,
			Confidence: box.Confidence / 100.0,
		})
	}
	return ocr.Result{Regions: regions, Language: firstLanguage(e.languages)}, nil
}

// HealthCheck verifies every configured language has trained data installed.
func (e *Engine) HealthCheck(context.Context) error {
	available, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return fmt.Errorf("tesseract health: list languages: %w", err)
	}
	installed := make(map[string]struct{}, len(available))
	for _, lang := range available {
		installed[lang] = struct{}{}
	}
	for _, lang := range e.languages {
		if _, ok := installed[lang]; !ok {
			return fmt.Errorf("tesseract health: language %q not installed (tesseract %s)", lang, gosseract.Version())
		}
	}
	return nil
}

func firstLanguage(langs []string) string {
	if len(langs) == 0 {
		return ""
	}
	return langs[0]
}
