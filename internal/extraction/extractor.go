package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"docflow/internal/config"
	"docflow/internal/document"
	"docflow/internal/logging"
	"docflow/internal/retry"
	"docflow/internal/services"
	"docflow/internal/services/ocr"
	"docflow/internal/stage"
)

const (
	stageName = "extraction"

	// Mid-stage progress stays between the extracting and extracted
	// milestones.
	progressStart = 30
	progressSpan  = 19
)

// Extractor is the stage handler that runs OCR over every page.
type Extractor struct {
	cfg    *config.Config
	logger *slog.Logger
	engine ocr.Extractor
}

// NewExtractor constructs the extraction handler around engine.
func NewExtractor(cfg *config.Config, logger *slog.Logger, engine ocr.Extractor) *Extractor {
	return &Extractor{cfg: cfg, logger: logging.NewComponentLogger(logger, stageName), engine: engine}
}

// Name implements stage.Handler.
func (e *Extractor) Name() string { return stageName }

// Prepare requires an uploaded or split record and a configured engine.
func (e *Extractor) Prepare(_ context.Context, rec *document.Record) error {
	if err := stage.RequireStage(rec, stageName, document.StageUploaded, document.StageSplitCompleted); err != nil {
		return err
	}
	if e.engine == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "precondition", "no OCR engine configured", nil)
	}
	_, err := pagesFor(rec)
	return err
}

// Claim moves the record into the extracting stage.
func (e *Extractor) Claim(rec *document.Record) error {
	rec.Stage = document.StageExtracting
	return nil
}

// Execute recognises every page and merges the regions in page order.
func (e *Extractor) Execute(ctx context.Context, rec *document.Record, progress stage.Reporter) (stage.Commit, error) {
	logger := logging.WithContext(ctx, e.logger)
	pages, err := pagesFor(rec)
	if err != nil {
		return nil, err
	}

	policy := stage.RetryPolicy(e.cfg, e.cfg.AdapterTimeouts().OCRPage, logger)
	limit := e.cfg.OCR.Concurrency
	if limit <= 0 {
		limit = 1
	}

	results := make([]ocr.Result, len(pages))
	var completed atomic.Int32
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for i, page := range pages {
		group.Go(func() error {
			result, err := retry.DoValue(groupCtx, policy, "ocr page", func(ctx context.Context) (ocr.Result, error) {
				return e.engine.Extract(ctx, page)
			})
			if err != nil {
				return fmt.Errorf("page %d: %w", page.Number, err)
			}
			results[i] = result
			done := int(completed.Add(1))
			progress.Progress(ctx, progressStart+progressSpan*done/len(pages))
			logger.Debug("page recognised",
				logging.Int("page", page.Number),
				logging.Int("regions", len(result.Regions)),
			)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	regions := mergeRegions(pages, results)
	if len(regions) == 0 {
		return nil, services.Wrap(services.ErrUpstream, stageName, "ocr", "no text regions", nil)
	}
	payload := stage.ExtractionPayload{
		Engine:    e.engine.Name(),
		PageCount: len(pages),
		Regions:   regions,
	}
	logger.Info("text regions extracted",
		logging.String(logging.FieldEventType, "extraction_complete"),
		logging.String("engine", payload.Engine),
		logging.Int("page_count", payload.PageCount),
		logging.Int("region_count", len(regions)),
	)
	return func(r *document.Record) error {
		r.Stage = document.StageExtracted
		return r.SetPayload(document.SlotExtraction, payload)
	}, nil
}

// HealthCheck probes the OCR engine.
func (e *Extractor) HealthCheck(ctx context.Context) stage.Health {
	if e.engine == nil {
		return stage.Probe(ctx, stageName, "OCR engine", nil)
	}
	return stage.Probe(ctx, stageName, e.engine.Name()+" engine", e.engine.HealthCheck)
}

func pagesFor(rec *document.Record) ([]ocr.Page, error) {
	if rec.Stage == document.StageSplitCompleted || rec.Payload(document.SlotSplit) != nil {
		split, err := stage.DecodePayload[stage.SplitPayload](rec, document.SlotSplit, stageName)
		if err != nil {
			return nil, err
		}
		if len(split.Pages) == 0 {
			return nil, services.Wrap(services.ErrValidation, stageName, "precondition", "split payload lists no pages", nil)
		}
		pages := make([]ocr.Page, 0, len(split.Pages))
		for i, path := range split.Pages {
			pages = append(pages, ocr.Page{Number: i + 1, Path: path})
		}
		return pages, nil
	}
	if strings.TrimSpace(rec.SourcePath) == "" {
		return nil, services.Wrap(services.ErrValidation, stageName, "precondition", "document has no source file", nil)
	}
	return []ocr.Page{{Number: 1, Path: rec.SourcePath}}, nil
}

// mergeRegions concatenates page results in page order and assigns
// document-wide region IDs.
func mergeRegions(pages []ocr.Page, results []ocr.Result) []ocr.Region {
	var regions []ocr.Region
	for i, result := range results {
		for _, region := range result.Regions {
			if strings.TrimSpace(region.Src) == "" {
				continue
			}
			region.ID = len(regions)
			region.Page = pages[i].Number
			regions = append(regions, region)
		}
	}
	return regions
}
