package refinement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docflow/internal/config"
	"docflow/internal/document"
	"docflow/internal/logging"
	"docflow/internal/retry"
	"docflow/internal/services"
	"docflow/internal/services/llm"
	"docflow/internal/stage"
)

const (
	stageName = "refinement"

	progressStart = 70
	progressSpan  = 29
)

// Model is the language-model contract used by the refiner.
type Model interface {
	Refine(ctx context.Context, req llm.RefineRequest) (llm.Result, error)
	HealthCheck(ctx context.Context) error
}

// Refiner is the stage handler for LLM refinement.
type Refiner struct {
	cfg    *config.Config
	logger *slog.Logger
	model  Model
}

// NewRefiner constructs the refinement handler around model.
func NewRefiner(cfg *config.Config, logger *slog.Logger, model Model) *Refiner {
	return &Refiner{cfg: cfg, logger: logging.NewComponentLogger(logger, stageName), model: model}
}

// Name implements stage.Handler.
func (r *Refiner) Name() string { return stageName }

// Prepare checks the stage first; only a refinable document with enabled
// but unconfirmed entity recognition reports the confirmation gate.
func (r *Refiner) Prepare(_ context.Context, rec *document.Record) error {
	if err := stage.RequireStage(rec, stageName, document.StageExtracted, document.StageEntityConfirmed); err != nil {
		return err
	}
	if rec.EntityRecognitionEnabled && !rec.EntityRecognitionConfirmed {
		return services.Wrap(services.ErrConfirmationRequired, stageName, "precondition",
			"entities must be confirmed or skipped before refinement", nil)
	}
	if r.model == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "precondition", "language model not configured", nil)
	}
	_, err := stage.DecodePayload[stage.ExtractionPayload](rec, document.SlotExtraction, stageName)
	return err
}

// Claim moves the record into the refining stage.
func (r *Refiner) Claim(rec *document.Record) error {
	rec.Stage = document.StageRefining
	return nil
}

// Execute refines every batch in order. Any batch that still fails after its
// retries fails the stage.
func (r *Refiner) Execute(ctx context.Context, rec *document.Record, progress stage.Reporter) (stage.Commit, error) {
	logger := logging.WithContext(ctx, r.logger)
	extracted, err := stage.DecodePayload[stage.ExtractionPayload](rec, document.SlotExtraction, stageName)
	if err != nil {
		return nil, err
	}
	guidance, err := r.guidanceFor(rec)
	if err != nil {
		return nil, err
	}

	regions := make([]llm.Region, 0, len(extracted.Regions))
	for _, region := range extracted.Regions {
		regions = append(regions, llm.Region{ID: region.ID, Text: region.Src, Draft: region.Dst})
	}
	batches := llm.Batches(regions, r.cfg.LLM.BatchSize)
	if len(batches) == 0 {
		return nil, services.Wrap(services.ErrValidation, stageName, "prepare batches", "no regions with text to refine", nil)
	}

	policy := stage.RetryPolicy(r.cfg, r.cfg.AdapterTimeouts().Refinement, logger)
	started := time.Now()
	parts := make([][]llm.RegionResult, 0, len(batches))
	for i, batch := range batches {
		result, err := retry.DoValue(ctx, policy, "llm refine", func(ctx context.Context) (llm.Result, error) {
			return r.model.Refine(ctx, llm.RefineRequest{Regions: batch, Guidance: guidance})
		})
		if err != nil {
			return nil, fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
		}
		parts = append(parts, result.PerRegion)
		progress.Progress(ctx, progressStart+progressSpan*(i+1)/len(batches))
		logger.Debug("batch refined",
			logging.Int("batch", i+1),
			logging.Int("batches", len(batches)),
			logging.Int("regions", len(result.PerRegion)),
		)
	}

	merged := llm.Merge(parts...)
	payload := stage.RefinementPayload{
		Model:       strings.TrimSpace(r.cfg.LLM.Model),
		RefinedText: merged.RefinedText,
		PerRegion:   make([]stage.RefinedRegionText, 0, len(merged.PerRegion)),
		Guided:      len(guidance) > 0,
	}
	for _, item := range merged.PerRegion {
		payload.PerRegion = append(payload.PerRegion, stage.RefinedRegionText{
			ID:          item.ID,
			Translation: item.Translation,
			Original:    item.Original,
		})
	}
	logger.Info("refinement complete",
		logging.String(logging.FieldEventType, "refinement_complete"),
		logging.Int("batches", len(batches)),
		logging.Int("regions", len(payload.PerRegion)),
		logging.Int("guidance_terms", len(guidance)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return func(rec *document.Record) error {
		rec.Stage = document.StageRefined
		return rec.SetPayload(document.SlotRefinement, payload)
	}, nil
}

// HealthCheck probes the model endpoint.
func (r *Refiner) HealthCheck(ctx context.Context) stage.Health {
	if r.model == nil {
		return stage.Probe(ctx, stageName, "language model", nil)
	}
	return stage.Probe(ctx, stageName, "language model", r.model.HealthCheck)
}

// guidanceFor returns confirmed entity guidance when enabled in config.
func (r *Refiner) guidanceFor(rec *document.Record) ([]llm.Term, error) {
	if !r.cfg.Workflow.UseEntityGuidance || !rec.EntityRecognitionConfirmed {
		return nil, nil
	}
	payload, err := stage.DecodePayload[stage.EntityPayload](rec, document.SlotEntity, stageName)
	if err != nil {
		return nil, err
	}
	terms := make([]llm.Term, 0, len(payload.Guidance))
	for _, entry := range payload.Guidance {
		terms = append(terms, llm.Term{Source: entry.Source, Target: entry.Target})
	}
	return terms, nil
}
