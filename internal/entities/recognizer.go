package entities

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
	"docflow/internal/services/entity"
	"docflow/internal/stage"
)

const stageName = "entities"

// Lookup is the entity service contract used by the recognizer.
type Lookup interface {
	Identify(ctx context.Context, text string) ([]entity.Entity, error)
	Analyze(ctx context.Context, req entity.AnalyzeRequest) ([]entity.Entity, error)
	HealthCheck(ctx context.Context) error
}

// Request selects the mode of one recognition run. Names is only used by
// manual adjustment.
type Request struct {
	Mode  Mode
	Names []string
}

// Recognizer builds entity stage handlers for individual requests.
type Recognizer struct {
	cfg    *config.Config
	logger *slog.Logger
	lookup Lookup
}

// NewRecognizer constructs the recognizer around lookup.
func NewRecognizer(cfg *config.Config, logger *slog.Logger, lookup Lookup) *Recognizer {
	return &Recognizer{cfg: cfg, logger: logging.NewComponentLogger(logger, stageName), lookup: lookup}
}

// DefaultMode returns the configured mode used when a caller names none.
func (r *Recognizer) DefaultMode() Mode {
	if r.cfg == nil {
		return ModeFast
	}
	mode, err := ParseMode(r.cfg.Entity.DefaultMode, ModeFast)
	if err != nil {
		return ModeFast
	}
	return mode
}

// Handler returns the stage handler for req.
func (r *Recognizer) Handler(req Request) stage.Handler {
	if req.Mode == "" {
		req.Mode = r.DefaultMode()
	}
	return &recognition{Recognizer: r, req: req}
}

// HealthCheck probes the entity service.
func (r *Recognizer) HealthCheck(ctx context.Context) stage.Health {
	if r.lookup == nil {
		return stage.Probe(ctx, stageName, "entity service", nil)
	}
	return stage.Probe(ctx, stageName, "entity service", r.lookup.HealthCheck)
}

type recognition struct {
	*Recognizer
	req Request
}

func (h *recognition) Name() string { return stageName }

func (h *recognition) Prepare(_ context.Context, rec *document.Record) error {
	switch h.req.Mode {
	case ModeFast, ModeDeep:
		if err := stage.RequireStage(rec, stageName, document.StageExtracted, document.StageEntityPendingConfirm); err != nil {
			return err
		}
	case ModeManualAdjust:
		if err := stage.RequireStage(rec, stageName, document.StageEntityPendingConfirm); err != nil {
			return err
		}
		if len(cleanNames(h.req.Names)) == 0 {
			return services.Wrap(services.ErrValidation, stageName, "precondition",
				"manual adjustment requires at least one entity name", nil)
		}
	default:
		return services.Wrap(services.ErrValidation, stageName, "precondition",
			fmt.Sprintf("unknown entity mode %q", h.req.Mode), nil)
	}
	if h.lookup == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "precondition", "entity service not configured", nil)
	}
	_, err := stage.DecodePayload[stage.ExtractionPayload](rec, document.SlotExtraction, stageName)
	return err
}

func (h *recognition) Claim(rec *document.Record) error {
	if rec.Stage == document.StageExtracted {
		rec.EntityRecognitionEnabled = true
	}
	rec.EntityMode = string(h.req.Mode)
	rec.Stage = document.StageEntityRecognizing
	return nil
}

func (h *recognition) Execute(ctx context.Context, rec *document.Record, progress stage.Reporter) (stage.Commit, error) {
	logger := logging.WithContext(ctx, h.logger).With(logging.String("entity_mode", string(h.req.Mode)))
	extracted, err := stage.DecodePayload[stage.ExtractionPayload](rec, document.SlotExtraction, stageName)
	if err != nil {
		return nil, err
	}

	timeouts := h.cfg.AdapterTimeouts()
	timeout := timeouts.EntityDeep
	if h.req.Mode == ModeFast {
		timeout = timeouts.EntityFast
	}
	policy := stage.RetryPolicy(h.cfg, timeout, logger)

	names := cleanNames(h.req.Names)
	text := extracted.Text()
	started := time.Now()
	found, err := retry.DoValue(ctx, policy, "entity "+string(h.req.Mode), func(ctx context.Context) ([]entity.Entity, error) {
		switch h.req.Mode {
		case ModeFast:
			return h.lookup.Identify(ctx, text)
		case ModeManualAdjust:
			return h.lookup.Analyze(ctx, entity.AnalyzeRequest{Names: names})
		default:
			return h.lookup.Analyze(ctx, entity.AnalyzeRequest{Text: text})
		}
	})
	if err != nil {
		return nil, err
	}
	progress.Progress(ctx, 58)

	payload := stage.EntityPayload{Mode: string(h.req.Mode), Entities: found}
	if h.req.Mode == ModeManualAdjust {
		payload.Requested = names
		if missing := len(names) - len(found); missing > 0 {
			logger.Info("names without lookup results dropped", logging.Int("dropped", missing))
		}
	}
	logger.Info("entities recognised",
		logging.String(logging.FieldEventType, "entity_recognition_complete"),
		logging.Int("entity_count", len(found)),
		logging.Duration("elapsed", time.Since(started)),
	)

	if h.req.Mode == ModeDeep {
		return func(r *document.Record) error {
			if err := r.SetPayload(document.SlotEntity, payload); err != nil {
				return err
			}
			return ConfirmMutation(r, nil)
		}, nil
	}
	return func(r *document.Record) error {
		r.Stage = document.StageEntityPendingConfirm
		return r.SetPayload(document.SlotEntity, payload)
	}, nil
}

// Degrade rolls recoverable lookup failures back to extracted with entity
// recognition disabled so refinement can proceed without guidance.
func (h *recognition) Degrade(rec *document.Record, err error) bool {
	if !services.IsRecoverable(err) {
		return false
	}
	details := services.Describe(err)
	rec.LastError = &document.StageError{
		Kind:        details.Kind,
		Stage:       rec.Stage.String(),
		Message:     details.Message,
		Recoverable: true,
		At:          time.Now().UTC(),
	}
	rec.Stage = document.StageExtracted
	rec.EntityRecognitionEnabled = false
	rec.Progress = nil
	return true
}

func (h *recognition) HealthCheck(ctx context.Context) stage.Health {
	return h.Recognizer.HealthCheck(ctx)
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		key := foldName(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
