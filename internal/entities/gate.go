package entities

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"docflow/internal/document"
	"docflow/internal/events"
	"docflow/internal/logging"
	"docflow/internal/services"
	"docflow/internal/stage"
)

const gateName = "entity_gate"

// Gate records the human decision on recognised entities.
type Gate struct {
	store     *document.Store
	publisher events.Publisher
	logger    *slog.Logger
}

// NewGate constructs a gate writing through store and publishing committed
// transitions to publisher (which may be nil).
func NewGate(store *document.Store, publisher events.Publisher, logger *slog.Logger) *Gate {
	return &Gate{store: store, publisher: publisher, logger: logging.NewComponentLogger(logger, gateName)}
}

// Confirm approves the entities of a document waiting at
// entity_pending_confirm and stores guidance for refinement. A nil guidance
// slice approves every recognised entity that has a target; an empty
// non-nil slice confirms without guidance.
//
// Confirming an already confirmed document is a no-op returning the current
// version, unless expectedVersion is ahead of it.
func (g *Gate) Confirm(ctx context.Context, id string, expectedVersion int64, guidance []stage.GuidanceEntry) (int64, error) {
	ctx = services.WithStage(services.WithDocumentID(ctx, id), gateName)
	logger := logging.WithContext(ctx, g.logger)

	current, err := g.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if current.EntityRecognitionConfirmed {
		if expectedVersion > current.Version {
			return current.Version, services.Wrap(services.ErrConflict, gateName, "confirm",
				fmt.Sprintf("document %s expected version %d, current %d", id, expectedVersion, current.Version), nil)
		}
		logger.Debug("entities already confirmed", logging.Int64(logging.FieldVersion, current.Version))
		return current.Version, nil
	}

	updated, err := g.store.TryAdvance(ctx, document.AdvanceRequest{
		ID:              id,
		ExpectedVersion: expectedVersion,
		Mutate: func(r *document.Record) error {
			if err := stage.RequireStage(r, gateName, document.StageEntityPendingConfirm); err != nil {
				return err
			}
			return ConfirmMutation(r, guidance)
		},
	})
	if err != nil {
		return 0, err
	}
	g.publish(updated)
	logger.Info("entities confirmed",
		logging.String(logging.FieldEventType, "entities_confirmed"),
		logging.Int64(logging.FieldVersion, updated.Version),
	)
	return updated.Version, nil
}

// Skip abandons entity recognition for a document waiting at
// entity_pending_confirm. The document returns to extracted with recognition
// disabled; the unconfirmed entity payload stays for inspection.
func (g *Gate) Skip(ctx context.Context, id string, expectedVersion int64) (*document.Record, error) {
	ctx = services.WithStage(services.WithDocumentID(ctx, id), gateName)
	updated, err := g.store.TryAdvance(ctx, document.AdvanceRequest{
		ID:              id,
		ExpectedVersion: expectedVersion,
		Mutate: func(r *document.Record) error {
			if err := stage.RequireStage(r, gateName, document.StageEntityPendingConfirm); err != nil {
				return err
			}
			r.Stage = document.StageExtracted
			r.EntityRecognitionEnabled = false
			r.LastError = nil
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	g.publish(updated)
	logging.WithContext(ctx, g.logger).Info("entity recognition skipped",
		logging.String(logging.FieldEventType, "entities_skipped"),
		logging.Int64(logging.FieldVersion, updated.Version),
	)
	return updated, nil
}

func (g *Gate) publish(rec *document.Record) {
	if g.publisher != nil {
		g.publisher.Publish(events.FromRecord(rec))
	}
}

// ConfirmMutation is the only code that sets the confirmation flag. It is
// shared by Confirm and by deep recognition, which confirms its own results.
// A nil guidance slice derives guidance from the stored entities.
func ConfirmMutation(r *document.Record, guidance []stage.GuidanceEntry) error {
	payload, err := stage.DecodePayload[stage.EntityPayload](r, document.SlotEntity, gateName)
	if err != nil {
		return err
	}
	if guidance == nil {
		guidance = make([]stage.GuidanceEntry, 0, len(payload.Entities))
		for _, item := range payload.Entities {
			guidance = append(guidance, stage.GuidanceEntry{Source: item.Source, Target: item.Target})
		}
	}
	payload.Guidance = NormalizeGuidance(guidance)
	if err := r.SetPayload(document.SlotEntity, payload); err != nil {
		return err
	}
	r.EntityRecognitionConfirmed = true
	r.Stage = document.StageEntityConfirmed
	return nil
}

// NormalizeGuidance trims entries, drops those without a source or target,
// and removes duplicates whose sources differ only in width, case, or
// Unicode composition. The first entry for a source wins.
func NormalizeGuidance(entries []stage.GuidanceEntry) []stage.GuidanceEntry {
	out := make([]stage.GuidanceEntry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		source := strings.TrimSpace(norm.NFKC.String(entry.Source))
		target := strings.TrimSpace(entry.Target)
		if source == "" || target == "" {
			continue
		}
		key := foldName(source)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, stage.GuidanceEntry{Source: source, Target: target})
	}
	return out
}

func foldName(value string) string {
	folded := width.Fold.String(norm.NFKC.String(value))
	folded = cases.Fold().String(folded)
	return strings.Join(strings.Fields(folded), " ")
}
