package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docflow/internal/document"
	"docflow/internal/entities"
	"docflow/internal/events"
	"docflow/internal/logging"
	"docflow/internal/services"
	"docflow/internal/stage"
	"docflow/internal/stageexec"
)

// Create registers a document at uploaded with version 0.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*document.Record, error) {
	source := strings.TrimSpace(req.SourcePath)
	if source == "" {
		return nil, services.Wrap(services.ErrValidation, "", "create", "source path is required", nil)
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "create", "resolve source path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "create", fmt.Sprintf("source %s is not readable", abs), err)
	}
	if info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "", "create", fmt.Sprintf("source %s is a directory", abs), nil)
	}
	enabled := m.cfg.Workflow.EntityRecognitionDefault
	if req.EntityRecognition != nil {
		enabled = *req.EntityRecognition
	}
	rec, err := m.store.Create(ctx, document.NewDocument{
		Name:                     req.Name,
		SourcePath:               abs,
		EntityRecognitionEnabled: enabled,
	})
	if err != nil {
		return nil, err
	}
	m.publish(rec)
	logging.WithContext(services.WithDocumentID(ctx, rec.ID), m.logger).Info("document registered",
		logging.String(logging.FieldEventType, "document_created"),
		logging.String("name", rec.Name),
		logging.Bool("entity_recognition", enabled),
	)
	return rec, nil
}

// Get returns the current record with payloads.
func (m *Manager) Get(ctx context.Context, id string) (*document.Record, error) {
	return m.store.Get(ctx, id)
}

// List returns records matching filter.
func (m *Manager) List(ctx context.Context, filter document.ListFilter) ([]*document.Record, error) {
	return m.store.List(ctx, filter)
}

// AvailableActions returns the record and the operations valid for it now.
func (m *Manager) AvailableActions(ctx context.Context, id string) (*document.Record, []document.Action, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return rec, document.AvailableActions(rec), nil
}

// Split runs the page-splitting stage.
func (m *Manager) Split(ctx context.Context, id string, expectedVersion int64) (*document.Record, error) {
	if m.stages.Splitter == nil {
		return nil, services.Wrap(services.ErrConfiguration, "splitting", "split", "splitting stage not configured", nil)
	}
	return m.runStage(ctx, m.stages.Splitter, id, expectedVersion)
}

// Extract runs OCR extraction.
func (m *Manager) Extract(ctx context.Context, id string, expectedVersion int64) (*document.Record, error) {
	return m.runStage(ctx, m.stages.Extractor, id, expectedVersion)
}

// RecognizeEntities runs entity recognition in the requested mode. An empty
// mode uses entity.default_mode.
func (m *Manager) RecognizeEntities(ctx context.Context, id string, expectedVersion int64, req EntityRequest) (*document.Record, error) {
	if m.stages.Entities == nil {
		return nil, services.Wrap(services.ErrConfiguration, "entities", "recognize", "entity stage not configured", nil)
	}
	mode, err := entities.ParseMode(req.Mode, m.stages.Entities.DefaultMode())
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "entities", "recognize", err.Error(), nil)
	}
	return m.runStage(ctx, m.stages.Entities.Handler(entities.Request{Mode: mode, Names: req.Names}), id, expectedVersion)
}

// Confirm approves recognised entities and returns the new version.
func (m *Manager) Confirm(ctx context.Context, id string, expectedVersion int64, guidance []stage.GuidanceEntry) (int64, error) {
	expected, err := m.resolveVersion(ctx, id, expectedVersion)
	if err != nil {
		return 0, err
	}
	return m.gate.Confirm(ctx, id, expected, guidance)
}

// SkipEntities abandons entity recognition for a document awaiting
// confirmation.
func (m *Manager) SkipEntities(ctx context.Context, id string, expectedVersion int64) (*document.Record, error) {
	expected, err := m.resolveVersion(ctx, id, expectedVersion)
	if err != nil {
		return nil, err
	}
	return m.gate.Skip(ctx, id, expected)
}

// Refine runs LLM refinement.
func (m *Manager) Refine(ctx context.Context, id string, expectedVersion int64) (*document.Record, error) {
	return m.runStage(ctx, m.stages.Refiner, id, expectedVersion)
}

// Retry moves a failed document back to uploaded. Payloads from earlier
// stages are kept; entity confirmation is reset.
func (m *Manager) Retry(ctx context.Context, id string, expectedVersion int64) (*document.Record, error) {
	return m.advance(ctx, id, expectedVersion, "retry", func(r *document.Record) error {
		if err := stage.RequireStage(r, "retry", document.StageFailed); err != nil {
			return err
		}
		r.Stage = document.StageUploaded
		r.EntityRecognitionConfirmed = false
		r.LastError = nil
		r.Progress = nil
		return nil
	})
}

// SetEntityRecognition changes the entity flag before the entity stage has
// started.
func (m *Manager) SetEntityRecognition(ctx context.Context, id string, expectedVersion int64, enabled bool) (*document.Record, error) {
	return m.advance(ctx, id, expectedVersion, "set entity recognition", func(r *document.Record) error {
		if r.EntityRecognitionEnabled == enabled {
			return services.Wrap(services.ErrValidation, r.Stage.String(), "set entity recognition",
				fmt.Sprintf("entity recognition already %s", onOff(enabled)), nil)
		}
		r.EntityRecognitionEnabled = enabled
		return nil
	})
}

// Remove deletes a document and its work directory. Busy documents are
// refused with ErrLocked.
func (m *Manager) Remove(ctx context.Context, id string) error {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Stage.Busy() {
		return services.Wrap(services.ErrLocked, rec.Stage.String(), "remove",
			fmt.Sprintf("document %s is processing (%s)", id, rec.Stage), nil)
	}
	if err := m.store.Remove(ctx, id); err != nil {
		return err
	}
	if err := os.RemoveAll(m.cfg.DocumentWorkDir(id)); err != nil {
		m.logger.Warn("failed to remove document work directory",
			logging.String(logging.FieldDocumentID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the directory manually"),
		)
	}
	return nil
}

func (m *Manager) runStage(ctx context.Context, handler stage.Handler, id string, expectedVersion int64) (*document.Record, error) {
	if handler == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "run stage", "stage handler not configured", nil)
	}
	rec, err := stageexec.Run(ctx, stageexec.Options{
		Logger:            m.logger,
		Store:             m.store,
		Publisher:         m.publisher,
		Handler:           handler,
		DocumentID:        id,
		ExpectedVersion:   expectedVersion,
		HeartbeatInterval: m.heartbeatInterval,
	})
	m.setLastDocument(rec)
	if err != nil && !isCallerError(err) {
		m.setLastError(err)
	}
	return rec, err
}

func (m *Manager) advance(ctx context.Context, id string, expectedVersion int64, op string, mutate func(*document.Record) error) (*document.Record, error) {
	expected, err := m.resolveVersion(ctx, id, expectedVersion)
	if err != nil {
		return nil, err
	}
	rec, err := m.store.TryAdvance(ctx, document.AdvanceRequest{
		ID:              id,
		ExpectedVersion: expected,
		Mutate:          mutate,
	})
	if err != nil {
		return nil, err
	}
	m.publish(rec)
	logging.WithContext(services.WithDocumentID(ctx, id), m.logger).Info("document updated",
		logging.String(logging.FieldEventType, strings.ReplaceAll(op, " ", "_")),
		logging.String(logging.FieldStage, rec.Stage.String()),
		logging.Int64(logging.FieldVersion, rec.Version),
	)
	return rec, nil
}

// resolveVersion maps a negative expected version to the current one.
func (m *Manager) resolveVersion(ctx context.Context, id string, expectedVersion int64) (int64, error) {
	if expectedVersion >= 0 {
		return expectedVersion, nil
	}
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.Version, nil
}

func (m *Manager) publish(rec *document.Record) {
	if m.publisher != nil && rec != nil {
		m.publisher.Publish(events.FromRecord(rec))
	}
}

// isCallerError reports errors caused by the request rather than the
// pipeline.
func isCallerError(err error) bool {
	for _, marker := range []error{
		services.ErrValidation, services.ErrConflict, services.ErrLocked,
		services.ErrConfirmationRequired, services.ErrNotFound,
	} {
		if errors.Is(err, marker) {
			return true
		}
	}
	return false
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
