package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docflow/internal/document"
	"docflow/internal/entities"
	"docflow/internal/logging"
	"docflow/internal/services"
)

const defaultPollInterval = 5 * time.Second

// autoStages are the idle stages the loop advances.
var autoStages = []document.Stage{
	document.StageUploaded,
	document.StageSplitCompleted,
	document.StageExtracted,
	document.StageEntityConfirmed,
}

// Start begins the auto-advance loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.stages.Extractor == nil || m.stages.Refiner == nil {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.loop(runCtx)
	return nil
}

// Stop ends dispatch and waits for in-flight stages to finish. Running stages
// are not cancelled; they commit or fail on their own.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	logger := m.logger
	for {
		if ctx.Err() != nil {
			return
		}
		m.Tick(ctx, logger)
		m.waitOrShutdown(ctx)
	}
}

// Tick performs one reclaim and dispatch pass. Dispatched stages run in the
// background bounded by the concurrency limit and outlive cancellation of
// ctx, which only stops further dispatch.
func (m *Manager) Tick(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		logger = m.logger
	}
	if _, err := m.reclaimer.ReclaimStale(ctx, logger); err != nil {
		m.setLastError(err)
		logger.Warn("reclaim stale documents failed; stuck documents may remain",
			logging.Error(err),
			logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
			logging.String(logging.FieldErrorHint, "check document database access"),
		)
	}
	if !m.cfg.Workflow.AutoAdvance {
		return
	}

	candidates, err := m.store.List(ctx, document.ListFilter{Stages: autoStages})
	if err != nil {
		m.setLastError(err)
		logger.Error("failed to list documents",
			logging.Error(err),
			logging.String(logging.FieldEventType, "document_fetch_failed"),
			logging.String(logging.FieldErrorHint, "check document database access"),
		)
		return
	}
	for _, rec := range candidates {
		step, ok := m.nextStep(rec)
		if !ok || !m.claimInflight(rec.ID) {
			continue
		}
		select {
		case m.slots <- struct{}{}:
		case <-ctx.Done():
			m.releaseInflight(rec.ID)
			return
		}
		m.wg.Add(1)
		stageCtx := context.WithoutCancel(ctx)
		go func(rec *document.Record, step plannedStep) {
			defer m.wg.Done()
			defer func() { <-m.slots }()
			defer m.releaseInflight(rec.ID)
			m.runStep(stageCtx, rec, step)
		}(rec, step)
	}
}

// nextStep picks the automatic operation for an idle record.
func (m *Manager) nextStep(rec *document.Record) (plannedStep, bool) {
	switch rec.Stage {
	case document.StageUploaded:
		if m.cfg.Workflow.SplitPDFs && m.stages.Splitter != nil {
			return plannedStep{action: document.ActionSplit, handler: m.stages.Splitter}, true
		}
		return plannedStep{action: document.ActionExtract, handler: m.stages.Extractor}, true
	case document.StageSplitCompleted:
		return plannedStep{action: document.ActionExtract, handler: m.stages.Extractor}, true
	case document.StageExtracted:
		if rec.EntityRecognitionEnabled {
			if m.stages.Entities == nil {
				return plannedStep{}, false
			}
			handler := m.stages.Entities.Handler(entities.Request{Mode: m.stages.Entities.DefaultMode()})
			return plannedStep{action: document.ActionRecognizeEntities, handler: handler}, true
		}
		return plannedStep{action: document.ActionRefine, handler: m.stages.Refiner}, true
	case document.StageEntityConfirmed:
		return plannedStep{action: document.ActionRefine, handler: m.stages.Refiner}, true
	default:
		return plannedStep{}, false
	}
}

func (m *Manager) runStep(ctx context.Context, rec *document.Record, step plannedStep) {
	stepCtx := services.WithNewRequestID(ctx)
	_, err := m.runStage(stepCtx, step.handler, rec.ID, rec.Version)
	if err == nil {
		return
	}
	logger := logging.WithContext(services.WithDocumentID(stepCtx, rec.ID), m.logger)
	switch {
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrLocked):
		logger.Debug("document changed before auto-advance",
			logging.String("action", string(step.action)),
			logging.Error(err),
		)
	case isCallerError(err):
		logger.Warn("auto-advance precondition failed",
			logging.String("action", string(step.action)),
			logging.Error(err),
			logging.String(logging.FieldEventType, "auto_advance_rejected"),
			logging.String(logging.FieldErrorHint, "inspect the document with docflow show"),
		)
	}
}

func (m *Manager) claimInflight(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[id]; ok {
		return false
	}
	m.inflight[id] = struct{}{}
	return true
}

func (m *Manager) releaseInflight(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

func (m *Manager) waitOrShutdown(ctx context.Context) {
	interval := m.pollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	select {
	case <-ctx.Done():
	case <-time.After(interval):
	}
}
