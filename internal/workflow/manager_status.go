package workflow

import (
	"context"

	"docflow/internal/document"
	"docflow/internal/logging"
	"docflow/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running      bool
	LastError    string
	LastDocument *document.Record
	Counts       map[document.CoarseStatus]int
	StageHealth  map[string]stage.Health
}

// Status returns the latest workflow information and probes every stage.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastDoc := m.lastDoc
	m.mu.RUnlock()

	counts, err := m.store.Counts(ctx)
	if err != nil {
		m.logger.Warn("failed to read document counts", logging.Error(err))
	}

	summary := StatusSummary{Running: running, Counts: counts, StageHealth: m.StageHealth(ctx)}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastDoc != nil {
		summary.LastDocument = lastDoc.Clone()
	}
	return summary
}

// StageHealth runs every configured handler's health check.
func (m *Manager) StageHealth(ctx context.Context) map[string]stage.Health {
	health := make(map[string]stage.Health, 4)
	for _, handler := range []stage.Handler{m.stages.Splitter, m.stages.Extractor, m.stages.Refiner} {
		if handler == nil {
			continue
		}
		health[handler.Name()] = handler.HealthCheck(ctx)
	}
	if m.stages.Entities != nil {
		result := m.stages.Entities.HealthCheck(ctx)
		health[result.Name] = result
	}
	return health
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastDocument(rec *document.Record) {
	if rec == nil {
		return
	}
	m.mu.Lock()
	m.lastDoc = rec.Clone()
	m.mu.Unlock()
}
