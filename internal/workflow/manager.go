package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/config"
	"docflow/internal/document"
	"docflow/internal/entities"
	"docflow/internal/events"
	"docflow/internal/logging"
)

// Manager coordinates caller operations and the auto-advance loop.
type Manager struct {
	cfg       *config.Config
	store     *document.Store
	logger    *slog.Logger
	publisher events.Publisher
	stages    StageSet
	gate      *entities.Gate

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	reclaimer         *Reclaimer
	slots             chan struct{}

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastDoc  *document.Record
	inflight map[string]struct{}
}

// NewManager constructs a workflow manager. publisher may be nil.
func NewManager(cfg *config.Config, store *document.Store, logger *slog.Logger, publisher events.Publisher, stages StageSet) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	limit := cfg.Workflow.MaxConcurrentDocuments
	if limit <= 0 {
		limit = 1
	}
	return &Manager{
		cfg:               cfg,
		store:             store,
		logger:            logger,
		publisher:         publisher,
		stages:            stages,
		gate:              entities.NewGate(store, publisher, logger),
		pollInterval:      time.Duration(cfg.Workflow.PollInterval) * time.Second,
		heartbeatInterval: time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		reclaimer: NewReclaimer(
			store,
			publisher,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		slots:    make(chan struct{}, limit),
		inflight: make(map[string]struct{}),
	}
}

// Gate exposes the entity confirmation gate.
func (m *Manager) Gate() *entities.Gate {
	return m.gate
}
