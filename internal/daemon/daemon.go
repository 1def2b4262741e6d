package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"

	"docflow/internal/config"
	"docflow/internal/document"
	"docflow/internal/events"
	"docflow/internal/logging"
	"docflow/internal/workflow"
)

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *document.Store
	workflow *workflow.Manager
	hub      *events.Hub

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	Workflow      workflow.StatusSummary
	DatabasePath  string
	LockFilePath  string
	EventsDropped uint64
}

// New constructs a daemon with initialized dependencies. The hub may be nil.
func New(cfg *config.Config, store *document.Store, logger *slog.Logger, wf *workflow.Manager, hub *events.Hub) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		hub:      hub,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the workflow manager.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another docflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start workflow: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("docflow daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("docflow daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon, drains the event hub, and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.hub != nil {
		d.hub.Close()
	}
	return d.store.Close()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Workflow:     d.workflow.Status(ctx),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if d.hub != nil {
		status.EventsDropped = d.hub.Dropped()
	}
	return status
}

// IsRunning reports whether another process holds the daemon lock for cfg.
func IsRunning(cfg *config.Config) (bool, error) {
	probe := flock.New(cfg.LockPath())
	ok, err := probe.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe lock: %w", err)
	}
	if !ok {
		return true, nil
	}
	return false, probe.Unlock()
}
