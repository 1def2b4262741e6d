package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docflow/internal/document"
	"docflow/internal/events"
	"docflow/internal/logging"
	"docflow/internal/services"
	"docflow/internal/stage"
)

const defaultHeartbeat = 15 * time.Second

// Options controls one stage execution.
type Options struct {
	Logger    *slog.Logger
	Store     *document.Store
	Publisher events.Publisher
	Handler   stage.Handler

	DocumentID string
	// ExpectedVersion is the version the caller read. Negative means the
	// version loaded by Run is used.
	ExpectedVersion int64

	HeartbeatInterval time.Duration
}

// Run executes a stage against one document: precondition check, busy-stage
// claim, adapter work, and a closing commit. Every committed transition is
// published. The returned record is the last committed state.
func Run(ctx context.Context, opts Options) (*document.Record, error) {
	if opts.Handler == nil {
		return nil, errors.New("stage handler unavailable")
	}
	if opts.Store == nil {
		return nil, errors.New("document store is required")
	}
	name := opts.Handler.Name()

	stageCtx := services.WithStage(services.WithDocumentID(ctx, opts.DocumentID), name)
	logger := logging.WithContext(stageCtx, opts.Logger)

	rec, err := opts.Store.Get(stageCtx, opts.DocumentID)
	if err != nil {
		return nil, err
	}
	expected := opts.ExpectedVersion
	if expected < 0 {
		expected = rec.Version
	}
	if rec.Stage.Busy() {
		return rec, services.Wrap(services.ErrLocked, name, "start",
			fmt.Sprintf("document %s is processing (%s)", rec.ID, rec.Stage), nil)
	}
	if rec.Version != expected {
		return rec, services.Wrap(services.ErrConflict, name, "start",
			fmt.Sprintf("document %s expected version %d, current %d", rec.ID, expected, rec.Version), nil)
	}
	if err := opts.Handler.Prepare(stageCtx, rec); err != nil {
		logger.Info("stage precondition rejected",
			logging.String(logging.FieldEventType, "stage_rejected"),
			logging.String("current_stage", rec.Stage.String()),
			logging.Error(err),
		)
		return rec, err
	}

	holder := uuid.NewString()
	claimed, err := opts.Store.TryAdvance(stageCtx, document.AdvanceRequest{
		ID:              rec.ID,
		ExpectedVersion: expected,
		Holder:          holder,
		Lease:           true,
		Mutate:          opts.Handler.Claim,
	})
	if err != nil {
		return rec, err
	}
	publish(opts.Publisher, events.FromRecord(claimed))

	logger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_stage", claimed.Stage.String()),
		logging.Int64(logging.FieldVersion, claimed.Version),
		logging.String("source_file", strings.TrimSpace(claimed.SourcePath)),
	)

	stopHeartbeat := startHeartbeat(stageCtx, logger, opts.Store, claimed.ID, holder, opts.HeartbeatInterval)
	reporter := &progressReporter{store: opts.Store, publisher: opts.Publisher, logger: logger, rec: claimed, holder: holder}
	started := time.Now()
	commit, execErr := opts.Handler.Execute(stageCtx, claimed.Clone(), reporter)
	stopHeartbeat()

	// Commits must land even when the caller's context ended mid-call.
	commitCtx := context.WithoutCancel(stageCtx)
	if execErr == nil {
		final, err := opts.Store.TryAdvance(commitCtx, document.AdvanceRequest{
			ID:              claimed.ID,
			ExpectedVersion: claimed.Version,
			Holder:          holder,
			Mutate: func(r *document.Record) error {
				if err := commit(r); err != nil {
					return err
				}
				r.LastError = nil
				r.Progress = nil
				return nil
			},
		})
		if err == nil {
			publish(opts.Publisher, events.FromRecord(final))
			logger.Info(
				"stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.String("next_stage", final.Stage.String()),
				logging.Int64(logging.FieldVersion, final.Version),
				logging.Duration("elapsed", time.Since(started)),
			)
			return final, nil
		}
		if leaseLost(err) {
			return discardLate(logger, claimed, err)
		}
		execErr = err
	}

	if errors.Is(execErr, context.Canceled) {
		execErr = services.WrapRecoverable(services.ErrUpstreamTimeout, name, "execute", "interrupted before completion", execErr)
	}
	return handleFailure(commitCtx, logger, opts, claimed, holder, execErr)
}

func handleFailure(ctx context.Context, logger *slog.Logger, opts Options, claimed *document.Record, holder string, stageErr error) (*document.Record, error) {
	details := services.Describe(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = "stage failed"
	}
	degraded := false
	final, err := opts.Store.TryAdvance(ctx, document.AdvanceRequest{
		ID:              claimed.ID,
		ExpectedVersion: claimed.Version,
		Holder:          holder,
		Mutate: func(r *document.Record) error {
			if d, ok := opts.Handler.(stage.Degrader); ok && d.Degrade(r, stageErr) {
				degraded = true
				return nil
			}
			r.Fail(details.Kind, message, details.Recoverable)
			return nil
		},
	})
	if err != nil {
		if leaseLost(err) {
			return discardLate(logger, claimed, err)
		}
		logger.Error("failed to persist stage failure",
			logging.String(logging.FieldEventType, "stage_failure_persist"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the stale-lease reclaimer will release the document"),
		)
		return claimed, stageErr
	}
	publish(opts.Publisher, events.FromRecord(final))

	if degraded {
		logging.WarnWithContext(logger, "stage degraded", "stage_degraded",
			logging.String("resolved_stage", final.Stage.String()),
			logging.String("error_message", message),
			logging.Error(stageErr),
			logging.String(logging.FieldErrorHint, "document can continue without this stage"),
		)
	} else {
		logging.ErrorWithContext(logger, "stage failed", "stage_failure",
			logging.String("resolved_stage", final.Stage.String()),
			logging.String(logging.FieldErrorKind, details.Kind),
			logging.Bool("recoverable", details.Recoverable),
			logging.String("error_message", message),
			logging.Error(stageErr),
			logging.String(logging.FieldErrorHint, "use the retry action once the cause is fixed"),
		)
	}
	return final, stageErr
}

func leaseLost(err error) bool {
	return errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrLocked)
}

// discardLate drops a result whose lease was reclaimed while the adapter
// call was still running.
func discardLate(logger *slog.Logger, claimed *document.Record, err error) (*document.Record, error) {
	logging.WarnWithContext(logger, "late stage result discarded", "stage_result_discarded",
		logging.Int64(logging.FieldVersion, claimed.Version),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "lease expired before the stage finished; raise workflow.heartbeat_timeout"),
	)
	return claimed, err
}

func publish(p events.Publisher, evt events.Event) {
	if p == nil {
		return
	}
	p.Publish(evt)
}

func startHeartbeat(ctx context.Context, logger *slog.Logger, store *document.Store, id, holder string, interval time.Duration) func() {
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	hbCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := store.Heartbeat(hbCtx, id, holder); err != nil {
					logger.Warn("heartbeat update failed", logging.Error(err))
					if errors.Is(err, services.ErrConflict) {
						return
					}
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

type progressReporter struct {
	store     *document.Store
	publisher events.Publisher
	logger    *slog.Logger
	rec       *document.Record
	holder    string

	mu   sync.Mutex
	last int
}

// Progress stores and publishes percent. Values never move backwards.
func (r *progressReporter) Progress(ctx context.Context, percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if percent <= r.last {
		return
	}
	r.last = percent

	if err := r.store.ReportProgress(context.WithoutCancel(ctx), r.rec.ID, r.holder, percent); err != nil {
		r.logger.Debug("progress update failed", logging.Int("percent", percent), logging.Error(err))
		return
	}
	publish(r.publisher, events.Progress(r.rec, percent))
}
