package workflow

import (
	"context"
	"log/slog"
	"time"

	"docflow/internal/document"
	"docflow/internal/events"
	"docflow/internal/logging"
)

// Reclaimer releases busy stages whose holder stopped heartbeating.
type Reclaimer struct {
	store     *document.Store
	publisher events.Publisher
	timeout   time.Duration
	now       func() time.Time
}

// NewReclaimer creates a reclaimer. A non-positive timeout disables it.
func NewReclaimer(store *document.Store, publisher events.Publisher, timeout time.Duration) *Reclaimer {
	return &Reclaimer{store: store, publisher: publisher, timeout: timeout, now: time.Now}
}

// ReclaimStale rolls back or fails every busy document whose heartbeat is
// older than the timeout, publishing each change.
func (r *Reclaimer) ReclaimStale(ctx context.Context, logger *slog.Logger) (int, error) {
	if r == nil || r.timeout <= 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-r.timeout)
	reclaimed, err := r.store.ReclaimStale(ctx, cutoff)
	for _, rec := range reclaimed {
		if r.publisher != nil {
			r.publisher.Publish(events.FromRecord(rec))
		}
		logging.WarnWithContext(logger, "reclaimed stale document", "heartbeat_reclaimed",
			logging.String(logging.FieldDocumentID, rec.ID),
			logging.String("resolved_stage", rec.Stage.String()),
			logging.String(logging.FieldErrorHint, "the stage holder stopped heartbeating; use retry if the document failed"),
		)
	}
	return len(reclaimed), err
}
