package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docflow/internal/services"
)

// ReportProgress stores an explicit progress value for a busy record. Only
// the lease holder may report; the version is not bumped.
func (s *Store) ReportProgress(ctx context.Context, id, holder string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	now := formatTime(s.now())
	return s.holderUpdate(ctx, id, holder, "report progress",
		`UPDATE documents SET progress = ?, heartbeat_at = ?, updated_at = ? WHERE id = ? AND holder = ?`,
		percent, now, now, id, holder)
}

// Heartbeat refreshes the lease of a busy record.
func (s *Store) Heartbeat(ctx context.Context, id, holder string) error {
	now := formatTime(s.now())
	return s.holderUpdate(ctx, id, holder, "heartbeat",
		`UPDATE documents SET heartbeat_at = ? WHERE id = ? AND holder = ?`,
		now, id, holder)
}

func (s *Store) holderUpdate(ctx context.Context, id, holder, op, query string, args ...any) error {
	if holder == "" {
		return services.Wrap(services.ErrValidation, "", op, "holder token required", nil)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrConflict, "", op, fmt.Sprintf("document %s lease lost", id), nil)
	}
	return nil
}

// ReclaimStale releases busy records whose holder stopped heartbeating before
// cutoff. The entity stage rolls back to extracted with entity recognition
// disabled; other busy stages fail. Both record a recoverable timeout. The
// reclaim bumps the version, so a late commit from the original holder is
// rejected with ErrConflict. A heartbeat that lands between the scan and the
// reclaim keeps the lease.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) ([]*Record, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM documents
         WHERE stage IN (?, ?, ?, ?) AND (heartbeat_at IS NULL OR heartbeat_at < ?)`,
		StageSplitting.String(),
		StageExtracting.String(),
		StageEntityRecognizing.String(),
		StageRefining.String(),
		formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale documents: %w", err)
	}
	var stale []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale document: %w", err)
		}
		stale = append(stale, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate stale documents: %w", err)
	}
	rows.Close()

	var reclaimed []*Record
	for _, rec := range stale {
		updated, err := s.TryAdvance(ctx, AdvanceRequest{
			ID:              rec.ID,
			ExpectedVersion: rec.Version,
			Holder:          rec.Holder,
			Mutate:          reclaimMutation(cutoff),
		})
		if err != nil {
			if errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrLocked) {
				continue
			}
			return reclaimed, fmt.Errorf("reclaim document %s: %w", rec.ID, err)
		}
		reclaimed = append(reclaimed, updated)
	}
	return reclaimed, nil
}

// reclaimMutation runs against the row re-read inside the advance
// transaction, so the heartbeat is checked again there.
func reclaimMutation(cutoff time.Time) func(*Record) error {
	return func(rec *Record) error {
		if rec.HeartbeatAt != nil && !rec.HeartbeatAt.Before(cutoff) {
			return services.Wrap(services.ErrConflict, rec.Stage.String(), "reclaim",
				fmt.Sprintf("document %s heartbeat is current", rec.ID), nil)
		}
		message := fmt.Sprintf("%s abandoned: holder heartbeat expired", rec.Stage)
		if rec.Stage == StageEntityRecognizing {
			rec.LastError = &StageError{
				Kind:        "upstream_timeout",
				Stage:       rec.Stage.String(),
				Message:     message,
				Recoverable: true,
				At:          time.Now().UTC(),
			}
			rec.Stage = StageExtracted
			rec.EntityRecognitionEnabled = false
			rec.Progress = nil
			return nil
		}
		rec.Fail("upstream_timeout", message, true)
		return nil
	}
}
