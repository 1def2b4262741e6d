package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"docflow/internal/services"
)

// AdvanceRequest describes one compare-and-swap write.
type AdvanceRequest struct {
	ID              string
	ExpectedVersion int64

	// Holder is the lease token of the executor that owns the current busy
	// stage. External callers leave it empty.
	Holder string

	// Lease marks a busy-stage claim: Mutate must move the record from an
	// idle stage into a busy one, and Holder becomes the lease token. A claim
	// is checked against ExpectedVersion like any other write but does not
	// bump the version; the executor's closing commit does.
	Lease bool

	Mutate func(*Record) error
}

// TryAdvance is the only path that writes a record's stage, payloads, or
// entity flags. It rejects with ErrLocked when the record is busy and the
// caller does not hold the lease, and with ErrConflict when ExpectedVersion
// is stale. Every accepted non-lease write increments the version by one.
func (s *Store) TryAdvance(ctx context.Context, req AdvanceRequest) (*Record, error) {
	ctx = ensureContext(ctx)
	if req.Mutate == nil {
		return nil, errors.New("try advance: mutate function required")
	}
	var result *Record
	err := retryOnBusy(ctx, func() error {
		rec, err := s.tryAdvanceOnce(ctx, req)
		result = rec
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) tryAdvanceOnce(ctx context.Context, req AdvanceRequest) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin advance tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := loadRecord(ctx, tx, req.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "try advance", fmt.Sprintf("document %s", req.ID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	if before.Stage.Busy() && (req.Holder == "" || req.Holder != before.Holder) {
		return nil, lockedError(before)
	}
	if req.ExpectedVersion != before.Version {
		return nil, services.Wrap(services.ErrConflict, before.Stage.String(), "try advance",
			fmt.Sprintf("document %s expected version %d, current %d", before.ID, req.ExpectedVersion, before.Version), nil)
	}

	after := before.Clone()
	if err := req.Mutate(after); err != nil {
		return nil, err
	}
	if err := validateTransition(before, after); err != nil {
		return nil, err
	}

	now := s.now()
	after.UpdatedAt = now
	after.CoarseStatus = after.Stage.CoarseStatus()
	if req.Lease {
		if before.Stage.Busy() || !after.Stage.Busy() {
			return nil, services.Wrap(services.ErrValidation, before.Stage.String(), "try advance",
				fmt.Sprintf("lease must enter a busy stage, got %s -> %s", before.Stage, after.Stage), nil)
		}
		if strings.TrimSpace(req.Holder) == "" {
			return nil, services.Wrap(services.ErrValidation, before.Stage.String(), "try advance", "lease requires a holder token", nil)
		}
		after.Holder = req.Holder
		after.HeartbeatAt = &now
		after.Version = before.Version
	} else {
		if after.Stage.Busy() && after.Stage != before.Stage {
			return nil, services.Wrap(services.ErrValidation, before.Stage.String(), "try advance",
				fmt.Sprintf("entering busy stage %s requires a lease", after.Stage), nil)
		}
		after.Version = before.Version + 1
	}
	if !after.Stage.Busy() {
		after.Holder = ""
		after.HeartbeatAt = nil
	}

	lastErr, err := encodeLastError(after.LastError)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(
		ctx,
		`UPDATE documents SET
            name = ?, stage = ?, coarse_status = ?, version = ?,
            entity_enabled = ?, entity_confirmed = ?, entity_mode = ?,
            last_error_json = ?, progress = ?, holder = ?, heartbeat_at = ?, updated_at = ?
        WHERE id = ? AND version = ?`,
		after.Name,
		after.Stage.String(),
		string(after.CoarseStatus),
		after.Version,
		boolToInt(after.EntityRecognitionEnabled),
		boolToInt(after.EntityRecognitionConfirmed),
		nullableString(after.EntityMode),
		lastErr,
		nullableInt(after.Progress),
		nullableString(after.Holder),
		nullableTime(after.HeartbeatAt),
		formatTime(now),
		after.ID,
		before.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	if affected == 0 {
		return nil, services.Wrap(services.ErrConflict, before.Stage.String(), "try advance",
			fmt.Sprintf("document %s changed concurrently", before.ID), nil)
	}

	for _, slot := range changedSlots(before, after) {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO stage_payloads (document_id, slot, payload, updated_at) VALUES (?, ?, ?, ?)
             ON CONFLICT(document_id, slot) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			after.ID,
			string(slot),
			string(after.Payloads[slot]),
			formatTime(now),
		); err != nil {
			return nil, fmt.Errorf("write %s payload: %w", slot, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit advance: %w", err)
	}
	return after, nil
}

func lockedError(rec *Record) error {
	return services.Wrap(services.ErrLocked, rec.Stage.String(), "try advance",
		fmt.Sprintf("document %s is processing (%s)", rec.ID, rec.Stage), nil)
}
