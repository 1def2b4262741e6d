package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const recordColumns = "id, name, source_path, stage, coarse_status, version, entity_enabled, entity_confirmed, entity_mode, last_error_json, progress, holder, heartbeat_at, created_at, updated_at"

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id           string
		name         string
		sourcePath   sql.NullString
		stageRaw     string
		statusRaw    string
		version      int64
		entityOn     int64
		entityOK     int64
		entityMode   sql.NullString
		lastErrorRaw sql.NullString
		progress     sql.NullInt64
		holder       sql.NullString
		heartbeatRaw sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&id,
		&name,
		&sourcePath,
		&stageRaw,
		&statusRaw,
		&version,
		&entityOn,
		&entityOK,
		&entityMode,
		&lastErrorRaw,
		&progress,
		&holder,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	stage, err := ParseStage(stageRaw)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	status, err := ParseCoarseStatus(statusRaw)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}

	rec := &Record{
		ID:                         id,
		Name:                       name,
		SourcePath:                 sourcePath.String,
		Stage:                      stage,
		CoarseStatus:               status,
		Version:                    version,
		EntityRecognitionEnabled:   entityOn != 0,
		EntityRecognitionConfirmed: entityOK != 0,
		EntityMode:                 entityMode.String,
		Holder:                     holder.String,
	}
	if lastErrorRaw.Valid && lastErrorRaw.String != "" {
		var stageErr StageError
		if err := json.Unmarshal([]byte(lastErrorRaw.String), &stageErr); err != nil {
			return nil, fmt.Errorf("document %s: decode last error: %w", id, err)
		}
		rec.LastError = &stageErr
	}
	if progress.Valid {
		value := int(progress.Int64)
		rec.Progress = &value
	}
	if heartbeatRaw.Valid {
		if hb, err := parseTimeString(heartbeatRaw.String); err == nil {
			rec.HeartbeatAt = &hb
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	return rec, nil
}

func loadRecord(ctx context.Context, q queryer, id string) (*Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM documents WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}
	payloads, err := loadPayloads(ctx, q, id)
	if err != nil {
		return nil, err
	}
	rec.Payloads = payloads
	return rec, nil
}

func loadPayloads(ctx context.Context, q queryer, id string) (map[Slot]json.RawMessage, error) {
	rows, err := q.QueryContext(ctx, `SELECT slot, payload FROM stage_payloads WHERE document_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query payloads: %w", err)
	}
	defer rows.Close()

	payloads := make(map[Slot]json.RawMessage)
	for rows.Next() {
		var slotRaw, payload string
		if err := rows.Scan(&slotRaw, &payload); err != nil {
			return nil, fmt.Errorf("scan payload: %w", err)
		}
		slot, err := ParseSlot(slotRaw)
		if err != nil {
			return nil, err
		}
		payloads[slot] = json.RawMessage(payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payloads: %w", err)
	}
	return payloads, nil
}

func encodeLastError(stageErr *StageError) (any, error) {
	if stageErr == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(stageErr)
	if err != nil {
		return nil, fmt.Errorf("encode last error: %w", err)
	}
	return string(encoded), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// timeLayout keeps a fixed-width fraction so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
