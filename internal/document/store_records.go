package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"docflow/internal/services"
)

// NewDocument describes a document being registered with the pipeline.
type NewDocument struct {
	Name                     string
	SourcePath               string
	EntityRecognitionEnabled bool
	EntityMode               string
}

// Create inserts a new record at StageUploaded with version 0.
func (s *Store) Create(ctx context.Context, doc NewDocument) (*Record, error) {
	ctx = ensureContext(ctx)
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = filepath.Base(strings.TrimSpace(doc.SourcePath))
	}
	if name == "" || name == "." {
		return nil, services.Wrap(services.ErrValidation, "", "create", "document name or source path required", nil)
	}
	now := s.now()
	rec := &Record{
		ID:                       uuid.NewString(),
		Name:                     name,
		SourcePath:               strings.TrimSpace(doc.SourcePath),
		Stage:                    StageUploaded,
		CoarseStatus:             StageUploaded.CoarseStatus(),
		EntityRecognitionEnabled: doc.EntityRecognitionEnabled,
		EntityMode:               strings.TrimSpace(doc.EntityMode),
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO documents (
            id, name, source_path, stage, coarse_status, version,
            entity_enabled, entity_confirmed, entity_mode, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Name,
		nullableString(rec.SourcePath),
		rec.Stage.String(),
		string(rec.CoarseStatus),
		rec.Version,
		boolToInt(rec.EntityRecognitionEnabled),
		0,
		nullableString(rec.EntityMode),
		formatTime(now),
		formatTime(now),
	); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return s.Get(ctx, rec.ID)
}

// Get fetches a record with all of its payloads.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	ctx = ensureContext(ctx)
	rec, err := loadRecord(ctx, s.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "get", fmt.Sprintf("document %s", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return rec, nil
}

// ListFilter narrows List results. Empty fields match everything.
type ListFilter struct {
	Stages   []Stage
	Statuses []CoarseStatus
	Limit    int
}

// List returns records ordered by creation time. Payloads are not loaded.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	ctx = ensureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if len(filter.Stages) > 0 {
		clauses = append(clauses, "stage IN ("+makePlaceholders(len(filter.Stages))+")")
		for _, stage := range filter.Stages {
			args = append(args, stage.String())
		}
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "coarse_status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	query := `SELECT ` + recordColumns + ` FROM documents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return records, nil
}

// Counts returns the number of records per coarse status.
func (s *Store) Counts(ctx context.Context) (map[CoarseStatus]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT coarse_status, COUNT(1) FROM documents GROUP BY coarse_status`)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	defer rows.Close()

	counts := make(map[CoarseStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[CoarseStatus(status)] = count
	}
	return counts, rows.Err()
}

// Remove deletes a record and its payloads. Busy records are refused.
func (s *Store) Remove(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM documents WHERE id = ? AND stage NOT IN (?, ?, ?, ?)`,
		id,
		StageSplitting.String(),
		StageExtracting.String(),
		StageEntityRecognizing.String(),
		StageRefining.String(),
	)
	if err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	if affected > 0 {
		return nil
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return services.Wrap(services.ErrLocked, rec.Stage.String(), "remove", fmt.Sprintf("document %s is processing", id), nil)
}
