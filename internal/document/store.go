package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"docflow/internal/config"
)

// DatabaseFile is the store's file name inside the state directory.
const DatabaseFile = "docflow.db"

// Store persists document records and stage payloads in SQLite. All
// writes that touch a record go through the version guard.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// busyBackoff lists the waits between attempts when SQLite reports
// SQLITE_BUSY despite busy_timeout.
var busyBackoff = []time.Duration{
	10 * time.Millisecond,
	40 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
}

var connPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code()&0xff == 5 {
		return true
	}
	return strings.Contains(err.Error(), "database is locked")
}

// retryOnBusy runs op until it succeeds, fails with a non-busy error, or
// the backoff schedule is exhausted.
func retryOnBusy(ctx context.Context, op func() error) error {
	err := op()
	for _, wait := range busyBackoff {
		if !isSQLiteBusy(err) {
			return err
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = op()
	}
	return err
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (res sql.Result, err error) {
	ctx = ensureContext(ctx)
	err = retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Open creates the configured directories and opens the store in the
// state directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.StateDir, DatabaseFile))
}

// OpenPath opens or creates the database at dbPath.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	// A single connection keeps the pragmas in force and serializes guard
	// transactions.
	db.SetMaxOpenConns(1)
	for _, pragma := range connPragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: dbPath, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("document store not initialized")
	}
	return s.db.PingContext(ensureContext(ctx))
}
