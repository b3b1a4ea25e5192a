// Package storage is the SQLite-backed persistence layer shared by the
// Project Registry, Workflow Engine, and Cost/Latency Ledger: one
// project table, one workflow+step table set, one append-only cost
// ledger, behind a single connection pair (adapted from the teacher's
// internal/adapters/state.SQLiteStateManager).
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// DB wraps the write and read-only connections used by every repository
// in this package. SQLite only supports one writer at a time, so writes
// go through db while reads use readDB to avoid lock contention.
type DB struct {
	db     *sql.DB
	readDB *sql.DB
	mu     sync.RWMutex

	maxRetries    int
	baseRetryWait time.Duration
}

// Open creates (or reopens) the SQLite-backed store at path and runs
// pending migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	readDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening read connection: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	d := &DB{db: db, readDB: readDB, maxRetries: 5, baseRetryWait: 100 * time.Millisecond}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return d, nil
}

// Close closes both connections.
func (d *DB) Close() error {
	var firstErr error
	if err := d.readDB.Close(); err != nil {
		firstErr = err
	}
	if err := d.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (d *DB) migrate() error {
	var version int
	err := d.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := d.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
		if _, err := d.db.Exec("INSERT INTO schema_migrations(version) VALUES (1)"); err != nil {
			return fmt.Errorf("recording migration v1: %w", err)
		}
	}
	return nil
}

// retryWrite runs fn, retrying on SQLITE_BUSY/SQLITE_LOCKED with
// exponential backoff.
func (d *DB) retryWrite(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if err := fn(); err != nil {
			if isBusy(err) && attempt < d.maxRetries {
				lastErr = err
				wait := d.baseRetryWait * time.Duration(1<<attempt)
				select {
				case <-ctx.Done():
					return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), lastErr)
				case <-time.After(wait):
					continue
				}
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%s: max retries exceeded: %w", op, lastErr)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "SQLITE_LOCKED")
}
