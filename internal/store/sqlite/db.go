// Package sqlite is the embedded store backend. It carries the same
// relations and precomputed views as the production schema and emulates
// stored procedures with registered Go functions, so the whole read
// path can run against a local file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wesm/fleetview/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// DB manages a write connection and a read-only pool.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	mu     sync.Mutex // serializes writes

	procMu sync.RWMutex
	procs  map[string]Procedure

	log *slog.Logger
}

var _ store.Store = (*DB)(nil)

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) {
		if l != nil {
			db.log = l
		}
	}
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "ON")
	params.Set("_cache_size", "-64000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return "file:" + path + "?" + params.Encode()
}

// Open creates or opens a SQLite database at the given path, applies
// the schema and registers the built-in procedures.
func Open(path string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", makeDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	db := &DB{
		writer: writer,
		procs:  make(map[string]Procedure),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}

	// The schema must exist before a read-only connection can open
	// a fresh file.
	if err := db.init(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	reader, err := sql.Open("sqlite3", makeDSN(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	db.reader = reader

	registerBuiltins(db)
	return db, nil
}

func (db *DB) init() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.writer.Exec(schemaSQL); err != nil {
		return err
	}
	return nil
}

// Close closes both writer and reader connections.
func (db *DB) Close() error {
	return errors.Join(db.writer.Close(), db.reader.Close())
}

// Exec runs a statement on the writer. Used for seeding and for
// dropping optional views.
func (db *DB) Exec(
	ctx context.Context, query string, args ...any,
) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.writer.ExecContext(ctx, query, args...); err != nil {
		return classify(err)
	}
	return nil
}

// classify wraps missing-relation errors with store.ErrRelationMissing.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %v", store.ErrRelationMissing, err)
	}
	return err
}
