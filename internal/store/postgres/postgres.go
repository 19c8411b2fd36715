// Package postgres is the production store backend: raw SQL over a
// pgx connection pool. Rows are returned as JSON objects produced by the
// server (row_to_json), so callers see the same loosely typed shape
// regardless of column types.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wesm/fleetview/internal/store"
)

// Store implements store.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Config holds connection settings.
type Config struct {
	URL          string
	MaxConns     int32
	MaxRetries   int
	InitialDelay time.Duration
}

// Open connects to the database, retrying the initial ping with
// exponential backoff for environments where the database starts
// after the application.
func Open(
	ctx context.Context, cfg Config, log *slog.Logger,
) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	retries := max(cfg.MaxRetries, 1)
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			log.Info("database connection established",
				"attempt", attempt)
			return &Store{pool: pool, log: log}, nil
		}
		if attempt >= retries {
			break
		}
		log.Warn("database connection attempt failed, retrying",
			"attempt", attempt, "max_retries", retries, "err", err)
		wait := min(delay*time.Duration(1<<uint(attempt-1)), 15*time.Second)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	pool.Close()
	return nil, fmt.Errorf(
		"connecting to database after %d attempts: %w", retries, err,
	)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Select implements store.Store.
func (s *Store) Select(
	ctx context.Context, q store.Query,
) ([]store.RawRow, error) {
	inner, args, err := store.BuildSelect(q, store.Postgres)
	if err != nil {
		return nil, err
	}
	query := "SELECT row_to_json(t)::text FROM (" + inner + ") t"
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Resource, classify(err))
	}
	out, err := collectText(rows)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", q.Resource, classify(err))
	}
	return out, nil
}

// Count implements store.Store.
func (s *Store) Count(ctx context.Context, q store.Query) (int, error) {
	query, args, err := store.BuildCount(q, store.Postgres)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", q.Resource, classify(err))
	}
	return int(n), nil
}

// Call implements store.Store using named-argument notation, so the
// parameter object maps directly onto the function signature.
// Scalar results are wrapped as {"value": ...}.
func (s *Store) Call(
	ctx context.Context, proc string, params map[string]any,
) ([]store.RawRow, error) {
	if !store.ValidIdent(proc) {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidIdentifier, proc)
	}
	keys, err := store.SortedKeys(params)
	if err != nil {
		return nil, err
	}
	named := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		named[i] = fmt.Sprintf("%s => $%d", k, i+1)
		args[i] = params[k]
	}
	query := `SELECT (CASE WHEN jsonb_typeof(to_jsonb(r)) = 'object'
		THEN to_jsonb(r)
		ELSE jsonb_build_object('value', to_jsonb(r)) END)::text
		FROM ` + proc + "(" + strings.Join(named, ", ") + ") AS r"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", proc, classify(err))
	}
	out, err := collectText(rows)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", proc, classify(err))
	}
	return out, nil
}

// Insert implements store.Store.
func (s *Store) Insert(
	ctx context.Context, resource, tenantID string,
	values map[string]any,
) (store.RawRow, error) {
	if tenantID == "" {
		return nil, store.ErrScopeMissing
	}
	if !store.ValidIdent(resource) {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidIdentifier, resource)
	}
	vals := make(map[string]any, len(values)+1)
	for k, v := range values {
		vals[k] = v
	}
	vals[store.TenantColumn] = tenantID
	cols, err := store.SortedKeys(vals)
	if err != nil {
		return nil, err
	}
	ph := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
		args[i] = vals[c]
	}
	query := "INSERT INTO " + resource + " AS t (" +
		strings.Join(cols, ", ") + ") VALUES (" +
		strings.Join(ph, ", ") + ") RETURNING row_to_json(t)::text"
	return s.writeReturning(ctx, resource, query, args)
}

// Update implements store.Store.
func (s *Store) Update(
	ctx context.Context, resource, tenantID, id string,
	values map[string]any,
) (store.RawRow, error) {
	if tenantID == "" {
		return nil, store.ErrScopeMissing
	}
	if !store.ValidIdent(resource) {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidIdentifier, resource)
	}
	vals := make(map[string]any, len(values))
	for k, v := range values {
		if k == store.TenantColumn || k == "id" {
			continue
		}
		vals[k] = v
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("update %s: no fields to change", resource)
	}
	cols, err := store.SortedKeys(vals)
	if err != nil {
		return nil, err
	}
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+2)
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
		args = append(args, vals[c])
	}
	args = append(args, id, tenantID)
	query := fmt.Sprintf(
		"UPDATE %s AS t SET %s WHERE id = $%d AND %s = $%d"+
			" RETURNING row_to_json(t)::text",
		resource, strings.Join(sets, ", "),
		len(cols)+1, store.TenantColumn, len(cols)+2,
	)
	return s.writeReturning(ctx, resource, query, args)
}

// Delete implements store.Store.
func (s *Store) Delete(
	ctx context.Context, resource, tenantID, id string,
) error {
	if tenantID == "" {
		return store.ErrScopeMissing
	}
	if !store.ValidIdent(resource) {
		return fmt.Errorf("%w: %q", store.ErrInvalidIdentifier, resource)
	}
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM "+resource+" WHERE id = $1 AND "+
			store.TenantColumn+" = $2",
		id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", resource, classify(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) writeReturning(
	ctx context.Context, resource, query string, args []any,
) (store.RawRow, error) {
	var text string
	err := s.pool.QueryRow(ctx, query, args...).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("writing %s: %w", resource, classify(err))
	}
	return store.RawRow(text), nil
}

func collectText(rows pgx.Rows) ([]store.RawRow, error) {
	texts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make([]store.RawRow, len(texts))
	for i, t := range texts {
		out[i] = store.RawRow(t)
	}
	return out, nil
}

// classify wraps undefined_table / undefined_function with
// store.ErrRelationMissing, keeping the original error in the chain.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01", "42883":
			return fmt.Errorf("%w: %w", store.ErrRelationMissing, err)
		}
	}
	return err
}

//go:embed schema.sql
var schemaSQL string

// Migrate applies the bundled schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
