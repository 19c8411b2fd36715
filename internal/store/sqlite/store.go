package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wesm/fleetview/internal/store"
)

// Select implements store.Store.
func (db *DB) Select(
	ctx context.Context, q store.Query,
) ([]store.RawRow, error) {
	query, args, err := store.BuildSelect(q, store.SQLite)
	if err != nil {
		return nil, err
	}
	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf(
			"querying %s: %w", q.Resource, classify(err),
		)
	}
	defer rows.Close()
	out, err := scanRaw(rows)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", q.Resource, err)
	}
	return out, nil
}

// Count implements store.Store.
func (db *DB) Count(ctx context.Context, q store.Query) (int, error) {
	query, args, err := store.BuildCount(q, store.SQLite)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.reader.QueryRowContext(
		ctx, query, args...,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf(
			"counting %s: %w", q.Resource, classify(err),
		)
	}
	return n, nil
}

// Insert implements store.Store. The tenant column is always set
// from tenantID, overriding any value in values.
func (db *DB) Insert(
	ctx context.Context, resource, tenantID string,
	values map[string]any,
) (store.RawRow, error) {
	if tenantID == "" {
		return nil, store.ErrScopeMissing
	}
	if !store.ValidIdent(resource) {
		return nil, fmt.Errorf(
			"%w: %q", store.ErrInvalidIdentifier, resource,
		)
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
		ph[i] = "?"
		args[i] = store.SQLite.Arg(vals[c])
	}
	query := "INSERT INTO " + resource +
		" (" + strings.Join(cols, ", ") + ") VALUES (" +
		strings.Join(ph, ", ") + ") RETURNING *"

	return db.writeReturning(ctx, resource, query, args)
}

// Update implements store.Store.
func (db *DB) Update(
	ctx context.Context, resource, tenantID, id string,
	values map[string]any,
) (store.RawRow, error) {
	if tenantID == "" {
		return nil, store.ErrScopeMissing
	}
	if !store.ValidIdent(resource) {
		return nil, fmt.Errorf(
			"%w: %q", store.ErrInvalidIdentifier, resource,
		)
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
		sets[i] = c + " = ?"
		args = append(args, store.SQLite.Arg(vals[c]))
	}
	args = append(args, id, tenantID)
	query := "UPDATE " + resource + " SET " +
		strings.Join(sets, ", ") +
		" WHERE id = ? AND " + store.TenantColumn + " = ? RETURNING *"

	return db.writeReturning(ctx, resource, query, args)
}

// Delete implements store.Store.
func (db *DB) Delete(
	ctx context.Context, resource, tenantID, id string,
) error {
	if tenantID == "" {
		return store.ErrScopeMissing
	}
	if !store.ValidIdent(resource) {
		return fmt.Errorf(
			"%w: %q", store.ErrInvalidIdentifier, resource,
		)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.writer.ExecContext(ctx,
		"DELETE FROM "+resource+" WHERE id = ? AND "+
			store.TenantColumn+" = ?",
		id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", resource, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", resource, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (db *DB) writeReturning(
	ctx context.Context, resource, query string, args []any,
) (store.RawRow, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	rows, err := db.writer.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf(
			"writing %s: %w", resource, classify(err),
		)
	}
	defer rows.Close()
	out, err := scanRaw(rows)
	if err != nil {
		return nil, fmt.Errorf("writing %s: %w", resource, err)
	}
	if len(out) == 0 {
		return nil, store.ErrNotFound
	}
	return out[0], nil
}

// scanRaw converts every row into a JSON object keyed by column
// name.
func scanRaw(rows *sql.Rows) ([]store.RawRow, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []store.RawRow{}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		obj := make(map[string]any, len(cols))
		for i, c := range cols {
			switch v := vals[i].(type) {
			case []byte:
				obj[c] = string(v)
			default:
				obj[c] = v
			}
		}
		b, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, store.RawRow(b))
	}
	return out, rows.Err()
}
