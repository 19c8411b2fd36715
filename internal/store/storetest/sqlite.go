package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/wesm/fleetview/internal/store/sqlite"
)

// SQLite opens a fresh database in a temp dir, closed on cleanup.
func SQLite(t *testing.T) *sqlite.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Seed inserts one row into resource for tenant and returns its id.
// An id is generated when values has none.
func Seed(
	t *testing.T, db *sqlite.DB, resource, tenant string,
	values map[string]any,
) string {
	t.Helper()
	vals := make(map[string]any, len(values)+1)
	for k, v := range values {
		vals[k] = v
	}
	id, _ := vals["id"].(string)
	if id == "" {
		id = uuid.NewString()
		vals["id"] = id
	}
	if _, err := db.Insert(
		context.Background(), resource, tenant, vals,
	); err != nil {
		t.Fatalf("seeding %s: %v", resource, err)
	}
	return id
}

// DropView removes a precomputed view so readers must fall back.
func DropView(t *testing.T, db *sqlite.DB, name string) {
	t.Helper()
	if err := db.Exec(
		context.Background(), "DROP VIEW IF EXISTS "+name,
	); err != nil {
		t.Fatalf("dropping %s: %v", name, err)
	}
}
