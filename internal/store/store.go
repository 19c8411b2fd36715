// Package store defines the contract fleetview needs from the remote
// relational store: filtered row selection, head-only counts, named
// procedure calls, and single-row mutations. Backends live in the
// postgres and sqlite subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

// TenantColumn is the isolation column present on every tenant-owned
// relation, view and procedure result.
const TenantColumn = "company_id"

var (
	// ErrScopeMissing is returned when a query carries no tenant id.
	ErrScopeMissing = errors.New("tenant scope missing")
	// ErrRelationMissing is wrapped by backends when a relation,
	// view or procedure does not exist.
	ErrRelationMissing = errors.New("relation does not exist")
	// ErrNotFound is returned by Update/Delete when no row matched.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidIdentifier is returned for unsafe resource or column
	// names.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Store is the remote relational store collaborator.
// Implementations must be safe for concurrent use.
type Store interface {
	// Select returns the rows matching q, each as one JSON object.
	Select(ctx context.Context, q Query) ([]RawRow, error)
	// Count returns the number of rows matching q without fetching
	// them. Used for capability probing.
	Count(ctx context.Context, q Query) (int, error)
	// Call invokes a named procedure with a parameter object.
	// Scalar results come back as a single row.
	Call(ctx context.Context, proc string, params map[string]any) ([]RawRow, error)

	// Insert adds one row and returns it as stored.
	Insert(ctx context.Context, resource, tenantID string, values map[string]any) (RawRow, error)
	// Update changes one row identified by id within the tenant.
	Update(ctx context.Context, resource, tenantID, id string, values map[string]any) (RawRow, error)
	// Delete removes one row identified by id within the tenant.
	Delete(ctx context.Context, resource, tenantID, id string) error

	Close() error
}

// Op is a filter comparison.
type Op string

const (
	OpEq     Op = "="
	OpNeq    Op = "<>"
	OpGt     Op = ">"
	OpGte    Op = ">="
	OpLt     Op = "<"
	OpLte    Op = "<="
	OpIn     Op = "IN"
	OpIsNull Op = "IS NULL"
)

// Filter is one predicate on a column. Value is ignored for
// OpIsNull and must be a []string or []any for OpIn.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Search is a case-insensitive substring match over any of Columns.
type Search struct {
	Term    string
	Columns []string
}

// Order sorts by Column, descending when Desc.
type Order struct {
	Column string
	Desc   bool
}

// Query describes one tenant-scoped selection.
type Query struct {
	Resource string
	TenantID string
	Columns  []string // nil = all columns
	Filters  []Filter
	Search   *Search
	Order    []Order
	Limit    int // 0 = unlimited
}

// Where appends a filter and returns q for chaining.
func (q Query) Where(column string, op Op, value any) Query {
	q.Filters = append(q.Filters, Filter{
		Column: column, Op: op, Value: value,
	})
	return q
}

// RawRow is one record as returned by the store: a JSON object with
// loosely typed fields. Accessors never fail; absent or null fields
// read as zero values.
type RawRow []byte

// Get returns the field at path.
func (r RawRow) Get(path string) gjson.Result {
	return gjson.GetBytes(r, path)
}

// String returns the field as a string, "" when absent.
func (r RawRow) String(path string) string {
	return r.Get(path).String()
}

// Float returns the field as a float64. Missing, null and
// non-numeric values coerce to 0.
func (r RawRow) Float(path string) float64 {
	v := r.Get(path)
	switch v.Type {
	case gjson.Number:
		return v.Num
	case gjson.String:
		// numeric columns (NUMERIC in postgres) may arrive quoted
		return v.Float()
	default:
		return 0
	}
}

// Int returns the field as an int with the same coercion as Float.
func (r RawRow) Int(path string) int {
	return int(r.Float(path))
}

// Bool returns the field as a bool; 1/"true" are true.
func (r RawRow) Bool(path string) bool {
	return r.Get(path).Bool()
}

// Time parses the field as a timestamp. The zero time is returned for
// missing or unparsable values.
func (r RawRow) Time(path string) time.Time {
	t, _ := ParseTime(r.String(path))
	return t
}

// TimePtr is Time but nil for missing values.
func (r RawRow) TimePtr(path string) *time.Time {
	t, ok := ParseTime(r.String(path))
	if !ok {
		return nil
	}
	return &t
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp encodings produced by the backends
// and returns the instant in UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
