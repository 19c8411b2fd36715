// Package storetest provides store doubles shared by the repo, kpi,
// snapshot and server tests: an in-memory Fake with scriptable
// failures and a helper that opens a seeded SQLite database.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/wesm/fleetview/internal/store"
)

// ProcFunc answers a Call on the Fake.
type ProcFunc func(params map[string]any) ([]store.RawRow, error)

// Fake is an in-memory store.Store. Rows are kept per resource and
// filtered by tenant and equality predicates only; range filters and
// search are ignored. Safe for concurrent use.
type Fake struct {
	mu     sync.Mutex
	rows   map[string][]store.RawRow
	errs   map[string]error
	delays map[string]time.Duration
	procs  map[string]ProcFunc
	calls  []string

	// Unscoped makes Select return rows of every tenant, simulating a
	// backend that ignores the tenant predicate.
	Unscoped bool
}

var _ store.Store = (*Fake)(nil)

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		rows:   make(map[string][]store.RawRow),
		errs:   make(map[string]error),
		delays: make(map[string]time.Duration),
		procs:  make(map[string]ProcFunc),
	}
}

// Add appends rows to resource.
func (f *Fake) Add(resource string, rows ...store.RawRow) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[resource] = append(f.rows[resource], rows...)
	return f
}

// Fail makes every operation on name (a resource or procedure)
// return err. A nil err clears the failure.
func (f *Fake) Fail(name string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, name)
	} else {
		f.errs[name] = err
	}
	return f
}

// Missing makes name behave as a relation that does not exist.
func (f *Fake) Missing(name string) *Fake {
	return f.Fail(name, fmt.Errorf(
		"%w: relation %q does not exist", store.ErrRelationMissing, name,
	))
}

// Delay makes operations on name block for d or until the context
// is done.
func (f *Fake) Delay(name string, d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[name] = d
	return f
}

// Proc registers a procedure.
func (f *Fake) Proc(name string, fn ProcFunc) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[name] = fn
	return f
}

// Calls returns the operations seen so far as "op resource" strings.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) enter(
	ctx context.Context, op, name string,
) error {
	f.mu.Lock()
	f.calls = append(f.calls, op+" "+name)
	err := f.errs[name]
	delay := f.delays[name]
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (f *Fake) matching(q store.Query) []store.RawRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.RawRow
	for _, r := range f.rows[q.Resource] {
		if !f.Unscoped && r.String(store.TenantColumn) != q.TenantID {
			continue
		}
		if matchFilters(r, q.Filters) {
			out = append(out, r)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matchFilters(r store.RawRow, filters []store.Filter) bool {
	for _, flt := range filters {
		v := r.Get(flt.Column)
		switch flt.Op {
		case store.OpEq:
			if v.String() != fmt.Sprint(flt.Value) {
				return false
			}
		case store.OpNeq:
			if v.String() == fmt.Sprint(flt.Value) {
				return false
			}
		case store.OpIsNull:
			if v.Exists() && v.Type != gjson.Null {
				return false
			}
		}
	}
	return true
}

// Select implements store.Store.
func (f *Fake) Select(
	ctx context.Context, q store.Query,
) ([]store.RawRow, error) {
	if q.TenantID == "" {
		return nil, store.ErrScopeMissing
	}
	if err := f.enter(ctx, "select", q.Resource); err != nil {
		return nil, err
	}
	return f.matching(q), nil
}

// Count implements store.Store.
func (f *Fake) Count(ctx context.Context, q store.Query) (int, error) {
	if q.TenantID == "" {
		return 0, store.ErrScopeMissing
	}
	if err := f.enter(ctx, "count", q.Resource); err != nil {
		return 0, err
	}
	return len(f.matching(q)), nil
}

// Call implements store.Store. Unregistered procedures are reported
// missing.
func (f *Fake) Call(
	ctx context.Context, proc string, params map[string]any,
) ([]store.RawRow, error) {
	if err := f.enter(ctx, "call", proc); err != nil {
		return nil, err
	}
	f.mu.Lock()
	fn, ok := f.procs[proc]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf(
			"%w: function %s", store.ErrRelationMissing, proc,
		)
	}
	return fn(params)
}

// Insert implements store.Store.
func (f *Fake) Insert(
	ctx context.Context, resource, tenantID string,
	values map[string]any,
) (store.RawRow, error) {
	if tenantID == "" {
		return nil, store.ErrScopeMissing
	}
	if err := f.enter(ctx, "insert", resource); err != nil {
		return nil, err
	}
	obj := make(map[string]any, len(values)+2)
	for k, v := range values {
		obj[k] = v
	}
	if _, ok := obj["id"]; !ok {
		obj["id"] = uuid.NewString()
	}
	obj[store.TenantColumn] = tenantID
	row := Row(obj)
	f.Add(resource, row)
	return row, nil
}

// Update implements store.Store.
func (f *Fake) Update(
	ctx context.Context, resource, tenantID, id string,
	values map[string]any,
) (store.RawRow, error) {
	if tenantID == "" {
		return nil, store.ErrScopeMissing
	}
	if err := f.enter(ctx, "update", resource); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.rows[resource] {
		if r.String("id") != id || r.String(store.TenantColumn) != tenantID {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(r, &obj); err != nil {
			return nil, err
		}
		for k, v := range values {
			if k == "id" || k == store.TenantColumn {
				continue
			}
			obj[k] = v
		}
		f.rows[resource][i] = Row(obj)
		return f.rows[resource][i], nil
	}
	return nil, store.ErrNotFound
}

// Delete implements store.Store.
func (f *Fake) Delete(
	ctx context.Context, resource, tenantID, id string,
) error {
	if tenantID == "" {
		return store.ErrScopeMissing
	}
	if err := f.enter(ctx, "delete", resource); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.rows[resource]
	for i, r := range rows {
		if r.String("id") == id && r.String(store.TenantColumn) == tenantID {
			f.rows[resource] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

// Close implements store.Store.
func (f *Fake) Close() error { return nil }

// Row marshals obj into a RawRow, panicking on failure.
func Row(obj map[string]any) store.RawRow {
	b, err := json.Marshal(obj)
	if err != nil {
		panic(fmt.Sprintf("marshal row: %v", err))
	}
	return store.RawRow(b)
}
