// Package repo composes tenant-scoped queries against the store and
// decodes the loosely typed rows into per-resource records. Read
// functions never fail outright: they return an outcome.Result whose
// value is an empty slice when anything goes wrong.
package repo

import (
	"context"
	"log/slog"
	"time"

	"github.com/wesm/fleetview/internal/aggregate"
	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/store"
	"github.com/wesm/fleetview/internal/tenant"
)

// Repo reads and writes fleet records through a store.Store.
type Repo struct {
	st  store.Store
	log *slog.Logger
	now func() time.Time
}

// Option configures a Repo.
type Option func(*Repo)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repo) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock overrides time.Now, used for soft-delete stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repo) {
		if now != nil {
			r.now = now
		}
	}
}

// New returns a Repo over st.
func New(st store.Store, opts ...Option) *Repo {
	r := &Repo{st: st, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the underlying store.
func (r *Repo) Store() store.Store { return r.st }

// Window bounds a time column. From is inclusive; To is exclusive
// unless InclusiveTo is set. Zero bounds are open.
type Window struct {
	From        time.Time
	To          time.Time
	InclusiveTo bool
}

// IsZero reports whether the window is unbounded.
func (w Window) IsZero() bool {
	return w.From.IsZero() && w.To.IsZero()
}

// Contains reports whether t falls inside w.
func (w Window) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if w.To.IsZero() {
		return true
	}
	if w.InclusiveTo {
		return !t.After(w.To)
	}
	return t.Before(w.To)
}

// TrailingMonths is the half-open window covering the n calendar
// months that end with the month of now. Trend readers default to
// TrailingMonths(now, 12).
func TrailingMonths(now time.Time, n int) Window {
	end := aggregate.MonthStart(now).AddDate(0, 1, 0)
	return Window{From: end.AddDate(0, -max(n, 1), 0), To: end}
}

// TrailingDays is the half-open window covering the n days ending
// with the day of now.
func TrailingDays(now time.Time, n int) Window {
	end := aggregate.DayStart(now).AddDate(0, 0, 1)
	return Window{From: end.AddDate(0, 0, -max(n, 1)), To: end}
}

// DayRange covers the calendar days from through to, both inclusive,
// as used by listing endpoints that take user-supplied dates. The
// window itself is half-open, ending at the start of the day after to.
func DayRange(from, to time.Time) Window {
	var w Window
	if !from.IsZero() {
		w.From = aggregate.DayStart(from)
	}
	if !to.IsZero() {
		w.To = aggregate.DayStart(to).AddDate(0, 0, 1)
	}
	return w
}

// Ref restricts rows to one foreign key value, e.g. a vehicle's
// maintenance records.
type Ref struct {
	Column string
	ID     string
}

// Filter narrows a read. The zero Filter applies no restriction;
// soft-deleted rows are excluded regardless.
type Filter struct {
	Window   Window
	Search   string
	Status   []string
	Category string
	Ref      Ref
	Limit    int
}

// def describes how a resource is queried.
type def struct {
	table    string
	timeCol  string
	search   []string
	category string
	// softDelete is false for views, which have no deleted_at column.
	softDelete bool
}

func (d def) query(tc tenant.Context, f Filter) store.Query {
	q := store.Query{Resource: d.table, TenantID: tc.ID}
	if d.softDelete {
		q = q.Where("deleted_at", store.OpIsNull, nil)
	}
	if d.timeCol != "" {
		if !f.Window.From.IsZero() {
			q = q.Where(d.timeCol, store.OpGte, f.Window.From.UTC())
		}
		if !f.Window.To.IsZero() {
			op := store.OpLt
			if f.Window.InclusiveTo {
				op = store.OpLte
			}
			q = q.Where(d.timeCol, op, f.Window.To.UTC())
		}
		q.Order = []store.Order{{Column: d.timeCol, Desc: true}}
	}
	if len(f.Status) > 0 {
		q = q.Where("status", store.OpIn, f.Status)
	}
	if f.Category != "" && d.category != "" {
		q = q.Where(d.category, store.OpEq, f.Category)
	}
	if f.Ref.Column != "" && f.Ref.ID != "" {
		q = q.Where(f.Ref.Column, store.OpEq, f.Ref.ID)
	}
	if f.Search != "" && len(d.search) > 0 {
		q.Search = &store.Search{Term: f.Search, Columns: d.search}
	}
	q.Limit = f.Limit
	return q
}

// fetch runs d's query and decodes the rows. Rows belonging to another
// tenant are dropped and logged; they indicate a backend that ignored
// the tenant predicate.
func fetch[T any](
	ctx context.Context, r *Repo, tc tenant.Context, d def, f Filter,
	decode func(store.RawRow) T,
) outcome.Result[[]T] {
	if !tc.Valid() {
		return outcome.Fail([]T{}, store.ErrScopeMissing)
	}
	rows, err := r.st.Select(ctx, d.query(tc, f))
	if err != nil {
		r.logReadFailure(tc, d.table, err)
		return outcome.Fail([]T{}, err)
	}
	return outcome.Ok(decodeScoped(r, tc, d.table, rows, decode),
		outcome.SourceRaw)
}

func decodeScoped[T any](
	r *Repo, tc tenant.Context, resource string, rows []store.RawRow,
	decode func(store.RawRow) T,
) []T {
	out := make([]T, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		if row.String(store.TenantColumn) != tc.ID {
			dropped++
			continue
		}
		out = append(out, decode(row))
	}
	if dropped > 0 {
		r.log.Error("dropped rows from another tenant",
			"tenant", tc.ID, "resource", resource, "count", dropped)
	}
	return out
}

func (r *Repo) logReadFailure(
	tc tenant.Context, resource string, err error,
) {
	kind := outcome.Classify(err)
	switch kind {
	case outcome.KindRelationMissing, outcome.KindCanceled:
		r.log.Debug("read skipped", "tenant", tc.ID,
			"resource", resource, "kind", kind, "err", err)
	default:
		r.log.Warn("read failed", "tenant", tc.ID,
			"resource", resource, "kind", kind, "err", err)
	}
}
