package store

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the differences between SQL backends that matter
// to query composition.
type Dialect struct {
	// Placeholder returns the bind marker for the n-th (1-based)
	// argument.
	Placeholder func(n int) string
	// Like is the case-insensitive pattern operator.
	Like string
	// Arg converts a Go value into a driver argument.
	Arg func(v any) any
}

// Postgres uses $n markers and ILIKE.
var Postgres = Dialect{
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Like:        "ILIKE",
	Arg:         func(v any) any { return v },
}

// SQLite uses ? markers; LIKE is case-insensitive for ASCII. Times
// are stored as RFC3339 text in UTC, including timestamp strings
// written with an offset.
var SQLite = Dialect{
	Placeholder: func(int) string { return "?" },
	Like:        "LIKE",
	Arg:         sqliteArg,
}

func sqliteArg(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339)
	case string:
		// date-only values are left alone
		if len(x) <= len(time.DateOnly) {
			return x
		}
		if t, ok := ParseTime(x); ok {
			return t.Format(time.RFC3339)
		}
	}
	return v
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidIdent reports whether name is safe to interpolate as a
// relation or column name.
func ValidIdent(name string) bool {
	return identRe.MatchString(name)
}

func checkIdents(names ...string) error {
	for _, n := range names {
		if !ValidIdent(n) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, n)
		}
	}
	return nil
}

// builder accumulates predicates and bind arguments.
type builder struct {
	d     Dialect
	preds []string
	args  []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, b.d.Arg(v))
	return b.d.Placeholder(len(b.args))
}

// BuildWhere returns the WHERE body and arguments for q. The tenant
// predicate always comes first; a query without a tenant is refused.
func BuildWhere(q Query, d Dialect) (string, []any, error) {
	if q.TenantID == "" {
		return "", nil, ErrScopeMissing
	}
	b := &builder{d: d}
	b.preds = append(b.preds,
		TenantColumn+" = "+b.bind(q.TenantID))

	for _, f := range q.Filters {
		if err := checkIdents(f.Column); err != nil {
			return "", nil, err
		}
		switch f.Op {
		case OpIsNull:
			b.preds = append(b.preds, f.Column+" IS NULL")
		case OpIn:
			vals := toAnySlice(f.Value)
			if len(vals) == 0 {
				// empty IN matches nothing
				b.preds = append(b.preds, "1 = 0")
				continue
			}
			ph := make([]string, len(vals))
			for i, v := range vals {
				ph[i] = b.bind(v)
			}
			b.preds = append(b.preds,
				f.Column+" IN ("+strings.Join(ph, ",")+")")
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
			b.preds = append(b.preds,
				f.Column+" "+string(f.Op)+" "+b.bind(f.Value))
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", f.Op)
		}
	}

	if s := q.Search; s != nil && strings.TrimSpace(s.Term) != "" {
		if err := checkIdents(s.Columns...); err != nil {
			return "", nil, err
		}
		pattern := "%" + escapeLike(strings.TrimSpace(s.Term)) + "%"
		ors := make([]string, 0, len(s.Columns))
		for _, col := range s.Columns {
			ors = append(ors, col+" "+d.Like+" "+
				b.bind(pattern)+` ESCAPE '\'`)
		}
		if len(ors) > 0 {
			b.preds = append(b.preds,
				"("+strings.Join(ors, " OR ")+")")
		}
	}

	return strings.Join(b.preds, " AND "), b.args, nil
}

// BuildSelect returns a complete SELECT for q.
func BuildSelect(q Query, d Dialect) (string, []any, error) {
	if err := checkIdents(q.Resource); err != nil {
		return "", nil, err
	}
	if err := checkIdents(q.Columns...); err != nil {
		return "", nil, err
	}
	where, args, err := BuildWhere(q, d)
	if err != nil {
		return "", nil, err
	}

	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(q.Columns, ", ")
	}
	var sb strings.Builder
	sb.WriteString("SELECT " + cols + " FROM " + q.Resource +
		" WHERE " + where)

	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			if err := checkIdents(o.Column); err != nil {
				return "", nil, err
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, o.Column+" "+dir)
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return sb.String(), args, nil
}

// BuildCount returns a SELECT count(*) for q, ignoring order and
// limit.
func BuildCount(q Query, d Dialect) (string, []any, error) {
	if err := checkIdents(q.Resource); err != nil {
		return "", nil, err
	}
	where, args, err := BuildWhere(q, d)
	if err != nil {
		return "", nil, err
	}
	return "SELECT count(*) FROM " + q.Resource +
		" WHERE " + where, args, nil
}

// SortedKeys returns the keys of m in a stable order, validated as
// identifiers. Used for INSERT/UPDATE column lists and procedure
// parameters.
func SortedKeys(m map[string]any) ([]string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if err := checkIdents(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func toAnySlice(v any) []any {
	switch vs := v.(type) {
	case []any:
		return vs
	case []string:
		out := make([]any, len(vs))
		for i, s := range vs {
			out[i] = s
		}
		return out
	case []int:
		out := make([]any, len(vs))
		for i, n := range vs {
			out[i] = n
		}
		return out
	default:
		return nil
	}
}
