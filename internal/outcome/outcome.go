// Package outcome defines the result type shared by the read path:
// repository fetches, metric computations and snapshot providers all
// return a value together with where it came from and, when something
// went wrong, the classified error.
package outcome

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wesm/fleetview/internal/store"
)

// Kind classifies why a read produced a default value.
type Kind int

const (
	KindNone Kind = iota
	// KindScopeMissing: no tenant could be resolved. Not an error
	// from the caller's point of view.
	KindScopeMissing
	// KindRelationMissing: an optional relation, view or procedure
	// does not exist for this deployment.
	KindRelationMissing
	// KindTransient: a valid resource failed (network, backend).
	KindTransient
	// KindComputation: malformed input reached aggregation.
	KindComputation
	// KindCanceled: the caller gave up (context canceled or timed out).
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindScopeMissing:
		return "scope_missing"
	case KindRelationMissing:
		return "relation_missing"
	case KindTransient:
		return "transient"
	case KindComputation:
		return "computation"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MarshalText lets Kind render as its name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Source records which computation path produced a value.
type Source string

const (
	SourcePreferred Source = "preferred"
	SourceFallback  Source = "fallback"
	SourceDefault   Source = "default"
	SourceRaw       Source = "raw"
)

// Result is a value plus provenance. Err is kept for diagnostics;
// read-path consumers render Value regardless.
type Result[T any] struct {
	Value  T
	Source Source
	Kind   Kind
	Err    error
}

// OK reports whether the value came from a successful read.
func (r Result[T]) OK() bool {
	return r.Err == nil && r.Kind == KindNone
}

// Ok wraps a successfully read value.
func Ok[T any](v T, src Source) Result[T] {
	return Result[T]{Value: v, Source: src}
}

// Fail wraps a default value with the classified error.
func Fail[T any](def T, err error) Result[T] {
	return Result[T]{
		Value:  def,
		Source: SourceDefault,
		Kind:   Classify(err),
		Err:    err,
	}
}

// OrDefault returns r.Value when r is OK, def otherwise.
func OrDefault[T any](r Result[T], def T) T {
	if r.OK() {
		return r.Value
	}
	return def
}

// Classify maps an error onto the taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, store.ErrScopeMissing):
		return KindScopeMissing
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case IsRelationMissing(err):
		return KindRelationMissing
	case errors.Is(err, ErrComputation):
		return KindComputation
	default:
		return KindTransient
	}
}

// ErrComputation marks malformed input detected during aggregation.
var ErrComputation = errors.New("malformed metric input")

// IsRelationMissing returns true when err says a table, view or
// function does not exist.
func IsRelationMissing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrRelationMissing) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// undefined_table, undefined_function
		return pgErr.Code == "42P01" || pgErr.Code == "42883"
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no such table") {
		return true
	}
	return strings.Contains(msg, "relation") &&
		strings.Contains(msg, "does not exist")
}
