// Package tenant resolves which company a call chain operates on.
// The result is an immutable Context value threaded explicitly into
// every repository call; there is no process-wide tenant state.
package tenant

import (
	"context"
	"strings"
)

// Source records how a tenant id was resolved.
type Source int

const (
	SourceNone Source = iota
	SourceExplicit
	SourceSession
	SourcePreference
)

func (s Source) String() string {
	switch s {
	case SourceExplicit:
		return "explicit"
	case SourceSession:
		return "session"
	case SourcePreference:
		return "preference"
	default:
		return "none"
	}
}

// MarshalText renders the source by name.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Context is a resolved tenant plus its provenance.
type Context struct {
	ID     string `json:"id"`
	Source Source `json:"source"`
}

// Valid reports whether a tenant was resolved. Callers must return
// empty or default results for an invalid Context, never query
// unscoped.
func (c Context) Valid() bool {
	return c.ID != ""
}

// Explicit returns a Context for an id supplied directly by the
// caller.
func Explicit(id string) Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return Context{}
	}
	return Context{ID: id, Source: SourceExplicit}
}

type sessionKey struct{}

// WithSession attaches the ambient session tenant to ctx.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, strings.TrimSpace(id))
}

// SessionFrom returns the session tenant carried by ctx, or "".
func SessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// PreferenceStore is a persisted local tenant preference.
type PreferenceStore interface {
	Preferred() string
}

// Resolver applies the precedence chain
// explicit > session > preference > none.
type Resolver struct {
	prefs PreferenceStore
}

// NewResolver returns a Resolver. prefs may be nil.
func NewResolver(prefs PreferenceStore) *Resolver {
	return &Resolver{prefs: prefs}
}

// Resolve never fails; an unresolvable scope yields a Context whose
// Valid reports false.
func (r *Resolver) Resolve(
	ctx context.Context, explicit string,
) Context {
	if c := Explicit(explicit); c.Valid() {
		return c
	}
	if id := SessionFrom(ctx); id != "" {
		return Context{ID: id, Source: SourceSession}
	}
	if r != nil && r.prefs != nil {
		if id := strings.TrimSpace(r.prefs.Preferred()); id != "" {
			return Context{ID: id, Source: SourcePreference}
		}
	}
	return Context{}
}
