// Package capability probes the store for optional relations such as
// precomputed views, so callers can skip paths that cannot succeed.
package capability

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/store"
	"github.com/wesm/fleetview/internal/tenant"
)

// Map records relation availability from one probe. It is built per
// call and must not be cached across requests.
type Map map[string]bool

// Has reports whether name may be queried. Names never probed are
// unknown and treated as available.
func (m Map) Has(name string) bool {
	v, ok := m[name]
	return !ok || v
}

// Missing reports whether name was probed and found absent.
func (m Map) Missing(name string) bool {
	v, ok := m[name]
	return ok && !v
}

// Prober runs existence checks against a store.
type Prober struct {
	st    store.Store
	log   *slog.Logger
	limit int
}

// Option configures a Prober.
type Option func(*Prober)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.log = l
		}
	}
}

// WithConcurrency bounds the number of probes in flight.
func WithConcurrency(n int) Option {
	return func(p *Prober) {
		if n > 0 {
			p.limit = n
		}
	}
}

// NewProber returns a Prober over st.
func NewProber(st store.Store, opts ...Option) *Prober {
	p := &Prober{st: st, log: slog.Default(), limit: 4}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe issues one head-only count per name. Only a missing relation
// yields false; other failures are logged and yield true, since a
// transient error is not proof of absence. An unresolved tenant
// yields false for every name without touching the store.
func (p *Prober) Probe(
	ctx context.Context, tc tenant.Context, names []string,
) Map {
	m := make(Map, len(names))
	if !tc.Valid() {
		for _, n := range names {
			m[n] = false
		}
		return m
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for _, name := range names {
		g.Go(func() error {
			avail := p.probeOne(gctx, tc, name)
			mu.Lock()
			m[name] = avail
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return m
}

func (p *Prober) probeOne(
	ctx context.Context, tc tenant.Context, name string,
) bool {
	_, err := p.st.Count(ctx, store.Query{
		Resource: name,
		TenantID: tc.ID,
	})
	if err == nil {
		return true
	}
	if outcome.IsRelationMissing(err) {
		p.log.Debug("optional relation missing",
			"tenant", tc.ID, "resource", name)
		return false
	}
	p.log.Warn("capability probe failed, assuming available",
		"tenant", tc.ID, "resource", name,
		"kind", outcome.Classify(err), "err", err)
	return true
}
