// Package snapshot assembles every dashboard metric for one tenant in a
// single concurrent pass. A provider that fails, times out or panics
// contributes its default value; it never aborts the rest.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/fleetview/internal/capability"
	"github.com/wesm/fleetview/internal/kpi"
	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/repo"
	"github.com/wesm/fleetview/internal/store"
	"github.com/wesm/fleetview/internal/tenant"
)

var (
	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetview_snapshot_build_seconds",
		Help:    "Snapshot build duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	providerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetview_snapshot_provider_panics_total",
		Help: "Metric providers recovered from a panic",
	}, []string{"metric"})
)

// Snapshot is the combined metric set for one tenant. Metrics is keyed
// by domain then metric name; Sources and Failures by "domain.name".
type Snapshot struct {
	Tenant       tenant.Context            `json:"tenant"`
	BuiltAt      time.Time                 `json:"built_at"`
	Capabilities capability.Map            `json:"capabilities"`
	Metrics      map[string]map[string]any `json:"metrics"`
	Sources      map[string]outcome.Source `json:"sources"`
	Failures     map[string]outcome.Kind   `json:"failures,omitempty"`
}

// Value returns the metric value for domain and name.
func (s Snapshot) Value(domain, name string) (any, bool) {
	v, ok := s.Metrics[domain][name]
	return v, ok
}

// Builder builds snapshots from a kpi.Service.
type Builder struct {
	svc       *kpi.Service
	prober    *capability.Prober
	providers []kpi.Provider
	log       *slog.Logger
	workers   int
	timeout   time.Duration
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// WithWorkers bounds how many providers run at once.
func WithWorkers(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithTimeout sets the per-provider deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithProber replaces the capability prober.
func WithProber(p *capability.Prober) Option {
	return func(b *Builder) {
		if p != nil {
			b.prober = p
		}
	}
}

// WithProviders replaces the metric catalog.
func WithProviders(ps []kpi.Provider) Option {
	return func(b *Builder) {
		b.providers = ps
	}
}

// NewBuilder returns a Builder over svc's catalog.
func NewBuilder(svc *kpi.Service, opts ...Option) *Builder {
	b := &Builder{
		svc:     svc,
		log:     slog.Default(),
		workers: 8,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.providers == nil {
		b.providers = svc.Providers()
	}
	if b.prober == nil {
		b.prober = capability.NewProber(
			svc.Repo().Store(), capability.WithLogger(b.log))
	}
	return b
}

// Providers returns the catalog the builder runs.
func (b *Builder) Providers() []kpi.Provider {
	return b.providers
}

// Domains returns the catalog's domains in order.
func (b *Builder) Domains() []string {
	return kpi.Domains(b.providers)
}

// Repo returns the repository the providers read through.
func (b *Builder) Repo() *repo.Repo {
	return b.svc.Repo()
}

// Capabilities probes the optional views the catalog depends on.
func (b *Builder) Capabilities(
	ctx context.Context, tc tenant.Context,
) capability.Map {
	return b.prober.Probe(ctx, tc, kpi.Relations(b.providers))
}

// Build computes every provider, or only those in domains when given.
// Capabilities are probed once per call.
func (b *Builder) Build(
	ctx context.Context, tc tenant.Context, domains ...string,
) Snapshot {
	start := time.Now()
	defer func() {
		buildDuration.Observe(time.Since(start).Seconds())
	}()

	providers := b.selected(domains)
	if !tc.Valid() {
		sc := b.svc.Scope(tc, capability.Map{})
		results := make([]outcome.Result[any], len(providers))
		for i, p := range providers {
			results[i] = outcome.Result[any]{
				Value:  p.Default(sc),
				Source: outcome.SourceDefault,
				Kind:   outcome.KindScopeMissing,
				Err:    store.ErrScopeMissing,
			}
		}
		b.log.Debug("snapshot without tenant", "metrics", len(providers))
		return merge(tc, sc, providers, results)
	}

	caps := b.prober.Probe(ctx, tc, kpi.Relations(providers))
	sc := b.svc.Scope(tc, caps)
	results := b.runAll(ctx, sc, providers)
	snap := merge(tc, sc, providers, results)
	b.log.Debug("snapshot built",
		"tenant", tc.ID, "metrics", len(providers),
		"failures", len(snap.Failures),
		"elapsed", time.Since(start))
	return snap
}

// Metric computes a single provider.
func (b *Builder) Metric(
	ctx context.Context, tc tenant.Context, domain, name string,
) (outcome.Result[any], bool) {
	p, ok := kpi.Find(b.providers, domain, name)
	if !ok {
		return outcome.Result[any]{}, false
	}
	var caps capability.Map
	if p.Relation != "" && tc.Valid() {
		caps = b.prober.Probe(ctx, tc, kpi.Relations([]kpi.Provider{p}))
	}
	sc := b.svc.Scope(tc, caps)
	return b.runAll(ctx, sc, []kpi.Provider{p})[0], true
}

func (b *Builder) selected(domains []string) []kpi.Provider {
	if len(domains) == 0 {
		return b.providers
	}
	var out []kpi.Provider
	for _, p := range b.providers {
		if slices.Contains(domains, p.Domain) {
			out = append(out, p)
		}
	}
	return out
}

// runAll fans providers out over a bounded group. Each goroutine owns
// its slot; slots left unset after a cancellation report defaults.
func (b *Builder) runAll(
	ctx context.Context, sc kpi.Scope, providers []kpi.Provider,
) []outcome.Result[any] {
	results := make([]outcome.Result[any], len(providers))
	ran := make([]bool, len(providers))

	var g errgroup.Group
	g.SetLimit(b.workers)
	for i, p := range providers {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = b.runOne(ctx, sc, p)
			ran[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range providers {
		if ran[i] {
			continue
		}
		results[i] = outcome.Result[any]{
			Value:  p.Default(sc),
			Source: outcome.SourceDefault,
			Kind:   outcome.KindCanceled,
			Err:    context.Cause(ctx),
		}
	}
	return results
}

func (b *Builder) runOne(
	ctx context.Context, sc kpi.Scope, p kpi.Provider,
) (res outcome.Result[any]) {
	defer func() {
		if r := recover(); r != nil {
			providerPanics.WithLabelValues(p.Key()).Inc()
			b.log.Error("metric provider panicked",
				"tenant", sc.Tenant.ID, "metric", p.Key(), "panic", r)
			res = outcome.Result[any]{
				Value:  p.Default(sc),
				Source: outcome.SourceDefault,
				Kind:   outcome.KindComputation,
				Err:    fmt.Errorf("%w: panic: %v", outcome.ErrComputation, r),
			}
		}
	}()
	pctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return p.Compute(pctx, sc)
}

func merge(
	tc tenant.Context, sc kpi.Scope, providers []kpi.Provider,
	results []outcome.Result[any],
) Snapshot {
	snap := Snapshot{
		Tenant:       tc,
		BuiltAt:      sc.Now,
		Capabilities: sc.Caps,
		Metrics:      make(map[string]map[string]any),
		Sources:      make(map[string]outcome.Source, len(providers)),
		Failures:     make(map[string]outcome.Kind),
	}
	for i, p := range providers {
		r := results[i]
		byName, ok := snap.Metrics[p.Domain]
		if !ok {
			byName = make(map[string]any)
			snap.Metrics[p.Domain] = byName
		}
		byName[p.Name] = r.Value
		snap.Sources[p.Key()] = r.Source
		if r.Kind != outcome.KindNone {
			snap.Failures[p.Key()] = r.Kind
		}
	}
	return snap
}
