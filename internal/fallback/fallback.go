// Package fallback picks, per metric, between a precomputed source
// (view or procedure) and a recomputation from raw tables. Both paths
// return the same Go type, so consumers never see which one ran; when
// both fail the metric's documented default is returned instead of an
// error.
package fallback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wesm/fleetview/internal/capability"
	"github.com/wesm/fleetview/internal/outcome"
)

var (
	// resultsTotal counts finished runs by metric and value source.
	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetview_metric_results_total",
		Help: "Metric computations by final value source",
	}, []string{"metric", "source"})

	// runDuration tracks end-to-end metric latency.
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetview_metric_duration_seconds",
		Help:    "Metric computation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"metric"})
)

// Strategy describes how to compute one metric.
type Strategy[T any] struct {
	// Metric names the metric in logs and labels ("finance.revenue_trend").
	Metric string
	// Relation is the optional view or procedure Preferred depends on.
	// When the capability map reports it missing, Preferred is skipped.
	Relation string
	// Preferred reads a precomputed source. Optional.
	Preferred func(context.Context) outcome.Result[T]
	// Fallback recomputes from raw tables. Optional.
	Fallback func(context.Context) outcome.Result[T]
	// Default returns the all-zero value reported on failure.
	Default func() T
}

func (s Strategy[T]) defaultValue() T {
	if s.Default == nil {
		var zero T
		return zero
	}
	return s.Default()
}

// Orchestrator runs strategies. The zero value is not usable; use New.
type Orchestrator struct {
	log *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// New returns an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type state int

const (
	tryPreferred state = iota
	tryFallback
	done
	failed
)

// Run drives s through TryPreferred -> {Done | TryFallback} ->
// {Done | Failed}. It never returns an error value to render code: a
// Failed run yields s.Default() with Source default and the collected
// errors on Err. A canceled ctx moves straight to Failed.
func Run[T any](
	ctx context.Context, o *Orchestrator, caps capability.Map,
	s Strategy[T],
) outcome.Result[T] {
	start := time.Now()
	var (
		res  outcome.Result[T]
		errs []error
		last error
	)
	st := tryPreferred
	for st != done && st != failed {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			last = err
			st = failed
			continue
		}
		switch st {
		case tryPreferred:
			if s.Preferred == nil {
				st = tryFallback
				continue
			}
			if caps.Missing(s.Relation) {
				o.log.Debug("preferred source unavailable",
					"metric", s.Metric, "resource", s.Relation)
				st = tryFallback
				continue
			}
			res = s.Preferred(ctx)
			if res.OK() {
				res.Source = outcome.SourcePreferred
				st = done
				continue
			}
			errs = append(errs, res.Err)
			last = res.Err
			o.log.Debug("preferred source failed",
				"metric", s.Metric, "resource", s.Relation,
				"kind", res.Kind, "err", res.Err)
			st = tryFallback

		case tryFallback:
			if s.Fallback == nil {
				st = failed
				continue
			}
			res = s.Fallback(ctx)
			if res.OK() {
				res.Source = outcome.SourceFallback
				if s.Preferred == nil {
					res.Source = outcome.SourceRaw
				}
				st = done
				continue
			}
			errs = append(errs, res.Err)
			last = res.Err
			st = failed
		}
	}

	if st == failed {
		res = outcome.Result[T]{
			Value:  s.defaultValue(),
			Source: outcome.SourceDefault,
			Kind:   outcome.Classify(last),
			Err:    errors.Join(errs...),
		}
		if res.Err == nil {
			res.Err = errNoPath
			res.Kind = outcome.KindTransient
		}
		o.logFailure(s.Metric, res.Kind, res.Err)
	}
	resultsTotal.WithLabelValues(s.Metric, string(res.Source)).Inc()
	runDuration.WithLabelValues(s.Metric).Observe(
		time.Since(start).Seconds())
	return res
}

var errNoPath = errors.New("no computation path available")

func (o *Orchestrator) logFailure(
	metric string, kind outcome.Kind, err error,
) {
	switch kind {
	case outcome.KindScopeMissing, outcome.KindCanceled:
		o.log.Debug("metric defaulted",
			"metric", metric, "kind", kind, "err", err)
	default:
		o.log.Warn("metric defaulted",
			"metric", metric, "kind", kind, "err", err)
	}
}
