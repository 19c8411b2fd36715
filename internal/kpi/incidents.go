package kpi

import (
	"context"

	"github.com/wesm/fleetview/internal/aggregate"
	"github.com/wesm/fleetview/internal/fallback"
	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/repo"
)

// IncidentStats counts incidents over the trend window.
func (s *Service) IncidentStats(
	ctx context.Context, sc Scope,
) outcome.Result[IncidentStats] {
	w := s.trendWindow(sc)
	return run(ctx, s, sc, fallback.Strategy[IncidentStats]{
		Metric:   "incidents.incident_stats",
		Relation: repo.IncidentSummaryView,
		Preferred: func(ctx context.Context) outcome.Result[IncidentStats] {
			return then(s.repo.IncidentSummary(ctx, sc.Tenant, w),
				func(rows []repo.IncidentSummaryRow) IncidentStats {
					var st IncidentStats
					for _, r := range rows {
						st.Total += r.Total
						st.Open += r.Open
						st.Resolved += r.Resolved
						st.Critical += r.Critical
					}
					return st
				})
		},
		Fallback: func(ctx context.Context) outcome.Result[IncidentStats] {
			return then(
				s.repo.Incidents(ctx, sc.Tenant, repo.Filter{Window: w}),
				func(is []repo.Incident) IncidentStats {
					var st IncidentStats
					for _, i := range is {
						st.Total++
						if i.Resolved() {
							st.Resolved++
						} else {
							st.Open++
						}
						if i.Severity == "critical" {
							st.Critical++
						}
					}
					return st
				})
		},
		Default: func() IncidentStats { return IncidentStats{} },
	})
}

// IncidentTrend is the monthly count of reported incidents.
func (s *Service) IncidentTrend(
	ctx context.Context, sc Scope,
) outcome.Result[[]TrendPoint] {
	keys := s.trendKeys(sc)
	f := repo.Filter{Window: s.trendWindow(sc)}
	return rawOnly(ctx, s, sc, "incidents.incident_trend",
		func() []TrendPoint { return zeroTrendPoints(keys) },
		func(ctx context.Context) outcome.Result[[]TrendPoint] {
			return then(s.repo.Incidents(ctx, sc.Tenant, f),
				func(is []repo.Incident) []TrendPoint {
					samples := make([]aggregate.Sample, len(is))
					for i, inc := range is {
						samples[i] = aggregate.Sample{At: inc.ReportedAt, Value: 1}
					}
					return trendPoints(
						aggregate.SumByBucket(samples, keys, aggregate.Month))
				})
		})
}

// MeanTimeToResolve averages hours from report to resolution over
// incidents resolved in the trend window.
func (s *Service) MeanTimeToResolve(
	ctx context.Context, sc Scope,
) outcome.Result[ResolveTime] {
	f := repo.Filter{Window: s.trendWindow(sc)}
	return rawOnly(ctx, s, sc, "incidents.mean_time_to_resolve",
		func() ResolveTime { return ResolveTime{} },
		func(ctx context.Context) outcome.Result[ResolveTime] {
			return then(s.repo.Incidents(ctx, sc.Tenant, f),
				func(is []repo.Incident) ResolveTime {
					var hours float64
					n := 0
					for _, i := range is {
						if !i.Resolved() || i.ResolvedAt == nil ||
							i.ResolvedAt.Before(i.ReportedAt) {
							continue
						}
						hours += i.ResolvedAt.Sub(i.ReportedAt).Hours()
						n++
					}
					return ResolveTime{
						MeanHours: aggregate.Ratio(hours, n),
						Resolved:  n,
					}
				})
		})
}
