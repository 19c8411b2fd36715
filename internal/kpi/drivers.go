package kpi

import (
	"context"

	"github.com/wesm/fleetview/internal/aggregate"
	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/repo"
)

// shiftHours prefers the recorded hours and falls back to the shift's
// span.
func shiftHours(sh repo.DriverShift) float64 {
	if sh.Hours > 0 {
		return sh.Hours
	}
	if sh.EndedAt != nil && sh.EndedAt.After(sh.StartedAt) {
		return sh.EndedAt.Sub(sh.StartedAt).Hours()
	}
	return 0
}

// DriverHours summarizes shift lengths over the trend window.
func (s *Service) DriverHours(
	ctx context.Context, sc Scope,
) outcome.Result[DriverHours] {
	f := repo.Filter{Window: s.trendWindow(sc)}
	return rawOnly(ctx, s, sc, "drivers.driver_hours",
		func() DriverHours { return DriverHours{} },
		func(ctx context.Context) outcome.Result[DriverHours] {
			return then(s.repo.DriverShifts(ctx, sc.Tenant, f),
				func(shifts []repo.DriverShift) DriverHours {
					var hours []float64
					for _, sh := range shifts {
						if sh.Status == "cancelled" {
							continue
						}
						hours = append(hours, shiftHours(sh))
					}
					return DriverHours{
						TotalHours:  aggregate.Round1(aggregate.Sum(hours)),
						MedianHours: aggregate.Round1(aggregate.Median(hours)),
						P90Hours:    aggregate.Round1(aggregate.Percentile(hours, 0.9)),
						Shifts:      len(hours),
					}
				})
		})
}

// ActiveDrivers counts drivers with status active.
func (s *Service) ActiveDrivers(
	ctx context.Context, sc Scope,
) outcome.Result[Count] {
	f := repo.Filter{Status: []string{"active"}}
	return rawOnly(ctx, s, sc, "drivers.active_drivers",
		func() Count { return Count{} },
		func(ctx context.Context) outcome.Result[Count] {
			return then(s.repo.Drivers(ctx, sc.Tenant, f),
				func(ds []repo.Driver) Count { return Count{Count: len(ds)} })
		})
}

// TopDrivers ranks drivers by recent trip count, keyed by name.
func (s *Service) TopDrivers(
	ctx context.Context, sc Scope,
) outcome.Result[[]aggregate.Point] {
	return rawOnly(ctx, s, sc, "drivers.top_drivers", emptyPoints,
		func(ctx context.Context) outcome.Result[[]aggregate.Point] {
			trips := s.recentTrips(ctx, sc)
			if !trips.OK() {
				return then(trips, func([]repo.Trip) []aggregate.Point { return nil })
			}
			names := make(map[string]string)
			drivers := s.repo.Drivers(ctx, sc.Tenant, repo.Filter{})
			for _, d := range outcome.OrDefault(drivers, nil) {
				names[d.ID] = d.FullName
			}
			var keys []string
			for _, t := range runningTrips(trips.Value) {
				if t.DriverID == "" {
					continue
				}
				key := names[t.DriverID]
				if key == "" {
					key = t.DriverID
				}
				keys = append(keys, key)
			}
			return outcome.Ok(
				aggregate.TopN(aggregate.GroupCount(keys), s.topN),
				outcome.SourceRaw)
		})
}
