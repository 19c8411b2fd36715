package kpi

import (
	"context"

	"github.com/wesm/fleetview/internal/aggregate"
	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/repo"
)

const (
	// dailyWindowDays is the width of the daily boardings chart.
	dailyWindowDays = 14
	// recentDays bounds occupancy, utilization and punctuality.
	recentDays = 30
	// onTimeMinutes is the largest delay still counted as on time.
	onTimeMinutes = 5
)

func runningTrips(ts []repo.Trip) []repo.Trip {
	out := make([]repo.Trip, 0, len(ts))
	for _, t := range ts {
		if t.Status != "cancelled" {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) recentTrips(
	ctx context.Context, sc Scope,
) outcome.Result[[]repo.Trip] {
	return s.repo.Trips(ctx, sc.Tenant, repo.Filter{
		Window: repo.TrailingDays(sc.Now, recentDays),
	})
}

// OccupancyRate is the mean seat occupancy of recent trips.
func (s *Service) OccupancyRate(
	ctx context.Context, sc Scope,
) outcome.Result[Rate] {
	return rawOnly(ctx, s, sc, "boarding.occupancy_rate",
		func() Rate { return Rate{} },
		func(ctx context.Context) outcome.Result[Rate] {
			return then(s.recentTrips(ctx, sc), func(ts []repo.Trip) Rate {
				var obs []float64
				for _, t := range runningTrips(ts) {
					if t.Capacity <= 0 {
						continue
					}
					obs = append(obs, aggregate.Percent(
						float64(t.SeatsSold), float64(t.Capacity)))
				}
				return Rate{Percent: aggregate.MeanPercent(obs), Count: len(obs)}
			})
		})
}

// DailyBoardings is seats sold per day over the last two weeks.
func (s *Service) DailyBoardings(
	ctx context.Context, sc Scope,
) outcome.Result[[]TrendPoint] {
	keys := aggregate.TrailingDayKeys(sc.Now, dailyWindowDays)
	f := repo.Filter{Window: repo.TrailingDays(sc.Now, dailyWindowDays)}
	return rawOnly(ctx, s, sc, "boarding.daily_boardings",
		func() []TrendPoint { return zeroTrendPoints(keys) },
		func(ctx context.Context) outcome.Result[[]TrendPoint] {
			return then(s.repo.Trips(ctx, sc.Tenant, f),
				func(ts []repo.Trip) []TrendPoint {
					var samples []aggregate.Sample
					for _, t := range runningTrips(ts) {
						samples = append(samples, aggregate.Sample{
							At: t.DepartedAt, Value: float64(t.SeatsSold),
						})
					}
					return trendPoints(
						aggregate.SumByBucket(samples, keys, aggregate.Day))
				})
		})
}

// BusiestDepots ranks depots by recent trip count.
func (s *Service) BusiestDepots(
	ctx context.Context, sc Scope,
) outcome.Result[[]aggregate.Point] {
	return rawOnly(ctx, s, sc, "boarding.busiest_depots", emptyPoints,
		func(ctx context.Context) outcome.Result[[]aggregate.Point] {
			return then(s.recentTrips(ctx, sc),
				func(ts []repo.Trip) []aggregate.Point {
					var depots []string
					for _, t := range runningTrips(ts) {
						depots = append(depots, t.Depot)
					}
					return aggregate.TopN(aggregate.GroupCount(depots), s.topN)
				})
		})
}

// FleetStatus counts vehicles per status.
func (s *Service) FleetStatus(
	ctx context.Context, sc Scope,
) outcome.Result[[]aggregate.Point] {
	return rawOnly(ctx, s, sc, "operations.fleet_status", emptyPoints,
		func(ctx context.Context) outcome.Result[[]aggregate.Point] {
			return then(s.repo.Vehicles(ctx, sc.Tenant, repo.Filter{}),
				func(vs []repo.Vehicle) []aggregate.Point {
					statuses := make([]string, len(vs))
					for i, v := range vs {
						statuses[i] = v.Status
					}
					return aggregate.TopN(aggregate.GroupCount(statuses), 0)
				})
		})
}

// FleetUtilization is the share of active vehicles that ran at least
// one trip recently.
func (s *Service) FleetUtilization(
	ctx context.Context, sc Scope,
) outcome.Result[Rate] {
	return rawOnly(ctx, s, sc, "operations.fleet_utilization",
		func() Rate { return Rate{} },
		func(ctx context.Context) outcome.Result[Rate] {
			vehicles := s.repo.Vehicles(ctx, sc.Tenant,
				repo.Filter{Status: []string{"active"}})
			if !vehicles.OK() {
				return then(vehicles, func([]repo.Vehicle) Rate { return Rate{} })
			}
			return then(s.recentTrips(ctx, sc), func(ts []repo.Trip) Rate {
				active := make(map[string]bool, len(vehicles.Value))
				for _, v := range vehicles.Value {
					active[v.ID] = false
				}
				used := 0
				for _, t := range runningTrips(ts) {
					if seen, ok := active[t.VehicleID]; ok && !seen {
						active[t.VehicleID] = true
						used++
					}
				}
				return Rate{
					Percent: aggregate.Percent(float64(used), float64(len(active))),
					Count:   len(active),
				}
			})
		})
}

// OnTimeRate is the share of recently completed trips delayed by at
// most five minutes.
func (s *Service) OnTimeRate(
	ctx context.Context, sc Scope,
) outcome.Result[Rate] {
	return rawOnly(ctx, s, sc, "operations.on_time_rate",
		func() Rate { return Rate{} },
		func(ctx context.Context) outcome.Result[Rate] {
			return then(s.recentTrips(ctx, sc), func(ts []repo.Trip) Rate {
				completed, onTime := 0, 0
				for _, t := range ts {
					if t.Status != "completed" {
						continue
					}
					completed++
					if t.DelayMinutes <= onTimeMinutes {
						onTime++
					}
				}
				return Rate{
					Percent: aggregate.Percent(float64(onTime), float64(completed)),
					Count:   completed,
				}
			})
		})
}

// MaintenanceCostTrend is monthly maintenance spend.
func (s *Service) MaintenanceCostTrend(
	ctx context.Context, sc Scope,
) outcome.Result[[]TrendPoint] {
	keys := s.trendKeys(sc)
	f := repo.Filter{Window: s.trendWindow(sc)}
	return rawOnly(ctx, s, sc, "maintenance.cost_trend",
		func() []TrendPoint { return zeroTrendPoints(keys) },
		func(ctx context.Context) outcome.Result[[]TrendPoint] {
			return then(s.repo.Maintenance(ctx, sc.Tenant, f),
				func(ms []repo.MaintenanceRecord) []TrendPoint {
					var samples []aggregate.Sample
					for _, m := range ms {
						if m.Status == "cancelled" {
							continue
						}
						samples = append(samples,
							aggregate.Sample{At: m.ServicedAt, Value: m.Cost})
					}
					return trendPoints(
						aggregate.SumByBucket(samples, keys, aggregate.Month))
				})
		})
}

// OpenWorkOrders counts unfinished maintenance and its estimated cost.
func (s *Service) OpenWorkOrders(
	ctx context.Context, sc Scope,
) outcome.Result[Outstanding] {
	f := repo.Filter{Status: []string{"open", "in_progress"}}
	return rawOnly(ctx, s, sc, "maintenance.open_work_orders",
		func() Outstanding { return Outstanding{} },
		func(ctx context.Context) outcome.Result[Outstanding] {
			return then(s.repo.Maintenance(ctx, sc.Tenant, f),
				func(ms []repo.MaintenanceRecord) Outstanding {
					var o Outstanding
					for _, m := range ms {
						o.Count++
						o.Amount += m.Cost
					}
					o.Amount = aggregate.Round2(o.Amount)
					return o
				})
		})
}

// FuelCostTrend is monthly fuel spend.
func (s *Service) FuelCostTrend(
	ctx context.Context, sc Scope,
) outcome.Result[[]TrendPoint] {
	keys := s.trendKeys(sc)
	f := repo.Filter{Window: s.trendWindow(sc)}
	return rawOnly(ctx, s, sc, "fuel.cost_trend",
		func() []TrendPoint { return zeroTrendPoints(keys) },
		func(ctx context.Context) outcome.Result[[]TrendPoint] {
			return then(s.repo.FuelLogs(ctx, sc.Tenant, f),
				func(ls []repo.FuelLog) []TrendPoint {
					samples := make([]aggregate.Sample, len(ls))
					for i, l := range ls {
						samples[i] = aggregate.Sample{At: l.FilledAt, Value: l.Cost}
					}
					return trendPoints(
						aggregate.SumByBucket(samples, keys, aggregate.Month))
				})
		})
}

// FuelEfficiency is kilometres driven per liter over the trend window.
func (s *Service) FuelEfficiency(
	ctx context.Context, sc Scope,
) outcome.Result[FuelEfficiency] {
	f := repo.Filter{Window: s.trendWindow(sc)}
	return rawOnly(ctx, s, sc, "fuel.efficiency",
		func() FuelEfficiency { return FuelEfficiency{} },
		func(ctx context.Context) outcome.Result[FuelEfficiency] {
			return then(s.repo.FuelLogs(ctx, sc.Tenant, f),
				func(ls []repo.FuelLog) FuelEfficiency {
					var e FuelEfficiency
					for _, l := range ls {
						e.Liters += aggregate.Finite(l.Liters)
						e.DistanceKm += aggregate.Finite(l.DistanceKm)
					}
					if e.Liters > 0 {
						e.KmPerLiter = aggregate.Round1(e.DistanceKm / e.Liters)
					}
					e.Liters = aggregate.Round2(e.Liters)
					e.DistanceKm = aggregate.Round2(e.DistanceKm)
					return e
				})
		})
}
