package kpi

import (
	"context"
	"slices"
	"strings"

	"github.com/wesm/fleetview/internal/aggregate"
	"github.com/wesm/fleetview/internal/fallback"
	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/repo"
)

func countStatuses(bs []repo.Booking) BookingStats {
	var st BookingStats
	for _, b := range bs {
		st.Total++
		switch b.Status {
		case repo.BookingConfirmed:
			st.Confirmed++
		case repo.BookingCancelled:
			st.Cancelled++
		case repo.BookingPending:
			st.Pending++
		}
	}
	return st
}

func sumStatsRows(rows []repo.BookingStatsRow) BookingStats {
	var st BookingStats
	for _, r := range rows {
		st.Total += r.Total
		st.Confirmed += r.Confirmed
		st.Cancelled += r.Cancelled
		st.Pending += r.Pending
	}
	return st
}

// bookingStats is shared by BookingStats and CancellationRate.
func (s *Service) bookingStats(
	ctx context.Context, sc Scope, metric string,
) outcome.Result[BookingStats] {
	w := s.trendWindow(sc)
	return run(ctx, s, sc, fallback.Strategy[BookingStats]{
		Metric:   metric,
		Relation: repo.BookingStatsView,
		Preferred: func(ctx context.Context) outcome.Result[BookingStats] {
			return then(s.repo.BookingStats(ctx, sc.Tenant, w), sumStatsRows)
		},
		Fallback: func(ctx context.Context) outcome.Result[BookingStats] {
			return then(
				s.repo.Bookings(ctx, sc.Tenant, repo.Filter{Window: w}),
				countStatuses)
		},
		Default: func() BookingStats { return BookingStats{} },
	})
}

// BookingStats counts bookings by status over the trend window.
func (s *Service) BookingStats(
	ctx context.Context, sc Scope,
) outcome.Result[BookingStats] {
	return s.bookingStats(ctx, sc, "bookings.booking_stats")
}

// CancellationRate is the share of bookings cancelled.
func (s *Service) CancellationRate(
	ctx context.Context, sc Scope,
) outcome.Result[Rate] {
	return then(s.bookingStats(ctx, sc, "bookings.cancellation_rate"),
		func(st BookingStats) Rate {
			return Rate{
				Percent: aggregate.Percent(
					float64(st.Cancelled), float64(st.Total)),
				Count: st.Total,
			}
		})
}

// BookingsTrend is the monthly count of non-cancelled bookings.
func (s *Service) BookingsTrend(
	ctx context.Context, sc Scope,
) outcome.Result[[]TrendPoint] {
	keys := s.trendKeys(sc)
	f := repo.Filter{Window: s.trendWindow(sc)}
	return rawOnly(ctx, s, sc, "bookings.bookings_trend",
		func() []TrendPoint { return zeroTrendPoints(keys) },
		func(ctx context.Context) outcome.Result[[]TrendPoint] {
			return then(s.repo.Bookings(ctx, sc.Tenant, f),
				func(bs []repo.Booking) []TrendPoint {
					active := activeBookings(bs)
					times := make([]aggregate.Sample, len(active))
					for i, b := range active {
						times[i] = aggregate.Sample{At: b.BookedAt, Value: 1}
					}
					return trendPoints(
						aggregate.SumByBucket(times, keys, aggregate.Month))
				})
		})
}

// rankRoutes orders routes by revenue, largest first. Input is sorted
// by route id first so both computation paths rank ties identically.
func rankRoutes(byID map[string]*RouteRevenue, n int) []RouteRevenue {
	routes := make([]RouteRevenue, 0, len(byID))
	for _, r := range byID {
		r.Revenue = aggregate.Round2(r.Revenue)
		routes = append(routes, *r)
	}
	slices.SortFunc(routes, func(a, b RouteRevenue) int {
		return strings.Compare(a.RouteID, b.RouteID)
	})
	slices.SortStableFunc(routes, func(a, b RouteRevenue) int {
		switch {
		case a.Revenue > b.Revenue:
			return -1
		case a.Revenue < b.Revenue:
			return 1
		}
		return 0
	})
	if n > 0 && len(routes) > n {
		routes = routes[:n]
	}
	return routes
}

// TopRoutes ranks routes by revenue over the trend window.
func (s *Service) TopRoutes(
	ctx context.Context, sc Scope,
) outcome.Result[[]RouteRevenue] {
	w := s.trendWindow(sc)
	return run(ctx, s, sc, fallback.Strategy[[]RouteRevenue]{
		Metric:   "bookings.top_routes",
		Relation: repo.RouteRevenueView,
		Preferred: func(ctx context.Context) outcome.Result[[]RouteRevenue] {
			return then(s.repo.RouteRevenue(ctx, sc.Tenant, w),
				func(rows []repo.RouteRevenueRow) []RouteRevenue {
					byID := make(map[string]*RouteRevenue)
					for _, r := range rows {
						rr, ok := byID[r.RouteID]
						if !ok {
							rr = &RouteRevenue{RouteID: r.RouteID, RouteName: r.RouteName}
							byID[r.RouteID] = rr
						}
						rr.Revenue += r.Revenue
						rr.Bookings += r.Bookings
					}
					return rankRoutes(byID, s.topN)
				})
		},
		Fallback: func(ctx context.Context) outcome.Result[[]RouteRevenue] {
			bookings := s.repo.Bookings(ctx, sc.Tenant, repo.Filter{Window: w})
			if !bookings.OK() {
				return then(bookings, func([]repo.Booking) []RouteRevenue { return nil })
			}
			names := make(map[string]string)
			routes := s.repo.Routes(ctx, sc.Tenant, repo.Filter{})
			for _, r := range outcome.OrDefault(routes, nil) {
				names[r.ID] = r.Name
			}
			byID := make(map[string]*RouteRevenue)
			for _, b := range activeBookings(bookings.Value) {
				rr, ok := byID[b.RouteID]
				if !ok {
					name := names[b.RouteID]
					if name == "" {
						name = b.RouteID
					}
					rr = &RouteRevenue{RouteID: b.RouteID, RouteName: name}
					byID[b.RouteID] = rr
				}
				rr.Revenue += b.Amount
				rr.Bookings++
			}
			return outcome.Ok(rankRoutes(byID, s.topN), outcome.SourceRaw)
		},
		Default: func() []RouteRevenue { return []RouteRevenue{} },
	})
}

// ChannelMix counts non-cancelled bookings per sales channel.
func (s *Service) ChannelMix(
	ctx context.Context, sc Scope,
) outcome.Result[[]aggregate.Point] {
	f := repo.Filter{Window: s.trendWindow(sc)}
	return rawOnly(ctx, s, sc, "bookings.channel_mix", emptyPoints,
		func(ctx context.Context) outcome.Result[[]aggregate.Point] {
			return then(s.repo.Bookings(ctx, sc.Tenant, f),
				func(bs []repo.Booking) []aggregate.Point {
					var channels []string
					for _, b := range activeBookings(bs) {
						channels = append(channels, b.Channel)
					}
					return aggregate.TopN(aggregate.GroupCount(channels), 0)
				})
		})
}
