package kpi

import (
	"context"

	"github.com/wesm/fleetview/internal/aggregate"
	"github.com/wesm/fleetview/internal/fallback"
	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/repo"
)

// Payment statuses that count as collected revenue.
var paidStatuses = []string{"completed", "paid"}

func commissionMonth(sc Scope) string {
	return aggregate.MonthKey(sc.Now)
}

func activeBookings(bs []repo.Booking) []repo.Booking {
	out := make([]repo.Booking, 0, len(bs))
	for _, b := range bs {
		if b.Status != repo.BookingCancelled {
			out = append(out, b)
		}
	}
	return out
}

func revenuePoints(points []aggregate.Point) []RevenuePoint {
	out := make([]RevenuePoint, len(points))
	for i, p := range points {
		out[i] = RevenuePoint{Month: p.Key, Revenue: p.Value}
	}
	return out
}

func trendPoints(points []aggregate.Point) []TrendPoint {
	out := make([]TrendPoint, len(points))
	for i, p := range points {
		out[i] = TrendPoint{Period: p.Key, Value: p.Value}
	}
	return out
}

// RevenueTrend is monthly revenue over the trailing window, excluding
// cancelled bookings. Months without bookings report 0.
func (s *Service) RevenueTrend(
	ctx context.Context, sc Scope,
) outcome.Result[[]RevenuePoint] {
	keys, w := s.trendKeys(sc), s.trendWindow(sc)
	return run(ctx, s, sc, fallback.Strategy[[]RevenuePoint]{
		Metric:   "finance.revenue_trend",
		Relation: repo.MonthlyRevenueView,
		Preferred: func(ctx context.Context) outcome.Result[[]RevenuePoint] {
			return then(s.repo.MonthlyRevenue(ctx, sc.Tenant, w),
				func(rows []repo.MonthlyRevenueRow) []RevenuePoint {
					keyed := make([]aggregate.Point, len(rows))
					for i, r := range rows {
						keyed[i] = aggregate.Point{Key: r.Month, Value: r.Revenue}
					}
					return revenuePoints(aggregate.SumByKey(keyed, keys))
				})
		},
		Fallback: func(ctx context.Context) outcome.Result[[]RevenuePoint] {
			return then(s.repo.Bookings(ctx, sc.Tenant, repo.Filter{Window: w}),
				func(bs []repo.Booking) []RevenuePoint {
					samples := make([]aggregate.Sample, 0, len(bs))
					for _, b := range activeBookings(bs) {
						samples = append(samples, aggregate.Sample{
							At: b.BookedAt, Value: b.Amount,
						})
					}
					return revenuePoints(
						aggregate.SumByBucket(samples, keys, aggregate.Month))
				})
		},
		Default: func() []RevenuePoint { return zeroRevenue(keys) },
	})
}

// RevenueTotal is revenue and booking count over the trend window.
func (s *Service) RevenueTotal(
	ctx context.Context, sc Scope,
) outcome.Result[RevenueTotal] {
	w := s.trendWindow(sc)
	return run(ctx, s, sc, fallback.Strategy[RevenueTotal]{
		Metric:   "finance.revenue_total",
		Relation: repo.MonthlyRevenueView,
		Preferred: func(ctx context.Context) outcome.Result[RevenueTotal] {
			return then(s.repo.MonthlyRevenue(ctx, sc.Tenant, w),
				func(rows []repo.MonthlyRevenueRow) RevenueTotal {
					var t RevenueTotal
					for _, r := range rows {
						t.Revenue += r.Revenue
						t.Bookings += r.Bookings
					}
					t.Revenue = aggregate.Round2(t.Revenue)
					return t
				})
		},
		Fallback: func(ctx context.Context) outcome.Result[RevenueTotal] {
			return then(s.repo.Bookings(ctx, sc.Tenant, repo.Filter{Window: w}),
				func(bs []repo.Booking) RevenueTotal {
					var t RevenueTotal
					for _, b := range activeBookings(bs) {
						t.Revenue += b.Amount
						t.Bookings++
					}
					t.Revenue = aggregate.Round2(t.Revenue)
					return t
				})
		},
		Default: func() RevenueTotal { return RevenueTotal{} },
	})
}

// PaymentsByMethod sums collected payments per method, largest first.
func (s *Service) PaymentsByMethod(
	ctx context.Context, sc Scope,
) outcome.Result[[]aggregate.Point] {
	f := repo.Filter{Window: s.trendWindow(sc), Status: paidStatuses}
	return rawOnly(ctx, s, sc, "finance.payments_by_method", emptyPoints,
		func(ctx context.Context) outcome.Result[[]aggregate.Point] {
			return then(s.repo.Payments(ctx, sc.Tenant, f),
				func(ps []repo.Payment) []aggregate.Point {
					pairs := make([]aggregate.Point, len(ps))
					for i, p := range ps {
						pairs[i] = aggregate.Point{Key: p.Method, Value: p.Amount}
					}
					return aggregate.TopN(aggregate.GroupSum(pairs), 0)
				})
		})
}

// OutstandingPayments counts pending payments and their total.
func (s *Service) OutstandingPayments(
	ctx context.Context, sc Scope,
) outcome.Result[Outstanding] {
	f := repo.Filter{Status: []string{"pending"}}
	return rawOnly(ctx, s, sc, "finance.outstanding_payments",
		func() Outstanding { return Outstanding{} },
		func(ctx context.Context) outcome.Result[Outstanding] {
			return then(s.repo.Payments(ctx, sc.Tenant, f),
				func(ps []repo.Payment) Outstanding {
					var o Outstanding
					for _, p := range ps {
						o.Count++
						o.Amount += p.Amount
					}
					o.Amount = aggregate.Round2(o.Amount)
					return o
				})
		})
}

func approvedExpenses(es []repo.Expense) []repo.Expense {
	out := make([]repo.Expense, 0, len(es))
	for _, e := range es {
		if e.Status != "rejected" {
			out = append(out, e)
		}
	}
	return out
}

// ExpensesByCategory ranks the largest expense categories.
func (s *Service) ExpensesByCategory(
	ctx context.Context, sc Scope,
) outcome.Result[[]aggregate.Point] {
	f := repo.Filter{Window: s.trendWindow(sc)}
	return rawOnly(ctx, s, sc, "finance.expenses_by_category", emptyPoints,
		func(ctx context.Context) outcome.Result[[]aggregate.Point] {
			return then(s.repo.Expenses(ctx, sc.Tenant, f),
				func(es []repo.Expense) []aggregate.Point {
					var pairs []aggregate.Point
					for _, e := range approvedExpenses(es) {
						pairs = append(pairs,
							aggregate.Point{Key: e.Category, Value: e.Amount})
					}
					return aggregate.TopN(aggregate.GroupSum(pairs), s.topN)
				})
		})
}

// ExpenseTrend is monthly expense totals.
func (s *Service) ExpenseTrend(
	ctx context.Context, sc Scope,
) outcome.Result[[]TrendPoint] {
	keys := s.trendKeys(sc)
	f := repo.Filter{Window: s.trendWindow(sc)}
	return rawOnly(ctx, s, sc, "finance.expense_trend",
		func() []TrendPoint { return zeroTrendPoints(keys) },
		func(ctx context.Context) outcome.Result[[]TrendPoint] {
			return then(s.repo.Expenses(ctx, sc.Tenant, f),
				func(es []repo.Expense) []TrendPoint {
					var samples []aggregate.Sample
					for _, e := range approvedExpenses(es) {
						samples = append(samples,
							aggregate.Sample{At: e.IncurredAt, Value: e.Amount})
					}
					return trendPoints(
						aggregate.SumByBucket(samples, keys, aggregate.Month))
				})
		})
}

// CommissionDue is the platform commission for the current month, as
// computed by the calculate_commission procedure. There is no raw
// recomputation: when the procedure is unavailable the default is
// reported.
func (s *Service) CommissionDue(
	ctx context.Context, sc Scope,
) outcome.Result[repo.Commission] {
	month := commissionMonth(sc)
	return run(ctx, s, sc, fallback.Strategy[repo.Commission]{
		Metric:   "finance.commission_due",
		Relation: repo.CommissionProc,
		Preferred: func(ctx context.Context) outcome.Result[repo.Commission] {
			return s.repo.CalculateCommission(ctx, sc.Tenant, month)
		},
		Default: func() repo.Commission { return zeroCommission(sc) },
	})
}

func emptyPoints() []aggregate.Point { return []aggregate.Point{} }

// rawOnly runs a metric that has no precomputed source.
func rawOnly[T any](
	ctx context.Context, s *Service, sc Scope, metric string,
	def func() T, fn func(context.Context) outcome.Result[T],
) outcome.Result[T] {
	return run(ctx, s, sc, fallback.Strategy[T]{
		Metric:   metric,
		Fallback: fn,
		Default:  def,
	})
}
