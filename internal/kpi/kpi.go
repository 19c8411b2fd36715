// Package kpi implements the dashboard metrics. Each metric is a
// method on Service returning a typed outcome.Result; Providers
// exposes them as a uniform catalog for the snapshot builder.
package kpi

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/wesm/fleetview/internal/aggregate"
	"github.com/wesm/fleetview/internal/capability"
	"github.com/wesm/fleetview/internal/fallback"
	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/repo"
	"github.com/wesm/fleetview/internal/tenant"
)

// Scope is everything a metric needs besides the store: the resolved
// tenant, the capability map of the current build, and the reference
// time for trailing windows.
type Scope struct {
	Tenant tenant.Context
	Caps   capability.Map
	Now    time.Time
}

// Service computes metrics over a repository.
type Service struct {
	repo        *repo.Repo
	orch        *fallback.Orchestrator
	log         *slog.Logger
	now         func() time.Time
	trendMonths int
	topN        int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTrendMonths sets the trailing window of monthly trends.
func WithTrendMonths(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.trendMonths = n
		}
	}
}

// WithClock overrides time.Now for Scope.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService returns a Service. A nil orchestrator gets a default one.
func NewService(
	r *repo.Repo, orch *fallback.Orchestrator, opts ...Option,
) *Service {
	s := &Service{
		repo:        r,
		orch:        orch,
		log:         slog.Default(),
		now:         time.Now,
		trendMonths: 12,
		topN:        5,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.orch == nil {
		s.orch = fallback.New(fallback.WithLogger(s.log))
	}
	return s
}

// Repo returns the underlying repository.
func (s *Service) Repo() *repo.Repo { return s.repo }

// Scope builds a Scope at the service clock's current time.
func (s *Service) Scope(tc tenant.Context, caps capability.Map) Scope {
	return Scope{Tenant: tc, Caps: caps, Now: s.now().UTC()}
}

func (s *Service) trendWindow(sc Scope) repo.Window {
	return repo.TrailingMonths(sc.Now, s.trendMonths)
}

func (s *Service) trendKeys(sc Scope) []string {
	return aggregate.TrailingMonthKeys(sc.Now, s.trendMonths)
}

// run executes a strategy through the service's orchestrator.
func run[T any](
	ctx context.Context, s *Service, sc Scope, st fallback.Strategy[T],
) outcome.Result[T] {
	return fallback.Run(ctx, s.orch, sc.Caps, st)
}

// then maps a successful result; failures pass through with their
// kind and error.
func then[A, B any](
	r outcome.Result[A], fn func(A) B,
) outcome.Result[B] {
	if !r.OK() {
		return outcome.Result[B]{
			Source: outcome.SourceDefault, Kind: r.Kind, Err: r.Err,
		}
	}
	return outcome.Ok(fn(r.Value), r.Source)
}

// Provider is one entry of the metric catalog.
type Provider struct {
	Domain string
	Name   string
	// Relation is the optional view or procedure the metric prefers,
	// empty when it reads raw tables only.
	Relation string
	Default  func(Scope) any
	Compute  func(context.Context, Scope) outcome.Result[any]
}

// Key returns "domain.name".
func (p Provider) Key() string {
	return p.Domain + "." + p.Name
}

func provide[T any](
	domain, name, relation string,
	def func(Scope) T,
	fn func(context.Context, Scope) outcome.Result[T],
) Provider {
	return Provider{
		Domain:   domain,
		Name:     name,
		Relation: relation,
		Default:  func(sc Scope) any { return def(sc) },
		Compute: func(ctx context.Context, sc Scope) outcome.Result[any] {
			r := fn(ctx, sc)
			return outcome.Result[any]{
				Value: r.Value, Source: r.Source, Kind: r.Kind, Err: r.Err,
			}
		},
	}
}

// Relations returns the distinct optional views the providers depend
// on, for capability probing. Procedures are not probed; a missing
// procedure surfaces when it is called.
func Relations(providers []Provider) []string {
	var out []string
	for _, p := range providers {
		if !slices.Contains(repo.OptionalViews, p.Relation) {
			continue
		}
		if !slices.Contains(out, p.Relation) {
			out = append(out, p.Relation)
		}
	}
	return out
}

// Domains returns the distinct provider domains in catalog order.
func Domains(providers []Provider) []string {
	var out []string
	for _, p := range providers {
		if !slices.Contains(out, p.Domain) {
			out = append(out, p.Domain)
		}
	}
	return out
}

// Find returns the provider for domain and name.
func Find(providers []Provider, domain, name string) (Provider, bool) {
	for _, p := range providers {
		if p.Domain == domain && p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

// Providers returns the full metric catalog.
func (s *Service) Providers() []Provider {
	zeroPoints := func(Scope) []aggregate.Point { return []aggregate.Point{} }
	zeroTrend := func(sc Scope) []TrendPoint {
		return zeroTrendPoints(s.trendKeys(sc))
	}
	return []Provider{
		provide("finance", "revenue_trend", repo.MonthlyRevenueView,
			func(sc Scope) []RevenuePoint {
				return zeroRevenue(s.trendKeys(sc))
			}, s.RevenueTrend),
		provide("finance", "revenue_total", repo.MonthlyRevenueView,
			func(Scope) RevenueTotal { return RevenueTotal{} },
			s.RevenueTotal),
		provide("finance", "payments_by_method", "",
			zeroPoints, s.PaymentsByMethod),
		provide("finance", "outstanding_payments", "",
			func(Scope) Outstanding { return Outstanding{} },
			s.OutstandingPayments),
		provide("finance", "expenses_by_category", "",
			zeroPoints, s.ExpensesByCategory),
		provide("finance", "expense_trend", "", zeroTrend, s.ExpenseTrend),
		provide("finance", "commission_due", repo.CommissionProc,
			func(sc Scope) repo.Commission {
				return zeroCommission(sc)
			}, s.CommissionDue),

		provide("bookings", "booking_stats", repo.BookingStatsView,
			func(Scope) BookingStats { return BookingStats{} },
			s.BookingStats),
		provide("bookings", "bookings_trend", "", zeroTrend,
			s.BookingsTrend),
		provide("bookings", "top_routes", repo.RouteRevenueView,
			func(Scope) []RouteRevenue { return []RouteRevenue{} },
			s.TopRoutes),
		provide("bookings", "channel_mix", "", zeroPoints, s.ChannelMix),
		provide("bookings", "cancellation_rate", repo.BookingStatsView,
			func(Scope) Rate { return Rate{} }, s.CancellationRate),

		provide("boarding", "occupancy_rate", "",
			func(Scope) Rate { return Rate{} }, s.OccupancyRate),
		provide("boarding", "daily_boardings", "",
			func(sc Scope) []TrendPoint {
				return zeroTrendPoints(
					aggregate.TrailingDayKeys(sc.Now, dailyWindowDays))
			}, s.DailyBoardings),
		provide("boarding", "busiest_depots", "",
			zeroPoints, s.BusiestDepots),

		provide("operations", "fleet_status", "",
			zeroPoints, s.FleetStatus),
		provide("operations", "fleet_utilization", "",
			func(Scope) Rate { return Rate{} }, s.FleetUtilization),
		provide("operations", "on_time_rate", "",
			func(Scope) Rate { return Rate{} }, s.OnTimeRate),

		provide("maintenance", "cost_trend", "", zeroTrend,
			s.MaintenanceCostTrend),
		provide("maintenance", "open_work_orders", "",
			func(Scope) Outstanding { return Outstanding{} },
			s.OpenWorkOrders),

		provide("fuel", "cost_trend", "", zeroTrend, s.FuelCostTrend),
		provide("fuel", "efficiency", "",
			func(Scope) FuelEfficiency { return FuelEfficiency{} },
			s.FuelEfficiency),

		provide("incidents", "incident_stats", repo.IncidentSummaryView,
			func(Scope) IncidentStats { return IncidentStats{} },
			s.IncidentStats),
		provide("incidents", "incident_trend", "", zeroTrend,
			s.IncidentTrend),
		provide("incidents", "mean_time_to_resolve", "",
			func(Scope) ResolveTime { return ResolveTime{} },
			s.MeanTimeToResolve),

		provide("drivers", "driver_hours", "",
			func(Scope) DriverHours { return DriverHours{} },
			s.DriverHours),
		provide("drivers", "active_drivers", "",
			func(Scope) Count { return Count{} }, s.ActiveDrivers),
		provide("drivers", "top_drivers", "",
			zeroPoints, s.TopDrivers),
	}
}
