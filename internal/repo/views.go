package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wesm/fleetview/internal/aggregate"
	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/store"
	"github.com/wesm/fleetview/internal/tenant"
)

// Names of the optional precomputed relations.
const (
	MonthlyRevenueView  = "monthly_revenue_v"
	BookingStatsView    = "booking_stats_v"
	RouteRevenueView    = "route_revenue_v"
	IncidentSummaryView = "incident_summary_v"
	CommissionProc      = "calculate_commission"
)

// OptionalViews lists the relations a deployment may lack.
var OptionalViews = []string{
	MonthlyRevenueView,
	BookingStatsView,
	RouteRevenueView,
	IncidentSummaryView,
}

// MonthlyRevenueRow is one month of monthly_revenue_v.
type MonthlyRevenueRow struct {
	Month    string  `json:"month"`
	Revenue  float64 `json:"revenue"`
	Bookings int     `json:"bookings"`
}

// BookingStatsRow is one month of booking_stats_v.
type BookingStatsRow struct {
	Month     string `json:"month"`
	Total     int    `json:"total"`
	Confirmed int    `json:"confirmed"`
	Cancelled int    `json:"cancelled"`
	Pending   int    `json:"pending"`
}

// RouteRevenueRow is one route-month of route_revenue_v.
type RouteRevenueRow struct {
	Month     string  `json:"month"`
	RouteID   string  `json:"route_id"`
	RouteName string  `json:"route_name"`
	Revenue   float64 `json:"revenue"`
	Bookings  int     `json:"bookings"`
}

// IncidentSummaryRow is one month of incident_summary_v.
type IncidentSummaryRow struct {
	Month    string `json:"month"`
	Total    int    `json:"total"`
	Open     int    `json:"open"`
	Resolved int    `json:"resolved"`
	Critical int    `json:"critical"`
}

// viewQuery selects a month-keyed view. Window bounds are compared
// against the month column as "YYYY-MM" strings.
func viewQuery(tc tenant.Context, name string, w Window) store.Query {
	q := def{table: name}.query(tc, Filter{})
	if !w.From.IsZero() {
		q = q.Where("month", store.OpGte, aggregate.MonthKey(w.From))
	}
	if !w.To.IsZero() {
		op := store.OpLte
		// an exclusive bound on a month start excludes that month
		if !w.InclusiveTo && w.To.Equal(aggregate.MonthStart(w.To)) {
			op = store.OpLt
		}
		q = q.Where("month", op, aggregate.MonthKey(w.To))
	}
	q.Order = []store.Order{{Column: "month"}}
	return q
}

func fetchView[T any](
	ctx context.Context, r *Repo, tc tenant.Context, name string,
	w Window, decode func(store.RawRow) T,
) outcome.Result[[]T] {
	if !tc.Valid() {
		return outcome.Fail([]T{}, store.ErrScopeMissing)
	}
	rows, err := r.st.Select(ctx, viewQuery(tc, name, w))
	if err != nil {
		r.logReadFailure(tc, name, err)
		return outcome.Fail([]T{}, err)
	}
	return outcome.Ok(decodeScoped(r, tc, name, rows, decode),
		outcome.SourcePreferred)
}

func (r *Repo) MonthlyRevenue(
	ctx context.Context, tc tenant.Context, w Window,
) outcome.Result[[]MonthlyRevenueRow] {
	return fetchView(ctx, r, tc, MonthlyRevenueView, w,
		func(row store.RawRow) MonthlyRevenueRow {
			return MonthlyRevenueRow{
				Month:    row.String("month"),
				Revenue:  row.Float("revenue"),
				Bookings: row.Int("bookings"),
			}
		})
}

func (r *Repo) BookingStats(
	ctx context.Context, tc tenant.Context, w Window,
) outcome.Result[[]BookingStatsRow] {
	return fetchView(ctx, r, tc, BookingStatsView, w,
		func(row store.RawRow) BookingStatsRow {
			return BookingStatsRow{
				Month:     row.String("month"),
				Total:     row.Int("total"),
				Confirmed: row.Int("confirmed"),
				Cancelled: row.Int("cancelled"),
				Pending:   row.Int("pending"),
			}
		})
}

func (r *Repo) RouteRevenue(
	ctx context.Context, tc tenant.Context, w Window,
) outcome.Result[[]RouteRevenueRow] {
	return fetchView(ctx, r, tc, RouteRevenueView, w,
		func(row store.RawRow) RouteRevenueRow {
			return RouteRevenueRow{
				Month:     row.String("month"),
				RouteID:   row.String("route_id"),
				RouteName: row.String("route_name"),
				Revenue:   row.Float("revenue"),
				Bookings:  row.Int("bookings"),
			}
		})
}

func (r *Repo) IncidentSummary(
	ctx context.Context, tc tenant.Context, w Window,
) outcome.Result[[]IncidentSummaryRow] {
	return fetchView(ctx, r, tc, IncidentSummaryView, w,
		func(row store.RawRow) IncidentSummaryRow {
			return IncidentSummaryRow{
				Month:    row.String("month"),
				Total:    row.Int("total"),
				Open:     row.Int("open"),
				Resolved: row.Int("resolved"),
				Critical: row.Int("critical"),
			}
		})
}

// Commission is the result of calculate_commission for one period.
type Commission struct {
	CompanyID   string    `json:"company_id"`
	Period      string    `json:"period"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	FixedFee    float64   `json:"fixed_fee"`
	Rate        float64   `json:"rate"`
	SeatsSold   int       `json:"seats_sold"`
	FarePerSeat float64   `json:"fare_per_seat"`
	Gross       float64   `json:"gross"`
	Due         float64   `json:"due"`
}

var errEmptyProcResult = errors.New("procedure returned no rows")

// CalculateCommission invokes the calculate_commission procedure for
// month ("YYYY-MM") over [month start, next month start). The
// procedure is authoritative; there is no client-side recomputation.
func (r *Repo) CalculateCommission(
	ctx context.Context, tc tenant.Context, month string,
) outcome.Result[Commission] {
	empty := Commission{CompanyID: tc.ID, Period: month}
	if !tc.Valid() {
		return outcome.Fail(empty, store.ErrScopeMissing)
	}
	start, end, err := aggregate.CommissionPeriod(month)
	if err != nil {
		return outcome.Fail(empty, err)
	}
	empty.PeriodStart, empty.PeriodEnd = start, end

	rows, err := r.st.Call(ctx, CommissionProc, map[string]any{
		"p_company_id":   tc.ID,
		"p_period_start": start,
		"p_period_end":   end,
	})
	if err != nil {
		r.logReadFailure(tc, CommissionProc, err)
		return outcome.Fail(empty, err)
	}
	decoded := decodeScoped(r, tc, CommissionProc, rows,
		func(row store.RawRow) Commission {
			return Commission{
				CompanyID:   row.String(store.TenantColumn),
				Period:      month,
				PeriodStart: start,
				PeriodEnd:   end,
				FixedFee:    row.Float("fixed_fee"),
				Rate:        row.Float("rate"),
				SeatsSold:   row.Int("seats_sold"),
				FarePerSeat: row.Float("fare_per_seat"),
				Gross:       row.Float("gross"),
				Due:         aggregate.Round2(row.Float("due")),
			}
		})
	if len(decoded) == 0 {
		err := fmt.Errorf("%s: %w", CommissionProc, errEmptyProcResult)
		r.logReadFailure(tc, CommissionProc, err)
		return outcome.Fail(empty, err)
	}
	return outcome.Ok(decoded[0], outcome.SourcePreferred)
}
