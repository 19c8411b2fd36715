package kpi

import (
	"github.com/wesm/fleetview/internal/aggregate"
	"github.com/wesm/fleetview/internal/repo"
)

// RevenuePoint is one month of a revenue trend.
type RevenuePoint struct {
	Month   string  `json:"month"`
	Revenue float64 `json:"revenue"`
}

// TrendPoint is one bucket ("YYYY-MM" or "YYYY-MM-DD") of a series.
type TrendPoint struct {
	Period string  `json:"period"`
	Value  float64 `json:"value"`
}

// RevenueTotal sums revenue over the trend window.
type RevenueTotal struct {
	Revenue  float64 `json:"revenue"`
	Bookings int     `json:"bookings"`
}

// Outstanding counts open items and their value.
type Outstanding struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// BookingStats counts bookings by status over the trend window.
type BookingStats struct {
	Total     int `json:"total"`
	Confirmed int `json:"confirmed"`
	Cancelled int `json:"cancelled"`
	Pending   int `json:"pending"`
}

// RouteRevenue ranks a route by revenue.
type RouteRevenue struct {
	RouteID   string  `json:"route_id"`
	RouteName string  `json:"route_name"`
	Revenue   float64 `json:"revenue"`
	Bookings  int     `json:"bookings"`
}

// Rate is a percentage in [0, 100] and the number of observations
// behind it.
type Rate struct {
	Percent float64 `json:"percent"`
	Count   int     `json:"count"`
}

// FuelEfficiency is distance per liter over the trend window.
type FuelEfficiency struct {
	KmPerLiter float64 `json:"km_per_liter"`
	Liters     float64 `json:"liters"`
	DistanceKm float64 `json:"distance_km"`
}

// IncidentStats counts incidents over the trend window.
type IncidentStats struct {
	Total    int `json:"total"`
	Open     int `json:"open"`
	Resolved int `json:"resolved"`
	Critical int `json:"critical"`
}

// ResolveTime is the mean hours from report to resolution.
type ResolveTime struct {
	MeanHours float64 `json:"mean_hours"`
	Resolved  int     `json:"resolved"`
}

// DriverHours summarizes shift hours over the trend window.
type DriverHours struct {
	TotalHours  float64 `json:"total_hours"`
	MedianHours float64 `json:"median_hours"`
	P90Hours    float64 `json:"p90_hours"`
	Shifts      int     `json:"shifts"`
}

// Count is a single tally.
type Count struct {
	Count int `json:"count"`
}

func zeroRevenue(keys []string) []RevenuePoint {
	out := make([]RevenuePoint, len(keys))
	for i, k := range keys {
		out[i] = RevenuePoint{Month: k}
	}
	return out
}

func zeroTrendPoints(keys []string) []TrendPoint {
	out := make([]TrendPoint, len(keys))
	for i, k := range keys {
		out[i] = TrendPoint{Period: k}
	}
	return out
}

func zeroCommission(sc Scope) repo.Commission {
	month := commissionMonth(sc)
	start, end, _ := aggregate.CommissionPeriod(month)
	return repo.Commission{
		CompanyID:   sc.Tenant.ID,
		Period:      month,
		PeriodStart: start,
		PeriodEnd:   end,
	}
}
