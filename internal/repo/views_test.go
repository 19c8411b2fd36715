package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/store"
	"github.com/wesm/fleetview/internal/store/storetest"
)

func TestMonthlyRevenueView(t *testing.T) {
	r, db := testRepo(t)
	for _, b := range []struct {
		at     string
		amount float64
	}{
		{"2024-01-03T10:00:00Z", 10},
		{"2024-01-15T10:00:00Z", 20},
		{"2024-01-28T10:00:00Z", 30},
		{"2024-02-02T10:00:00Z", 15},
		{"2024-02-20T10:00:00Z", 15},
		{"2024-03-02T10:00:00Z", 40},
	} {
		seedBooking(t, db, acme, b.at, b.amount)
	}
	seedBooking(t, db, acme, "2024-01-20T10:00:00Z", 500,
		with("status", BookingCancelled))
	seedBooking(t, db, globex, "2024-01-20T10:00:00Z", 700)

	w := Window{From: ts("2024-01-01T00:00:00Z"), To: ts("2024-03-01T00:00:00Z")}
	res := r.MonthlyRevenue(context.Background(), acme, w)
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, outcome.SourcePreferred, res.Source)
	assert.Equal(t, []MonthlyRevenueRow{
		{Month: "2024-01", Revenue: 60, Bookings: 3},
		{Month: "2024-02", Revenue: 30, Bookings: 2},
	}, res.Value)
}

func TestViewMissing(t *testing.T) {
	r, db := testRepo(t)
	storetest.DropView(t, db, BookingStatsView)

	res := r.BookingStats(context.Background(), acme, Window{})
	assert.Equal(t, []BookingStatsRow{}, res.Value)
	assert.Equal(t, outcome.KindRelationMissing, res.Kind)
}

func TestIncidentSummaryAndRouteRevenue(t *testing.T) {
	r, db := testRepo(t)
	storetest.Seed(t, db, "routes", acme.ID, map[string]any{
		"id": "r1", "name": "Coast Line",
	})
	seedBooking(t, db, acme, "2024-05-01T10:00:00Z", 25, with("route_id", "r1"))
	seedBooking(t, db, acme, "2024-05-02T10:00:00Z", 5, with("route_id", "r1"))
	storetest.Seed(t, db, "incidents", acme.ID, map[string]any{
		"severity": "critical", "status": "open",
		"reported_at": "2024-05-03T00:00:00Z",
	})
	storetest.Seed(t, db, "incidents", acme.ID, map[string]any{
		"status": "resolved", "reported_at": "2024-05-04T00:00:00Z",
	})

	routes := r.RouteRevenue(context.Background(), acme, Window{})
	require.True(t, routes.OK(), routes.Err)
	assert.Equal(t, []RouteRevenueRow{{
		Month: "2024-05", RouteID: "r1", RouteName: "Coast Line",
		Revenue: 30, Bookings: 2,
	}}, routes.Value)

	inc := r.IncidentSummary(context.Background(), acme, Window{})
	require.True(t, inc.OK(), inc.Err)
	assert.Equal(t, []IncidentSummaryRow{{
		Month: "2024-05", Total: 2, Open: 1, Resolved: 1, Critical: 1,
	}}, inc.Value)
}

func TestCalculateCommissionFixture(t *testing.T) {
	r, db := testRepo(t)
	storetest.Seed(t, db, "commission_settings", acme.ID, map[string]any{
		"fixed_fee": 2000, "rate": 0.035,
	})
	// 500 seats at 50 in March
	for i, at := range []string{
		"2024-03-01T00:00:00Z", "2024-03-10T08:00:00Z",
		"2024-03-15T08:00:00Z", "2024-03-20T08:00:00Z",
		"2024-03-31T23:59:59Z",
	} {
		storetest.Seed(t, db, "trips", acme.ID, map[string]any{
			"departed_at": at, "seats_sold": 100, "fare_per_seat": 50,
			"status": "completed", "depot": string(rune('A' + i)),
		})
	}
	storetest.Seed(t, db, "trips", acme.ID, map[string]any{
		"departed_at": "2024-04-01T00:00:00Z", "seats_sold": 100,
		"fare_per_seat": 50,
	})
	storetest.Seed(t, db, "trips", acme.ID, map[string]any{
		"departed_at": "2024-03-05T00:00:00Z", "seats_sold": 100,
		"fare_per_seat": 50, "status": "cancelled",
	})
	storetest.Seed(t, db, "trips", globex.ID, map[string]any{
		"departed_at": "2024-03-05T00:00:00Z", "seats_sold": 100,
		"fare_per_seat": 50,
	})

	res := r.CalculateCommission(context.Background(), acme, "2024-03")
	require.True(t, res.OK(), res.Err)
	got := res.Value
	assert.Equal(t, 2875.00, got.Due)
	assert.Equal(t, 500, got.SeatsSold)
	assert.Equal(t, 50.0, got.FarePerSeat)
	assert.Equal(t, 25000.0, got.Gross)
	assert.Equal(t, ts("2024-03-01T00:00:00Z"), got.PeriodStart)
	assert.Equal(t, ts("2024-04-01T00:00:00Z"), got.PeriodEnd)
	assert.Equal(t, "acme", got.CompanyID)
}

func TestCalculateCommissionFailures(t *testing.T) {
	t.Run("procedure missing", func(t *testing.T) {
		r, db := testRepo(t)
		db.DropProcedure(CommissionProc)
		res := r.CalculateCommission(context.Background(), acme, "2024-03")
		assert.Equal(t, outcome.KindRelationMissing, res.Kind)
		assert.Zero(t, res.Value.Due)
		assert.Equal(t, "2024-03", res.Value.Period)
	})
	t.Run("bad period", func(t *testing.T) {
		fake := storetest.NewFake()
		res := New(fake).CalculateCommission(context.Background(), acme, "03/2024")
		assert.Equal(t, outcome.KindComputation, res.Kind)
		assert.Empty(t, fake.Calls())
	})
	t.Run("empty result", func(t *testing.T) {
		fake := storetest.NewFake().Proc(CommissionProc,
			func(map[string]any) ([]store.RawRow, error) { return nil, nil })
		res := New(fake).CalculateCommission(context.Background(), acme, "2024-03")
		assert.Equal(t, outcome.KindTransient, res.Kind)
	})
}
