package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/store/sqlite"
	"github.com/wesm/fleetview/internal/store/storetest"
	"github.com/wesm/fleetview/internal/tenant"
)

var (
	acme   = tenant.Explicit("acme")
	globex = tenant.Explicit("globex")
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func testRepo(t *testing.T) (*Repo, *sqlite.DB) {
	t.Helper()
	db := storetest.SQLite(t)
	return New(db), db
}

func seedBooking(
	t *testing.T, db *sqlite.DB, tc tenant.Context,
	at string, amount float64, opts ...func(map[string]any),
) string {
	t.Helper()
	vals := map[string]any{
		"passenger_name": "Ada",
		"seats":          1,
		"amount":         amount,
		"status":         BookingConfirmed,
		"channel":        "web",
		"booked_at":      at,
	}
	for _, opt := range opts {
		opt(vals)
	}
	return storetest.Seed(t, db, "bookings", tc.ID, vals)
}

func with(k string, v any) func(map[string]any) {
	return func(m map[string]any) { m[k] = v }
}

func TestBookingsTenantScopedAndSoftDeleteExcluded(t *testing.T) {
	r, db := testRepo(t)
	keep := seedBooking(t, db, acme, "2024-01-05T10:00:00Z", 10)
	seedBooking(t, db, acme, "2024-01-06T10:00:00Z", 20,
		with("deleted_at", "2024-01-07T00:00:00Z"))
	seedBooking(t, db, globex, "2024-01-05T10:00:00Z", 99)

	res := r.Bookings(context.Background(), acme, Filter{})
	require.True(t, res.OK(), res.Err)
	require.Len(t, res.Value, 1)
	assert.Equal(t, keep, res.Value[0].ID)
	assert.Equal(t, "acme", res.Value[0].CompanyID)
	assert.Equal(t, 10.0, res.Value[0].Amount)
	assert.Equal(t, ts("2024-01-05T10:00:00Z"), res.Value[0].BookedAt)
	assert.Equal(t, outcome.SourceRaw, res.Source)
}

func TestReadWithoutTenantTouchesNothing(t *testing.T) {
	fake := storetest.NewFake()
	r := New(fake)

	res := r.Trips(context.Background(), tenant.Context{}, Filter{})
	assert.Equal(t, []Trip{}, res.Value)
	assert.Equal(t, outcome.KindScopeMissing, res.Kind)
	assert.Equal(t, outcome.SourceDefault, res.Source)

	com := r.CalculateCommission(context.Background(), tenant.Context{}, "2024-03")
	assert.Equal(t, outcome.KindScopeMissing, com.Kind)
	assert.Empty(t, fake.Calls())
}

func TestCrossTenantRowsDropped(t *testing.T) {
	fake := storetest.NewFake()
	fake.Unscoped = true
	fake.Add("payments",
		storetest.Row(map[string]any{"id": "p1", "company_id": "acme", "amount": 5}),
		storetest.Row(map[string]any{"id": "p2", "company_id": "globex", "amount": 7}),
		storetest.Row(map[string]any{"id": "p3", "amount": 9}),
	)
	res := New(fake).Payments(context.Background(), acme, Filter{})
	require.Len(t, res.Value, 1)
	assert.Equal(t, "p1", res.Value[0].ID)
}

func TestReadFailureReturnsEmpty(t *testing.T) {
	fake := storetest.NewFake().Missing("fuel_logs")
	res := New(fake).FuelLogs(context.Background(), acme, Filter{})
	assert.Equal(t, []FuelLog{}, res.Value)
	assert.Equal(t, outcome.KindRelationMissing, res.Kind)
	assert.Error(t, res.Err)
}

func TestNullNumericsCoerceToZero(t *testing.T) {
	r, db := testRepo(t)
	storetest.Seed(t, db, "fuel_logs", acme.ID, map[string]any{
		"filled_at": "2024-02-01T08:00:00Z",
	})
	res := r.FuelLogs(context.Background(), acme, Filter{})
	require.Len(t, res.Value, 1)
	assert.Zero(t, res.Value[0].Liters)
	assert.Zero(t, res.Value[0].Cost)
}

func TestWindowBounds(t *testing.T) {
	r, db := testRepo(t)
	seedBooking(t, db, acme, "2024-01-31T23:59:59Z", 1)
	seedBooking(t, db, acme, "2024-02-01T00:00:00Z", 2)
	seedBooking(t, db, acme, "2024-02-15T12:00:00Z", 3)
	seedBooking(t, db, acme, "2024-03-01T00:00:00Z", 4)

	sum := func(w Window) float64 {
		res := r.Bookings(context.Background(), acme, Filter{Window: w})
		require.True(t, res.OK(), res.Err)
		var s float64
		for _, b := range res.Value {
			s += b.Amount
		}
		return s
	}

	feb := Window{From: ts("2024-02-01T00:00:00Z"), To: ts("2024-03-01T00:00:00Z")}
	assert.Equal(t, 5.0, sum(feb), "half-open excludes upper bound")

	feb.InclusiveTo = true
	assert.Equal(t, 9.0, sum(feb), "inclusive keeps upper bound")

	days := DayRange(ts("2024-01-31T15:00:00Z"), ts("2024-02-01T09:00:00Z"))
	assert.Equal(t, 3.0, sum(days))
	assert.Equal(t, ts("2024-01-31T00:00:00Z"), days.From)
	assert.Equal(t, ts("2024-02-02T00:00:00Z"), days.To)
	assert.False(t, days.InclusiveTo)
	assert.True(t, days.Contains(ts("2024-02-01T23:59:59.5Z")))
	assert.False(t, days.Contains(ts("2024-02-02T00:00:00Z")))

	assert.Equal(t, 10.0, sum(Window{}))
}

func TestTrailingMonths(t *testing.T) {
	w := TrailingMonths(ts("2024-03-18T10:00:00Z"), 12)
	assert.Equal(t, ts("2023-04-01T00:00:00Z"), w.From)
	assert.Equal(t, ts("2024-04-01T00:00:00Z"), w.To)
	assert.False(t, w.InclusiveTo)
	assert.True(t, w.Contains(ts("2024-03-31T23:00:00Z")))
	assert.False(t, w.Contains(ts("2024-04-01T00:00:00Z")))

	d := TrailingDays(ts("2024-03-18T10:00:00Z"), 14)
	assert.Equal(t, ts("2024-03-05T00:00:00Z"), d.From)
	assert.Equal(t, ts("2024-03-19T00:00:00Z"), d.To)
}

func TestFilterSearchStatusCategoryRef(t *testing.T) {
	r, db := testRepo(t)
	seedBooking(t, db, acme, "2024-01-01T00:00:00Z", 1,
		with("passenger_name", "Grace Hopper"), with("trip_id", "t1"))
	seedBooking(t, db, acme, "2024-01-02T00:00:00Z", 2,
		with("passenger_name", "Alan Turing"), with("channel", "counter"),
		with("status", BookingCancelled))
	seedBooking(t, db, acme, "2024-01-03T00:00:00Z", 3,
		with("passenger_name", "Barbara_Liskov"), with("trip_id", "t1"))

	tests := []struct {
		name string
		f    Filter
		want []float64
	}{
		{"search case-insensitive", Filter{Search: "hopper"}, []float64{1}},
		{"search escapes wildcard", Filter{Search: "a_l"}, []float64{3}},
		{"status in", Filter{Status: []string{BookingCancelled}}, []float64{2}},
		{"category", Filter{Category: "counter"}, []float64{2}},
		{"ref", Filter{Ref: Ref{Column: "trip_id", ID: "t1"}}, []float64{3, 1}},
		{"limit newest first", Filter{Limit: 2}, []float64{3, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Bookings(context.Background(), acme, tt.f)
			require.True(t, res.OK(), res.Err)
			var got []float64
			for _, b := range res.Value {
				got = append(got, b.Amount)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListRegistry(t *testing.T) {
	r, db := testRepo(t)
	seedBooking(t, db, acme, "2024-01-01T00:00:00Z", 1)

	assert.True(t, Listable("bookings"))
	assert.False(t, Listable("monthly_revenue_v"))
	assert.Contains(t, Resources(), "maintenance_records")

	res := r.List(context.Background(), acme, "bookings", Filter{})
	require.True(t, res.OK(), res.Err)
	bookings, ok := res.Value.([]Booking)
	require.True(t, ok)
	assert.Len(t, bookings, 1)

	bad := r.List(context.Background(), acme, "secrets", Filter{})
	assert.ErrorIs(t, bad.Err, ErrUnknownResource)
}
