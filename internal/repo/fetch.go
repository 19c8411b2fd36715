package repo

import (
	"context"

	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/tenant"
)

var (
	bookingsDef = def{
		table: "bookings", timeCol: "booked_at", category: "channel",
		search:     []string{"passenger_name", "channel", "status"},
		softDelete: true,
	}
	paymentsDef = def{
		table: "payments", timeCol: "paid_at", category: "method",
		search: []string{"method", "status"}, softDelete: true,
	}
	tripsDef = def{
		table: "trips", timeCol: "departed_at", category: "depot",
		search: []string{"depot", "status"}, softDelete: true,
	}
	incidentsDef = def{
		table: "incidents", timeCol: "reported_at", category: "category",
		search:     []string{"description", "category", "severity"},
		softDelete: true,
	}
	maintenanceDef = def{
		table: "maintenance_records", timeCol: "serviced_at",
		category: "kind", search: []string{"kind", "status"},
		softDelete: true,
	}
	fuelDef = def{
		table: "fuel_logs", timeCol: "filled_at", softDelete: true,
	}
	shiftsDef = def{
		table: "driver_shifts", timeCol: "started_at",
		search: []string{"status"}, softDelete: true,
	}
	vehiclesDef = def{
		table: "vehicles", category: "depot",
		search:     []string{"registration", "depot", "status"},
		softDelete: true,
	}
	driversDef = def{
		table: "drivers", search: []string{"full_name", "license_no"},
		softDelete: true,
	}
	routesDef = def{
		table:      "routes",
		search:     []string{"name", "origin", "destination"},
		softDelete: true,
	}
	expensesDef = def{
		table: "expenses", timeCol: "incurred_at", category: "category",
		search:     []string{"description", "category"},
		softDelete: true,
	}
	commissionSettingsDef = def{
		table: "commission_settings", softDelete: true,
	}
)

func (r *Repo) Bookings(
	ctx context.Context, tc tenant.Context, f Filter,
) outcome.Result[[]Booking] {
	return fetch(ctx, r, tc, bookingsDef, f, decodeBooking)
}

func (r *Repo) Payments(
	ctx context.Context, tc tenant.Context, f Filter,
) outcome.Result[[]Payment] {
	return fetch(ctx, r, tc, paymentsDef, f, decodePayment)
}

func (r *Repo) Trips(
	ctx context.Context, tc tenant.Context, f Filter,
) outcome.Result[[]Trip] {
	return fetch(ctx, r, tc, tripsDef, f, decodeTrip)
}

func (r *Repo) Incidents(
	ctx context.Context, tc tenant.Context, f Filter,
) outcome.Result[[]Incident] {
	return fetch(ctx, r, tc, incidentsDef, f, decodeIncident)
}

func (r *Repo) Maintenance(
	ctx context.Context, tc tenant.Context, f Filter,
) outcome.Result[[]MaintenanceRecord] {
	return fetch(ctx, r, tc, maintenanceDef, f, decodeMaintenance)
}

func (r *Repo) FuelLogs(
	ctx context.Context, tc tenant.Context, f Filter,
) outcome.Result[[]FuelLog] {
	return fetch(ctx, r, tc, fuelDef, f, decodeFuelLog)
}

func (r *Repo) DriverShifts(
	ctx context.Context, tc tenant.Context, f Filter,
) outcome.Result[[]DriverShift] {
	return fetch(ctx, r, tc, shiftsDef, f, decodeDriverShift)
}

func (r *Repo) Vehicles(
	ctx context.Context, tc tenant.Context, f Filter,
) outcome.Result[[]Vehicle] {
	return fetch(ctx, r, tc, vehiclesDef, f, decodeVehicle)
}

func (r *Repo) Drivers(
	ctx context.Context, tc tenant.Context, f Filter,
) outcome.Result[[]Driver] {
	return fetch(ctx, r, tc, driversDef, f, decodeDriver)
}

func (r *Repo) Routes(
	ctx context.Context, tc tenant.Context, f Filter,
) outcome.Result[[]Route] {
	return fetch(ctx, r, tc, routesDef, f, decodeRoute)
}

func (r *Repo) Expenses(
	ctx context.Context, tc tenant.Context, f Filter,
) outcome.Result[[]Expense] {
	return fetch(ctx, r, tc, expensesDef, f, decodeExpense)
}

func (r *Repo) CommissionSettings(
	ctx context.Context, tc tenant.Context,
) outcome.Result[[]CommissionSetting] {
	return fetch(ctx, r, tc, commissionSettingsDef, Filter{},
		decodeCommissionSetting)
}
