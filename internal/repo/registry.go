package repo

import (
	"context"
	"slices"

	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/tenant"
)

var defs = map[string]def{}

func init() {
	for _, d := range []def{
		bookingsDef, paymentsDef, tripsDef, incidentsDef,
		maintenanceDef, fuelDef, shiftsDef, vehiclesDef,
		driversDef, routesDef, expensesDef, commissionSettingsDef,
	} {
		defs[d.table] = d
	}
}

type lister func(
	context.Context, *Repo, tenant.Context, Filter,
) outcome.Result[any]

func listOf[T any](
	fn func(*Repo, context.Context, tenant.Context, Filter) outcome.Result[[]T],
) lister {
	return func(
		ctx context.Context, r *Repo, tc tenant.Context, f Filter,
	) outcome.Result[any] {
		res := fn(r, ctx, tc, f)
		return outcome.Result[any]{
			Value:  res.Value,
			Source: res.Source,
			Kind:   res.Kind,
			Err:    res.Err,
		}
	}
}

var listers = map[string]lister{
	"bookings":            listOf((*Repo).Bookings),
	"payments":            listOf((*Repo).Payments),
	"trips":               listOf((*Repo).Trips),
	"incidents":           listOf((*Repo).Incidents),
	"maintenance_records": listOf((*Repo).Maintenance),
	"fuel_logs":           listOf((*Repo).FuelLogs),
	"driver_shifts":       listOf((*Repo).DriverShifts),
	"vehicles":            listOf((*Repo).Vehicles),
	"drivers":             listOf((*Repo).Drivers),
	"routes":              listOf((*Repo).Routes),
	"expenses":            listOf((*Repo).Expenses),
}

// Listable reports whether resource can be listed and exported.
func Listable(resource string) bool {
	_, ok := listers[resource]
	return ok
}

// Resources returns the listable resource names, sorted.
func Resources() []string {
	names := make([]string, 0, len(listers))
	for name := range listers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// List returns the typed records of resource (e.g. []Booking) boxed
// as any, for listing and export endpoints that select the resource
// by name.
func (r *Repo) List(
	ctx context.Context, tc tenant.Context, resource string, f Filter,
) outcome.Result[any] {
	l, ok := listers[resource]
	if !ok {
		return outcome.Fail[any]([]any{}, ErrUnknownResource)
	}
	return l(ctx, r, tc, f)
}
