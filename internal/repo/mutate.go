package repo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wesm/fleetview/internal/store"
	"github.com/wesm/fleetview/internal/tenant"
)

var (
	// ErrInvalid marks rejected mutation input.
	ErrInvalid = errors.New("invalid input")
	// ErrUnknownResource is returned for resources outside the
	// registry.
	ErrUnknownResource = errors.New("unknown resource")
)

// Create inserts a row into resource. The tenant column is always set
// from tc and an id is generated when values carry none. Unlike reads,
// mutations return their errors.
func (r *Repo) Create(
	ctx context.Context, tc tenant.Context, resource string,
	values map[string]any,
) (store.RawRow, error) {
	d, err := writable(tc, resource)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", resource, err)
	}
	vals := make(map[string]any, len(values)+1)
	for k, v := range values {
		if k == store.TenantColumn || k == "deleted_at" {
			continue
		}
		vals[k] = v
	}
	if id, _ := vals["id"].(string); id == "" {
		vals["id"] = uuid.NewString()
	}
	row, err := r.st.Insert(ctx, d.table, tc.ID, vals)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", resource, err)
	}
	r.log.Info("record created", "tenant", tc.ID,
		"resource", resource, "id", row.String("id"))
	return row, nil
}

// Update changes the given fields of one live row. The tenant column
// and deleted_at cannot be set this way.
func (r *Repo) Update(
	ctx context.Context, tc tenant.Context, resource, id string,
	values map[string]any,
) (store.RawRow, error) {
	d, err := writable(tc, resource)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", resource, err)
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("update %s: %w: id is required",
			resource, ErrInvalid)
	}
	vals := make(map[string]any, len(values))
	for k, v := range values {
		if k == store.TenantColumn || k == "id" || k == "deleted_at" {
			continue
		}
		vals[k] = v
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("update %s: %w: no fields to change",
			resource, ErrInvalid)
	}
	row, err := r.updateLive(ctx, d, tc, id, vals)
	if err != nil {
		return nil, fmt.Errorf("update %s %s: %w", resource, id, err)
	}
	return row, nil
}

// Delete soft-deletes one row by stamping deleted_at, so reads stop
// returning it. Deleting a row twice reports store.ErrNotFound.
func (r *Repo) Delete(
	ctx context.Context, tc tenant.Context, resource, id string,
) error {
	d, err := writable(tc, resource)
	if err != nil {
		return fmt.Errorf("delete %s: %w", resource, err)
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("delete %s: %w: id is required",
			resource, ErrInvalid)
	}
	_, err = r.updateLive(ctx, d, tc, id, map[string]any{
		"deleted_at": r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", resource, id, err)
	}
	r.log.Info("record deleted", "tenant", tc.ID,
		"resource", resource, "id", id)
	return nil
}

// updateLive writes vals to row id only when it has not been
// soft-deleted.
func (r *Repo) updateLive(
	ctx context.Context, d def, tc tenant.Context, id string,
	vals map[string]any,
) (store.RawRow, error) {
	if d.softDelete {
		q := store.Query{Resource: d.table, TenantID: tc.ID}.
			Where("id", store.OpEq, id).
			Where("deleted_at", store.OpIsNull, nil)
		n, err := r.st.Count(ctx, q)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, store.ErrNotFound
		}
	}
	return r.st.Update(ctx, d.table, tc.ID, id, vals)
}

func writable(tc tenant.Context, resource string) (def, error) {
	if !tc.Valid() {
		return def{}, fmt.Errorf(
			"%w: select a company first", store.ErrScopeMissing)
	}
	d, ok := defs[resource]
	if !ok {
		return def{}, fmt.Errorf("%w %q", ErrUnknownResource, resource)
	}
	return d, nil
}

// NewBooking is the input to CreateBooking.
type NewBooking struct {
	TripID        string
	RouteID       string
	PassengerName string
	Seats         int
	Amount        float64
	Channel       string
	BookedAt      time.Time
}

// CreateBooking validates and inserts a pending booking.
func (r *Repo) CreateBooking(
	ctx context.Context, tc tenant.Context, in NewBooking,
) (Booking, error) {
	switch {
	case strings.TrimSpace(in.PassengerName) == "":
		return Booking{}, fmt.Errorf(
			"%w: passenger name is required", ErrInvalid)
	case in.Seats <= 0:
		return Booking{}, fmt.Errorf(
			"%w: seats must be positive", ErrInvalid)
	case in.Amount < 0:
		return Booking{}, fmt.Errorf(
			"%w: amount must not be negative", ErrInvalid)
	}
	if in.Channel == "" {
		in.Channel = "counter"
	}
	if in.BookedAt.IsZero() {
		in.BookedAt = r.now()
	}
	vals := map[string]any{
		"passenger_name": strings.TrimSpace(in.PassengerName),
		"seats":          in.Seats,
		"amount":         in.Amount,
		"channel":        in.Channel,
		"status":         BookingPending,
		"booked_at":      in.BookedAt.UTC(),
	}
	if in.TripID != "" {
		vals["trip_id"] = in.TripID
	}
	if in.RouteID != "" {
		vals["route_id"] = in.RouteID
	}
	row, err := r.Create(ctx, tc, "bookings", vals)
	if err != nil {
		return Booking{}, err
	}
	return decodeBooking(row), nil
}

var bookingStatuses = []string{
	BookingPending, BookingConfirmed, BookingCancelled,
}

// SetBookingStatus moves a booking to pending, confirmed or cancelled.
func (r *Repo) SetBookingStatus(
	ctx context.Context, tc tenant.Context, id, status string,
) (Booking, error) {
	if !slices.Contains(bookingStatuses, status) {
		return Booking{}, fmt.Errorf(
			"%w: status must be one of %s", ErrInvalid,
			strings.Join(bookingStatuses, ", "))
	}
	row, err := r.Update(ctx, tc, "bookings", id,
		map[string]any{"status": status})
	if err != nil {
		return Booking{}, err
	}
	return decodeBooking(row), nil
}

// NewIncident is the input to CreateIncident.
type NewIncident struct {
	VehicleID   string
	DriverID    string
	Category    string
	Severity    string
	Description string
	ReportedAt  time.Time
}

var severities = []string{"low", "medium", "high", "critical"}

// CreateIncident validates and inserts an open incident.
func (r *Repo) CreateIncident(
	ctx context.Context, tc tenant.Context, in NewIncident,
) (Incident, error) {
	if in.Severity == "" {
		in.Severity = "low"
	}
	if !slices.Contains(severities, in.Severity) {
		return Incident{}, fmt.Errorf(
			"%w: severity must be one of %s", ErrInvalid,
			strings.Join(severities, ", "))
	}
	if strings.TrimSpace(in.Description) == "" {
		return Incident{}, fmt.Errorf(
			"%w: description is required", ErrInvalid)
	}
	if in.Category == "" {
		in.Category = "other"
	}
	if in.ReportedAt.IsZero() {
		in.ReportedAt = r.now()
	}
	vals := map[string]any{
		"category":    in.Category,
		"severity":    in.Severity,
		"status":      "open",
		"description": strings.TrimSpace(in.Description),
		"reported_at": in.ReportedAt.UTC(),
	}
	if in.VehicleID != "" {
		vals["vehicle_id"] = in.VehicleID
	}
	if in.DriverID != "" {
		vals["driver_id"] = in.DriverID
	}
	row, err := r.Create(ctx, tc, "incidents", vals)
	if err != nil {
		return Incident{}, err
	}
	return decodeIncident(row), nil
}

// ResolveIncident marks an incident resolved at the given time, or
// now when at is zero.
func (r *Repo) ResolveIncident(
	ctx context.Context, tc tenant.Context, id string, at time.Time,
) (Incident, error) {
	if at.IsZero() {
		at = r.now()
	}
	row, err := r.Update(ctx, tc, "incidents", id, map[string]any{
		"status":      "resolved",
		"resolved_at": at.UTC(),
	})
	if err != nil {
		return Incident{}, err
	}
	return decodeIncident(row), nil
}
