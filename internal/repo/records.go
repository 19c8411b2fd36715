package repo

import (
	"time"

	"github.com/wesm/fleetview/internal/store"
)

// Booking is a seat reservation.
type Booking struct {
	ID            string    `json:"id"`
	CompanyID     string    `json:"company_id"`
	TripID        string    `json:"trip_id"`
	RouteID       string    `json:"route_id"`
	PassengerName string    `json:"passenger_name"`
	Seats         int       `json:"seats"`
	Amount        float64   `json:"amount"`
	Channel       string    `json:"channel"`
	Status        string    `json:"status"`
	BookedAt      time.Time `json:"booked_at"`
}

// Booking statuses.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

func decodeBooking(r store.RawRow) Booking {
	return Booking{
		ID:            r.String("id"),
		CompanyID:     r.String(store.TenantColumn),
		TripID:        r.String("trip_id"),
		RouteID:       r.String("route_id"),
		PassengerName: r.String("passenger_name"),
		Seats:         r.Int("seats"),
		Amount:        r.Float("amount"),
		Channel:       r.String("channel"),
		Status:        r.String("status"),
		BookedAt:      r.Time("booked_at"),
	}
}

// Payment settles a booking.
type Payment struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	BookingID string    `json:"booking_id"`
	Amount    float64   `json:"amount"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	PaidAt    time.Time `json:"paid_at"`
}

func decodePayment(r store.RawRow) Payment {
	return Payment{
		ID:        r.String("id"),
		CompanyID: r.String(store.TenantColumn),
		BookingID: r.String("booking_id"),
		Amount:    r.Float("amount"),
		Method:    r.String("method"),
		Status:    r.String("status"),
		PaidAt:    r.Time("paid_at"),
	}
}

// Trip is one departure of a vehicle on a route.
type Trip struct {
	ID           string    `json:"id"`
	CompanyID    string    `json:"company_id"`
	RouteID      string    `json:"route_id"`
	VehicleID    string    `json:"vehicle_id"`
	DriverID     string    `json:"driver_id"`
	Depot        string    `json:"depot"`
	Status       string    `json:"status"`
	DepartedAt   time.Time `json:"departed_at"`
	SeatsSold    int       `json:"seats_sold"`
	Capacity     int       `json:"capacity"`
	FarePerSeat  float64   `json:"fare_per_seat"`
	DelayMinutes int       `json:"delay_minutes"`
	DistanceKm   float64   `json:"distance_km"`
}

func decodeTrip(r store.RawRow) Trip {
	return Trip{
		ID:           r.String("id"),
		CompanyID:    r.String(store.TenantColumn),
		RouteID:      r.String("route_id"),
		VehicleID:    r.String("vehicle_id"),
		DriverID:     r.String("driver_id"),
		Depot:        r.String("depot"),
		Status:       r.String("status"),
		DepartedAt:   r.Time("departed_at"),
		SeatsSold:    r.Int("seats_sold"),
		Capacity:     r.Int("capacity"),
		FarePerSeat:  r.Float("fare_per_seat"),
		DelayMinutes: r.Int("delay_minutes"),
		DistanceKm:   r.Float("distance_km"),
	}
}

// Incident is a reported safety or service event.
type Incident struct {
	ID          string     `json:"id"`
	CompanyID   string     `json:"company_id"`
	VehicleID   string     `json:"vehicle_id"`
	DriverID    string     `json:"driver_id"`
	Category    string     `json:"category"`
	Severity    string     `json:"severity"`
	Status      string     `json:"status"`
	Description string     `json:"description"`
	ReportedAt  time.Time  `json:"reported_at"`
	ResolvedAt  *time.Time `json:"resolved_at"`
}

// Resolved reports whether the incident is closed out.
func (i Incident) Resolved() bool {
	return i.Status == "resolved" || i.Status == "closed"
}

func decodeIncident(r store.RawRow) Incident {
	return Incident{
		ID:          r.String("id"),
		CompanyID:   r.String(store.TenantColumn),
		VehicleID:   r.String("vehicle_id"),
		DriverID:    r.String("driver_id"),
		Category:    r.String("category"),
		Severity:    r.String("severity"),
		Status:      r.String("status"),
		Description: r.String("description"),
		ReportedAt:  r.Time("reported_at"),
		ResolvedAt:  r.TimePtr("resolved_at"),
	}
}

// MaintenanceRecord is a work order against a vehicle.
type MaintenanceRecord struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"company_id"`
	VehicleID  string    `json:"vehicle_id"`
	Kind       string    `json:"kind"`
	Cost       float64   `json:"cost"`
	Status     string    `json:"status"`
	ServicedAt time.Time `json:"serviced_at"`
}

func decodeMaintenance(r store.RawRow) MaintenanceRecord {
	return MaintenanceRecord{
		ID:         r.String("id"),
		CompanyID:  r.String(store.TenantColumn),
		VehicleID:  r.String("vehicle_id"),
		Kind:       r.String("kind"),
		Cost:       r.Float("cost"),
		Status:     r.String("status"),
		ServicedAt: r.Time("serviced_at"),
	}
}

// FuelLog is one refuelling.
type FuelLog struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"company_id"`
	VehicleID  string    `json:"vehicle_id"`
	Liters     float64   `json:"liters"`
	Cost       float64   `json:"cost"`
	DistanceKm float64   `json:"distance_km"`
	FilledAt   time.Time `json:"filled_at"`
}

func decodeFuelLog(r store.RawRow) FuelLog {
	return FuelLog{
		ID:         r.String("id"),
		CompanyID:  r.String(store.TenantColumn),
		VehicleID:  r.String("vehicle_id"),
		Liters:     r.Float("liters"),
		Cost:       r.Float("cost"),
		DistanceKm: r.Float("distance_km"),
		FilledAt:   r.Time("filled_at"),
	}
}

// DriverShift is a period a driver was on duty.
type DriverShift struct {
	ID        string     `json:"id"`
	CompanyID string     `json:"company_id"`
	DriverID  string     `json:"driver_id"`
	VehicleID string     `json:"vehicle_id"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	Hours     float64    `json:"hours"`
}

func decodeDriverShift(r store.RawRow) DriverShift {
	return DriverShift{
		ID:        r.String("id"),
		CompanyID: r.String(store.TenantColumn),
		DriverID:  r.String("driver_id"),
		VehicleID: r.String("vehicle_id"),
		Status:    r.String("status"),
		StartedAt: r.Time("started_at"),
		EndedAt:   r.TimePtr("ended_at"),
		Hours:     r.Float("hours"),
	}
}

type Vehicle struct {
	ID           string `json:"id"`
	CompanyID    string `json:"company_id"`
	Registration string `json:"registration"`
	Depot        string `json:"depot"`
	Status       string `json:"status"`
	Capacity     int    `json:"capacity"`
}

func decodeVehicle(r store.RawRow) Vehicle {
	return Vehicle{
		ID:           r.String("id"),
		CompanyID:    r.String(store.TenantColumn),
		Registration: r.String("registration"),
		Depot:        r.String("depot"),
		Status:       r.String("status"),
		Capacity:     r.Int("capacity"),
	}
}

type Driver struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	FullName  string `json:"full_name"`
	LicenseNo string `json:"license_no"`
	Status    string `json:"status"`
}

func decodeDriver(r store.RawRow) Driver {
	return Driver{
		ID:        r.String("id"),
		CompanyID: r.String(store.TenantColumn),
		FullName:  r.String("full_name"),
		LicenseNo: r.String("license_no"),
		Status:    r.String("status"),
	}
}

type Route struct {
	ID          string `json:"id"`
	CompanyID   string `json:"company_id"`
	Name        string `json:"name"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Active      bool   `json:"active"`
}

func decodeRoute(r store.RawRow) Route {
	return Route{
		ID:          r.String("id"),
		CompanyID:   r.String(store.TenantColumn),
		Name:        r.String("name"),
		Origin:      r.String("origin"),
		Destination: r.String("destination"),
		Active:      r.Bool("active"),
	}
}

// Expense is an operating cost outside maintenance and fuel.
type Expense struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	Status      string    `json:"status"`
	IncurredAt  time.Time `json:"incurred_at"`
}

func decodeExpense(r store.RawRow) Expense {
	return Expense{
		ID:          r.String("id"),
		CompanyID:   r.String(store.TenantColumn),
		Category:    r.String("category"),
		Description: r.String("description"),
		Amount:      r.Float("amount"),
		Status:      r.String("status"),
		IncurredAt:  r.Time("incurred_at"),
	}
}

// CommissionSetting is the tenant's platform fee agreement.
type CommissionSetting struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"company_id"`
	FixedFee  float64 `json:"fixed_fee"`
	Rate      float64 `json:"rate"`
}

func decodeCommissionSetting(r store.RawRow) CommissionSetting {
	return CommissionSetting{
		ID:        r.String("id"),
		CompanyID: r.String(store.TenantColumn),
		FixedFee:  r.Float("fixed_fee"),
		Rate:      r.Float("rate"),
	}
}
