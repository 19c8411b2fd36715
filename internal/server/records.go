package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/repo"
	"github.com/wesm/fleetview/internal/tenant"
)

func (s *Server) handleResources(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"resources": repo.Resources(),
	})
}

type listResponse struct {
	Tenant   tenant.Context `json:"tenant"`
	Resource string         `json:"resource"`
	Records  any            `json:"records"`
	Source   outcome.Source `json:"source"`
	Kind     outcome.Kind   `json:"failure,omitempty"`
}

// handleListRecords never fails on store errors: like every read,
// it degrades to an empty list and reports the failure kind.
func (s *Server) handleListRecords(
	w http.ResponseWriter, r *http.Request,
) {
	resource := r.PathValue("resource")
	if !repo.Listable(resource) {
		writeError(w, http.StatusNotFound, "unknown resource "+resource)
		return
	}
	f, ok := parseFilter(w, r, defaultListLimit, maxListLimit)
	if !ok {
		return
	}
	tc := s.resolveTenant(r)
	res := s.repo.List(r.Context(), tc, resource, f)
	if handleContextError(w, r.Context().Err()) {
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Tenant:   tc,
		Resource: resource,
		Records:  res.Value,
		Source:   res.Source,
		Kind:     res.Kind,
	})
}

func (s *Server) handleCreateRecord(
	w http.ResponseWriter, r *http.Request,
) {
	var values map[string]any
	if !decodeBody(w, r, &values, false) {
		return
	}
	row, err := s.repo.Create(
		r.Context(), s.resolveTenant(r), r.PathValue("resource"), values,
	)
	if err != nil {
		s.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, json.RawMessage(row))
}

func (s *Server) handleUpdateRecord(
	w http.ResponseWriter, r *http.Request,
) {
	var values map[string]any
	if !decodeBody(w, r, &values, false) {
		return
	}
	if len(values) == 0 {
		writeError(w, http.StatusBadRequest, "no fields to change")
		return
	}
	row, err := s.repo.Update(
		r.Context(), s.resolveTenant(r),
		r.PathValue("resource"), r.PathValue("id"), values,
	)
	if err != nil {
		s.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(row))
}

func (s *Server) handleDeleteRecord(
	w http.ResponseWriter, r *http.Request,
) {
	err := s.repo.Delete(
		r.Context(), s.resolveTenant(r),
		r.PathValue("resource"), r.PathValue("id"),
	)
	if err != nil {
		s.writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bookingRequest struct {
	TripID        string    `json:"trip_id"`
	RouteID       string    `json:"route_id"`
	PassengerName string    `json:"passenger_name"`
	Seats         int       `json:"seats"`
	Amount        float64   `json:"amount"`
	Channel       string    `json:"channel"`
	BookedAt      time.Time `json:"booked_at"`
}

func (s *Server) handleCreateBooking(
	w http.ResponseWriter, r *http.Request,
) {
	var req bookingRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	b, err := s.repo.CreateBooking(r.Context(), s.resolveTenant(r),
		repo.NewBooking{
			TripID:        req.TripID,
			RouteID:       req.RouteID,
			PassengerName: req.PassengerName,
			Seats:         req.Seats,
			Amount:        req.Amount,
			Channel:       req.Channel,
			BookedAt:      req.BookedAt,
		})
	if err != nil {
		s.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleSetBookingStatus(
	w http.ResponseWriter, r *http.Request,
) {
	var req statusRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	b, err := s.repo.SetBookingStatus(
		r.Context(), s.resolveTenant(r), r.PathValue("id"), req.Status,
	)
	if err != nil {
		s.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type incidentRequest struct {
	VehicleID   string    `json:"vehicle_id"`
	DriverID    string    `json:"driver_id"`
	Category    string    `json:"category"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	ReportedAt  time.Time `json:"reported_at"`
}

func (s *Server) handleCreateIncident(
	w http.ResponseWriter, r *http.Request,
) {
	var req incidentRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	inc, err := s.repo.CreateIncident(r.Context(), s.resolveTenant(r),
		repo.NewIncident{
			VehicleID:   req.VehicleID,
			DriverID:    req.DriverID,
			Category:    req.Category,
			Severity:    req.Severity,
			Description: req.Description,
			ReportedAt:  req.ReportedAt,
		})
	if err != nil {
		s.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

type resolveRequest struct {
	ResolvedAt time.Time `json:"resolved_at"`
}

// handleResolveIncident accepts an empty body, resolving at the
// current time.
func (s *Server) handleResolveIncident(
	w http.ResponseWriter, r *http.Request,
) {
	var req resolveRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req, true) {
		return
	}
	inc, err := s.repo.ResolveIncident(
		r.Context(), s.resolveTenant(r), r.PathValue("id"), req.ResolvedAt,
	)
	if err != nil {
		s.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}
