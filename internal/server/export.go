package server

import (
	"fmt"
	"net/http"

	"github.com/wesm/fleetview/internal/export"
	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/repo"
)

// exportRecords lists resource for the request tenant and flattens
// the result into export records. It writes the error response and
// returns false when the request cannot be served.
func (s *Server) exportRecords(
	w http.ResponseWriter, r *http.Request,
) (string, []export.Record, bool) {
	resource := r.PathValue("resource")
	if !repo.Listable(resource) {
		writeError(w, http.StatusNotFound, "unknown resource "+resource)
		return "", nil, false
	}
	f, ok := parseFilter(w, r, defaultExportLimit, maxExportLimit)
	if !ok {
		return "", nil, false
	}
	tc := s.resolveTenant(r)
	if !tc.Valid() {
		writeError(w, http.StatusBadRequest, "select a company first")
		return "", nil, false
	}
	res := s.repo.List(r.Context(), tc, resource, f)
	if handleContextError(w, r.Context().Err()) {
		return "", nil, false
	}
	if res.Kind == outcome.KindTransient {
		writeError(w, http.StatusBadGateway,
			"store unavailable, try again later")
		return "", nil, false
	}
	records, err := export.RecordsFrom(res.Value)
	if err != nil {
		s.log.Error("flattening export", "resource", resource, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return "", nil, false
	}
	return tc.ID, records, true
}

func (s *Server) handleExport(
	w http.ResponseWriter, r *http.Request,
) {
	_, records, ok := s.exportRecords(w, r)
	if !ok {
		return
	}
	resource := r.PathValue("resource")
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s.csv"`, resource))
	if err := export.Write(w, records); err != nil {
		s.log.Warn("writing export", "resource", resource, "err", err)
	}
}

func (s *Server) handleArchive(
	w http.ResponseWriter, r *http.Request,
) {
	if s.archiver == nil {
		writeError(w, http.StatusServiceUnavailable,
			"object storage is not configured")
		return
	}
	tenantID, records, ok := s.exportRecords(w, r)
	if !ok {
		return
	}
	a, err := s.archiver.Archive(
		r.Context(), tenantID, r.PathValue("resource"), records,
	)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.log.Error("archiving export",
			"resource", r.PathValue("resource"), "err", err)
		writeError(w, http.StatusBadGateway, "archive upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}
