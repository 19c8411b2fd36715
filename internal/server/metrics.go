package server

import (
	"net/http"
	"slices"
	"strings"

	"github.com/wesm/fleetview/internal/capability"
	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/tenant"
)

// resolveTenant applies ?tenant= over the session header over the
// stored preference.
func (s *Server) resolveTenant(r *http.Request) tenant.Context {
	return s.resolver.Resolve(r.Context(), r.URL.Query().Get("tenant"))
}

func (s *Server) handleSnapshot(
	w http.ResponseWriter, r *http.Request,
) {
	tc := s.resolveTenant(r)
	domains := splitList(r.URL.Query().Get("domains"))
	known := s.builder.Domains()
	for _, d := range domains {
		if !slices.Contains(known, d) {
			writeError(w, http.StatusBadRequest,
				"unknown domain "+d+": use one of "+strings.Join(known, ", "))
			return
		}
	}
	snap := s.builder.Build(r.Context(), tc, domains...)
	if handleContextError(w, r.Context().Err()) {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type catalogEntry struct {
	Domain   string `json:"domain"`
	Name     string `json:"name"`
	Relation string `json:"relation,omitempty"`
}

func (s *Server) handleCatalog(
	w http.ResponseWriter, _ *http.Request,
) {
	providers := s.builder.Providers()
	out := make([]catalogEntry, len(providers))
	for i, p := range providers {
		out[i] = catalogEntry{
			Domain: p.Domain, Name: p.Name, Relation: p.Relation,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type metricResponse struct {
	Tenant tenant.Context `json:"tenant"`
	Domain string         `json:"domain"`
	Name   string         `json:"name"`
	Value  any            `json:"value"`
	Source outcome.Source `json:"source"`
	Kind   outcome.Kind   `json:"failure,omitempty"`
}

func (s *Server) handleMetric(
	w http.ResponseWriter, r *http.Request,
) {
	domain, name := r.PathValue("domain"), r.PathValue("name")
	tc := s.resolveTenant(r)
	res, ok := s.builder.Metric(r.Context(), tc, domain, name)
	if !ok {
		writeError(w, http.StatusNotFound,
			"unknown metric "+domain+"/"+name)
		return
	}
	if handleContextError(w, r.Context().Err()) {
		return
	}
	writeJSON(w, http.StatusOK, metricResponse{
		Tenant: tc,
		Domain: domain,
		Name:   name,
		Value:  res.Value,
		Source: res.Source,
		Kind:   res.Kind,
	})
}

type capabilitiesResponse struct {
	Tenant       tenant.Context `json:"tenant"`
	Capabilities capability.Map `json:"capabilities"`
}

func (s *Server) handleCapabilities(
	w http.ResponseWriter, r *http.Request,
) {
	tc := s.resolveTenant(r)
	caps := s.builder.Capabilities(r.Context(), tc)
	if handleContextError(w, r.Context().Err()) {
		return
	}
	writeJSON(w, http.StatusOK, capabilitiesResponse{
		Tenant: tc, Capabilities: caps,
	})
}

func (s *Server) handleGetTenant(
	w http.ResponseWriter, r *http.Request,
) {
	writeJSON(w, http.StatusOK, s.resolveTenant(r))
}

type preferenceRequest struct {
	TenantID string `json:"tenant_id"`
}

func (s *Server) handleSetPreference(
	w http.ResponseWriter, r *http.Request,
) {
	if s.prefs == nil {
		writeError(w, http.StatusServiceUnavailable,
			"tenant preferences are not enabled")
		return
	}
	var req preferenceRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	if err := s.prefs.Set(req.TenantID); err != nil {
		s.log.Error("saving tenant preference", "err", err)
		writeError(w, http.StatusInternalServerError,
			"failed to save preference")
		return
	}
	writeJSON(w, http.StatusOK, preferenceRequest{
		TenantID: s.prefs.Preferred(),
	})
}
