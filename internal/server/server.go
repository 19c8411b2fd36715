// Package server exposes metric snapshots, record listings, mutations
// and exports over a JSON HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesm/fleetview/internal/config"
	"github.com/wesm/fleetview/internal/export"
	"github.com/wesm/fleetview/internal/repo"
	"github.com/wesm/fleetview/internal/snapshot"
	"github.com/wesm/fleetview/internal/tenant"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// PreferenceSetter persists the local tenant preference.
type PreferenceSetter interface {
	tenant.PreferenceStore
	Set(id string) error
}

// Server is the HTTP server for the reporting API.
type Server struct {
	mu       gosync.RWMutex
	cfg      config.Config
	builder  *snapshot.Builder
	repo     *repo.Repo
	resolver *tenant.Resolver
	prefs    PreferenceSetter
	archiver *export.Archiver
	log      *slog.Logger
	mux      *http.ServeMux
	httpSrv  *http.Server
	version  VersionInfo

	// handlerDelay is injected before each timeout-wrapped
	// handler, used only by tests to guarantee handlers
	// exceed a short timeout. Zero in production.
	handlerDelay time.Duration
}

// New creates a new Server reading through builder's repository.
func New(
	cfg config.Config, builder *snapshot.Builder, opts ...Option,
) *Server {
	s := &Server{
		cfg:     cfg,
		builder: builder,
		repo:    builder.Repo(),
		log:     slog.Default(),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		var prefs tenant.PreferenceStore
		if s.prefs != nil {
			prefs = s.prefs
		}
		s.resolver = tenant.NewResolver(prefs)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithPreferences enables the preference endpoints and makes the
// stored preference the last step of tenant resolution.
func WithPreferences(p PreferenceSetter) Option {
	return func(s *Server) { s.prefs = p }
}

// WithResolver replaces the tenant resolver.
func WithResolver(r *tenant.Resolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithArchiver enables archiving exports to object storage.
func WithArchiver(a *export.Archiver) Option {
	return func(s *Server) { s.archiver = a }
}

func (s *Server) routes() {
	s.mux.Handle("GET /api/v1/snapshot", s.withTimeout(s.handleSnapshot))
	s.mux.Handle("GET /api/v1/metrics", s.withTimeout(s.handleCatalog))
	s.mux.Handle(
		"GET /api/v1/metrics/{domain}/{name}", s.withTimeout(s.handleMetric),
	)
	s.mux.Handle("GET /api/v1/capabilities", s.withTimeout(s.handleCapabilities))

	s.mux.Handle("GET /api/v1/tenant", s.withTimeout(s.handleGetTenant))
	s.mux.Handle(
		"PUT /api/v1/tenant/preference", s.withTimeout(s.handleSetPreference),
	)

	s.mux.Handle("GET /api/v1/records", s.withTimeout(s.handleResources))
	s.mux.Handle(
		"GET /api/v1/records/{resource}", s.withTimeout(s.handleListRecords),
	)
	s.mux.Handle(
		"POST /api/v1/records/{resource}", s.withTimeout(s.handleCreateRecord),
	)
	s.mux.Handle(
		"PATCH /api/v1/records/{resource}/{id}",
		s.withTimeout(s.handleUpdateRecord),
	)
	s.mux.Handle(
		"DELETE /api/v1/records/{resource}/{id}",
		s.withTimeout(s.handleDeleteRecord),
	)

	s.mux.Handle("POST /api/v1/bookings", s.withTimeout(s.handleCreateBooking))
	s.mux.Handle(
		"PUT /api/v1/bookings/{id}/status",
		s.withTimeout(s.handleSetBookingStatus),
	)
	s.mux.Handle("POST /api/v1/incidents", s.withTimeout(s.handleCreateIncident))
	s.mux.Handle(
		"POST /api/v1/incidents/{id}/resolve",
		s.withTimeout(s.handleResolveIncident),
	)

	// Export: Do not use timeout handler to support large downloads and avoid buffering.
	s.mux.Handle(
		"GET /api/v1/export/{resource}", http.HandlerFunc(s.handleExport),
	)
	s.mux.Handle(
		"POST /api/v1/export/{resource}/archive",
		s.withTimeout(s.handleArchive),
	)

	s.mux.Handle("GET /api/v1/version", s.withTimeout(s.handleGetVersion))
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.logMiddleware(sessionMiddleware(s.mux)))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.mu.RLock()
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.mu.RUnlock()
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	s.log.Info("starting server", "url", "http://"+addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set(
				"Access-Control-Allow-Origin", "*",
			)
			w.Header().Set(
				"Access-Control-Allow-Methods",
				"GET, POST, PUT, PATCH, DELETE, OPTIONS",
			)
			w.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type, "+TenantHeader,
			)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			s.log.Debug("request", "method", r.Method, "path", r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}
