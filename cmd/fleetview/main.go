package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/wesm/fleetview/internal/config"
	"github.com/wesm/fleetview/internal/export"
	"github.com/wesm/fleetview/internal/kpi"
	"github.com/wesm/fleetview/internal/repo"
	"github.com/wesm/fleetview/internal/server"
	"github.com/wesm/fleetview/internal/snapshot"
	"github.com/wesm/fleetview/internal/store"
	"github.com/wesm/fleetview/internal/store/postgres"
	"github.com/wesm/fleetview/internal/store/sqlite"
	"github.com/wesm/fleetview/internal/tenant"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const (
	preferenceDebounce = 300 * time.Millisecond
	shutdownTimeout    = 10 * time.Second
	// sessionTenantEnv plays the role of the ambient session tenant
	// for CLI invocations.
	sessionTenantEnv = "FLEETVIEW_TENANT"
)

func main() {
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "snapshot":
			err = runSnapshot(os.Args[2:], os.Stdout)
		case "export":
			err = runExport(os.Args[2:], os.Stdout)
		case "probe":
			err = runProbe(os.Args[2:], os.Stdout)
		case "migrate":
			err = runMigrate(os.Args[2:], os.Stdout)
		case "prefs":
			err = runPrefs(os.Args[2:], os.Stdout)
		case "version", "--version", "-v":
			fmt.Printf("fleetview %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		default:
			runServe(os.Args[1:])
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`fleetview %s - multi-tenant fleet metrics and reporting

Computes dashboard metrics for one company at a time from the fleet
store, preferring precomputed views and falling back to raw records.

Usage:
  fleetview [flags]            Start the server (default command)
  fleetview serve [flags]      Start the server (explicit)
  fleetview snapshot [flags]   Print a metrics snapshot as JSON
  fleetview export [flags]     Write a resource as delimited text
  fleetview probe [flags]      Report which optional views exist
  fleetview migrate [flags]    Apply the bundled schema (postgres)
  fleetview prefs set <id>     Store the preferred company
  fleetview prefs show         Print the preferred company
  fleetview version            Show version information
  fleetview help               Show this help

Store flags (all commands):
  -data-dir string      Data directory (config, preferences)
  -backend string       postgres or sqlite (default "sqlite")
  -database-url string  Postgres connection URL
  -sqlite-path string   SQLite database file
  -log-level string     debug, info, warn or error (default "info")

Server flags:
  -host string          Host to bind to (default "127.0.0.1")
  -port int             Port to listen on (default 8080)
  -workers int          Concurrent metric providers (default 8)
  -trend-months int     Months covered by trends (default 12)
  -metric-timeout dur   Deadline per metric (default 10s)

Report flags:
  -tenant string        Company id (overrides session and preference)
  -domains string       Snapshot: comma-separated domains
  -metric string        Snapshot: a single domain/name metric
  -where string         Export: filter, e.g. "status=confirmed q='a b'"
  -archive              Export: upload to object storage instead

Environment variables:
  FLEETVIEW_DATA_DIR      Data directory
  FLEETVIEW_TENANT        Session company id
  FLEETVIEW_BACKEND       Store backend
  FLEETVIEW_DATABASE_URL  Postgres connection URL
  FLEETVIEW_S3_*          Object storage for archived exports

Data is stored in ~/.fleetview/ by default.
`, version)
}

func runServe(args []string) {
	cfg := mustLoadConfig("serve", args, config.RegisterServeFlags)
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	prefs, err := tenant.OpenPreferences(cfg.DataDir, logger)
	if err != nil {
		log.Fatalf("loading preferences: %v", err)
	}
	if err := prefs.Watch(preferenceDebounce, func(id string) {
		logger.Info("tenant preference changed", "tenant", id)
	}); err != nil {
		logger.Warn("preference watcher unavailable", "err", err)
	}
	defer prefs.Close()

	opts := []server.Option{
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
		server.WithLogger(logger),
		server.WithPreferences(prefs),
	}
	if cfg.ObjectStore.Enabled() {
		a, err := newArchiver(cfg, logger)
		if err != nil {
			log.Fatalf("configuring object storage: %v", err)
		}
		opts = append(opts, server.WithArchiver(a))
	}

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		fmt.Printf("Port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	srv := server.New(cfg, newBuilder(cfg, st, logger), opts...)
	fmt.Printf("fleetview %s listening at http://%s\n", version, cfg.Addr())

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}
}

// mustLoadConfig parses args with the given flag registrations and
// loads the layered config, exiting on error.
func mustLoadConfig(
	name string, args []string, register ...func(*flag.FlagSet),
) config.Config {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	for _, r := range register {
		r(fs)
	}
	cfg, err := loadConfig(fs, args)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

func loadConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	if err := fs.Parse(args); err != nil {
		return config.Config{}, fmt.Errorf("parsing flags: %w", err)
	}
	cfg, err := config.Load(fs)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return cfg, fmt.Errorf("creating data dir: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
}

// openStore connects the configured backend.
func openStore(
	ctx context.Context, cfg config.Config, logger *slog.Logger,
) (store.Store, error) {
	if cfg.Backend == config.BackendPostgres {
		pg, err := postgres.Open(ctx, postgres.Config{
			URL:          cfg.DatabaseURL,
			MaxRetries:   5,
			InitialDelay: 500 * time.Millisecond,
		}, logger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	db, err := sqlite.Open(cfg.SQLitePath, sqlite.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return db, nil
}

func newBuilder(
	cfg config.Config, st store.Store, logger *slog.Logger,
) *snapshot.Builder {
	svc := kpi.NewService(
		repo.New(st, repo.WithLogger(logger)), nil,
		kpi.WithLogger(logger),
		kpi.WithTrendMonths(cfg.TrendMonths),
	)
	return snapshot.NewBuilder(svc,
		snapshot.WithLogger(logger),
		snapshot.WithWorkers(cfg.SnapshotWorkers),
		snapshot.WithTimeout(cfg.MetricTimeout),
	)
}

func newArchiver(
	cfg config.Config, logger *slog.Logger,
) (*export.Archiver, error) {
	o := cfg.ObjectStore
	return export.NewArchiver(export.ArchiveConfig{
		Endpoint:  o.Endpoint,
		Bucket:    o.Bucket,
		AccessKey: o.AccessKey,
		SecretKey: o.SecretKey,
		UseSSL:    o.UseSSL,
		URLExpiry: o.URLExpiry,
	}, logger)
}
