package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/wesm/fleetview/internal/config"
	"github.com/wesm/fleetview/internal/export"
	"github.com/wesm/fleetview/internal/outcome"
	"github.com/wesm/fleetview/internal/repo"
	"github.com/wesm/fleetview/internal/store"
	"github.com/wesm/fleetview/internal/store/postgres"
	"github.com/wesm/fleetview/internal/tenant"
)

var errNoTenant = errors.New(
	"no company selected: pass -tenant, set " + sessionTenantEnv +
		" or run 'fleetview prefs set <id>'",
)

// reportEnv is the state shared by the read-only subcommands.
type reportEnv struct {
	cfg    config.Config
	log    *slog.Logger
	st     store.Store
	tenant tenant.Context
}

// openReport parses the common store flags plus any extra flags
// registered on fs, opens the store and resolves the tenant.
func openReport(
	ctx context.Context, fs *flag.FlagSet, args []string,
) (*reportEnv, error) {
	config.RegisterStoreFlags(fs)
	explicit := fs.String("tenant", "", "Company id")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return &reportEnv{
		cfg:    cfg,
		log:    logger,
		st:     st,
		tenant: resolveTenant(ctx, cfg, *explicit, logger),
	}, nil
}

// resolveTenant applies -tenant over FLEETVIEW_TENANT over the stored
// preference.
func resolveTenant(
	ctx context.Context, cfg config.Config, explicit string,
	logger *slog.Logger,
) tenant.Context {
	r := tenant.NewResolver(nil)
	if prefs, err := tenant.OpenPreferences(cfg.DataDir, logger); err != nil {
		logger.Warn("ignoring tenant preference", "err", err)
	} else {
		r = tenant.NewResolver(prefs)
	}
	ctx = tenant.WithSession(ctx, os.Getenv(sessionTenantEnv))
	return r.Resolve(ctx, explicit)
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSnapshot(args []string, out io.Writer) error {
	ctx := context.Background()
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	domains := fs.String("domains", "", "Comma-separated domains")
	metric := fs.String("metric", "", "Single metric as domain/name")
	env, err := openReport(ctx, fs, args)
	if err != nil {
		return err
	}
	defer env.st.Close()
	if !env.tenant.Valid() {
		env.log.Warn(errNoTenant.Error())
	}

	b := newBuilder(env.cfg, env.st, env.log)
	if *metric != "" {
		domain, name, ok := strings.Cut(*metric, "/")
		if !ok {
			return fmt.Errorf("invalid -metric %q: want domain/name", *metric)
		}
		res, found := b.Metric(ctx, env.tenant, domain, name)
		if !found {
			return fmt.Errorf("unknown metric %q", *metric)
		}
		return writeIndented(out, struct {
			Value  any            `json:"value"`
			Source outcome.Source `json:"source"`
			Kind   outcome.Kind   `json:"failure,omitempty"`
		}{res.Value, res.Source, res.Kind})
	}

	var selected []string
	for d := range strings.SplitSeq(*domains, ",") {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		if !slices.Contains(b.Domains(), d) {
			return fmt.Errorf("unknown domain %q: use one of %s",
				d, strings.Join(b.Domains(), ", "))
		}
		selected = append(selected, d)
	}
	return writeIndented(out, b.Build(ctx, env.tenant, selected...))
}

func runExport(args []string, out io.Writer) error {
	ctx := context.Background()
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	where := fs.String("where", "", "Filter terms, e.g. \"status=confirmed\"")
	archive := fs.Bool("archive", false, "Upload to object storage")
	env, err := openReport(ctx, fs, args)
	if err != nil {
		return err
	}
	defer env.st.Close()

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: fleetview export [flags] <resource>\n"+
			"resources: %s", strings.Join(repo.Resources(), ", "))
	}
	resource := fs.Arg(0)
	if !repo.Listable(resource) {
		return fmt.Errorf("unknown resource %q: use one of %s",
			resource, strings.Join(repo.Resources(), ", "))
	}
	if !env.tenant.Valid() {
		return errNoTenant
	}
	f, err := parseWhere(*where)
	if err != nil {
		return err
	}

	res := repo.New(env.st, repo.WithLogger(env.log)).
		List(ctx, env.tenant, resource, f)
	if !res.OK() {
		return fmt.Errorf("reading %s (%s): %w", resource, res.Kind, res.Err)
	}
	records, err := export.RecordsFrom(res.Value)
	if err != nil {
		return err
	}

	if *archive {
		if !env.cfg.ObjectStore.Enabled() {
			return errors.New("object storage is not configured: " +
				"set FLEETVIEW_S3_BUCKET and credentials")
		}
		a, err := newArchiver(env.cfg, env.log)
		if err != nil {
			return err
		}
		arc, err := a.Archive(ctx, env.tenant.ID, resource, records)
		if err != nil {
			return err
		}
		return writeIndented(out, arc)
	}

	if err := export.Write(out, records); err != nil {
		return err
	}
	if len(records) > 0 {
		_, err = fmt.Fprintln(out)
	}
	return err
}

func runProbe(args []string, out io.Writer) error {
	ctx := context.Background()
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	env, err := openReport(ctx, fs, args)
	if err != nil {
		return err
	}
	defer env.st.Close()
	if !env.tenant.Valid() {
		return errNoTenant
	}

	caps := newBuilder(env.cfg, env.st, env.log).
		Capabilities(ctx, env.tenant)
	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		state := "available"
		if !caps[name] {
			state = "missing"
		}
		if _, err := fmt.Fprintf(out, "%-24s %s\n", name, state); err != nil {
			return err
		}
	}
	return nil
}

func runMigrate(args []string, out io.Writer) error {
	ctx := context.Background()
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	config.RegisterStoreFlags(fs)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	if cfg.Backend != config.BackendPostgres {
		// the sqlite backend applies its schema on open
		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		_, err = fmt.Fprintf(out, "schema applied to %s\n", cfg.SQLitePath)
		return err
	}

	pg, err := postgres.Open(ctx, postgres.Config{
		URL: cfg.DatabaseURL, MaxRetries: 5,
	}, logger)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, "schema applied")
	return err
}

func runPrefs(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("prefs", flag.ContinueOnError)
	config.RegisterStoreFlags(fs)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	prefs, err := tenant.OpenPreferences(cfg.DataDir, newLogger(cfg))
	if err != nil {
		return err
	}

	switch fs.Arg(0) {
	case "show", "":
		id := prefs.Preferred()
		if id == "" {
			id = "(none)"
		}
		_, err = fmt.Fprintln(out, id)
		return err
	case "set":
		if fs.NArg() != 2 {
			return errors.New("usage: fleetview prefs set <company id>")
		}
		if err := prefs.Set(fs.Arg(1)); err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "preferred company set to %s\n",
			prefs.Preferred())
		return err
	case "clear":
		if err := prefs.Set(""); err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, "preferred company cleared")
		return err
	default:
		return fmt.Errorf("unknown prefs command %q: use show, set or clear",
			fs.Arg(0))
	}
}
