// Package config loads fleetview settings. Layers apply in order:
// defaults < config file < environment < explicitly set flags.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const configFileName = "config.json"

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// ObjectStore locates the bucket that receives archived exports.
type ObjectStore struct {
	Endpoint  string        `json:"endpoint"`
	Bucket    string        `json:"bucket"`
	AccessKey string        `json:"access_key"`
	SecretKey string        `json:"secret_key,omitempty"`
	UseSSL    bool          `json:"use_ssl"`
	URLExpiry time.Duration `json:"-"`
}

// Enabled reports whether archiving is configured.
func (o ObjectStore) Enabled() bool {
	return o.Bucket != "" && o.AccessKey != "" && o.SecretKey != ""
}

// Config holds all application configuration.
type Config struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	DataDir         string        `json:"data_dir"`
	Backend         string        `json:"backend"`
	DatabaseURL     string        `json:"database_url,omitempty"`
	SQLitePath      string        `json:"sqlite_path"`
	WriteTimeout    time.Duration `json:"-"`
	MetricTimeout   time.Duration `json:"-"`
	SnapshotWorkers int           `json:"snapshot_workers"`
	TrendMonths     int           `json:"trend_months"`
	LogLevel        string        `json:"log_level"`
	ObjectStore     ObjectStore   `json:"object_store"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".fleetview")
	return Config{
		Host:            "127.0.0.1",
		Port:            8080,
		DataDir:         dataDir,
		Backend:         BackendSQLite,
		SQLitePath:      filepath.Join(dataDir, "fleet.db"),
		WriteTimeout:    30 * time.Second,
		MetricTimeout:   10 * time.Second,
		SnapshotWorkers: 8,
		TrendMonths:     12,
		LogLevel:        "info",
		ObjectStore: ObjectStore{
			URLExpiry: 15 * time.Minute,
		},
	}, nil
}

// Load builds a Config by layering defaults, config file, env and
// flags. The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	defaultDB := cfg.SQLitePath
	cfg.DataDir = resolveDataDir(cfg.DataDir, fs)

	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	if err := cfg.loadEnv(); err != nil {
		return cfg, err
	}
	if err := applyFlags(&cfg, fs); err != nil {
		return cfg, err
	}
	// a relocated data dir carries the database with it
	if cfg.SQLitePath == defaultDB {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, "fleet.db")
	}
	return cfg, cfg.Validate()
}

// resolveDataDir applies the env and flag overrides for the data
// directory alone, since it decides where the config file lives.
func resolveDataDir(def string, fs *flag.FlagSet) string {
	dir := def
	if v := os.Getenv("FLEETVIEW_DATA_DIR"); v != "" {
		dir = v
	}
	if fs != nil {
		fs.Visit(func(f *flag.Flag) {
			if f.Name == "data-dir" {
				dir = f.Value.String()
			}
		})
	}
	return dir
}

// Path returns the config file location.
func (c *Config) Path() string {
	return filepath.Join(c.DataDir, configFileName)
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.Path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file struct {
		Host            *string `json:"host"`
		Port            *int    `json:"port"`
		Backend         *string `json:"backend"`
		DatabaseURL     *string `json:"database_url"`
		SQLitePath      *string `json:"sqlite_path"`
		WriteTimeout    *string `json:"write_timeout"`
		MetricTimeout   *string `json:"metric_timeout"`
		SnapshotWorkers *int    `json:"snapshot_workers"`
		TrendMonths     *int    `json:"trend_months"`
		LogLevel        *string `json:"log_level"`
		ObjectStore     *struct {
			Endpoint  string `json:"endpoint"`
			Bucket    string `json:"bucket"`
			AccessKey string `json:"access_key"`
			SecretKey string `json:"secret_key"`
			UseSSL    bool   `json:"use_ssl"`
			URLExpiry string `json:"url_expiry"`
		} `json:"object_store"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	setString(&c.Host, file.Host)
	setString(&c.Backend, file.Backend)
	setString(&c.DatabaseURL, file.DatabaseURL)
	setString(&c.SQLitePath, file.SQLitePath)
	setString(&c.LogLevel, file.LogLevel)
	if file.Port != nil {
		c.Port = *file.Port
	}
	if file.SnapshotWorkers != nil {
		c.SnapshotWorkers = *file.SnapshotWorkers
	}
	if file.TrendMonths != nil {
		c.TrendMonths = *file.TrendMonths
	}
	if err := setDuration(&c.WriteTimeout, "write_timeout",
		deref(file.WriteTimeout)); err != nil {
		return err
	}
	if err := setDuration(&c.MetricTimeout, "metric_timeout",
		deref(file.MetricTimeout)); err != nil {
		return err
	}
	if obj := file.ObjectStore; obj != nil {
		c.ObjectStore.Endpoint = obj.Endpoint
		c.ObjectStore.Bucket = obj.Bucket
		c.ObjectStore.AccessKey = obj.AccessKey
		c.ObjectStore.SecretKey = obj.SecretKey
		c.ObjectStore.UseSSL = obj.UseSSL
		if err := setDuration(&c.ObjectStore.URLExpiry,
			"object_store.url_expiry", obj.URLExpiry); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) loadEnv() error {
	strs := map[string]*string{
		"FLEETVIEW_HOST":          &c.Host,
		"FLEETVIEW_BACKEND":       &c.Backend,
		"FLEETVIEW_DATABASE_URL":  &c.DatabaseURL,
		"FLEETVIEW_SQLITE_PATH":   &c.SQLitePath,
		"FLEETVIEW_LOG_LEVEL":     &c.LogLevel,
		"FLEETVIEW_S3_ENDPOINT":   &c.ObjectStore.Endpoint,
		"FLEETVIEW_S3_BUCKET":     &c.ObjectStore.Bucket,
		"FLEETVIEW_S3_ACCESS_KEY": &c.ObjectStore.AccessKey,
		"FLEETVIEW_S3_SECRET_KEY": &c.ObjectStore.SecretKey,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	ints := map[string]*int{
		"FLEETVIEW_PORT":             &c.Port,
		"FLEETVIEW_SNAPSHOT_WORKERS": &c.SnapshotWorkers,
		"FLEETVIEW_TREND_MONTHS":     &c.TrendMonths,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}
	durs := map[string]*time.Duration{
		"FLEETVIEW_WRITE_TIMEOUT":  &c.WriteTimeout,
		"FLEETVIEW_METRIC_TIMEOUT": &c.MetricTimeout,
		"FLEETVIEW_S3_URL_EXPIRY":  &c.ObjectStore.URLExpiry,
	}
	for key, dst := range durs {
		if err := setDuration(dst, key, os.Getenv(key)); err != nil {
			return err
		}
	}
	if v := os.Getenv("FLEETVIEW_S3_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FLEETVIEW_S3_USE_SSL %q: %w", v, err)
		}
		c.ObjectStore.UseSSL = b
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite backend needs sqlite_path"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("postgres backend needs database_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.SnapshotWorkers < 1 {
		errs = append(errs, errors.New("snapshot_workers must be positive"))
	}
	if c.TrendMonths < 1 || c.TrendMonths > 120 {
		errs = append(errs, fmt.Errorf(
			"trend_months %d outside 1..120", c.TrendMonths))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level, info when unparseable.
func (c *Config) SlogLevel() slog.Level {
	l, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", s)
	}
	return l, nil
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8080, "Port to listen on")
	RegisterStoreFlags(fs)
	fs.Int("workers", 8, "Concurrent metric providers per snapshot")
	fs.Int("trend-months", 12, "Months covered by trend metrics")
	fs.Duration("metric-timeout", 10*time.Second,
		"Deadline for each metric in a snapshot")
}

// RegisterStoreFlags registers the flags that select a backend, shared
// by every subcommand that opens the store.
func RegisterStoreFlags(fs *flag.FlagSet) {
	fs.String("data-dir", "", "Data directory (config, preferences)")
	fs.String("backend", BackendSQLite, "Store backend: postgres or sqlite")
	fs.String("database-url", "", "Postgres connection URL")
	fs.String("sqlite-path", "", "SQLite database file")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) error {
	if fs == nil {
		return nil
	}
	var err error
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "host":
			cfg.Host = v
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(v)
		case "data-dir":
			cfg.DataDir = v
		case "backend":
			cfg.Backend = v
		case "database-url":
			cfg.DatabaseURL = v
		case "sqlite-path":
			cfg.SQLitePath = v
		case "log-level":
			cfg.LogLevel = v
		case "workers":
			cfg.SnapshotWorkers, _ = strconv.Atoi(v)
		case "trend-months":
			cfg.TrendMonths, _ = strconv.Atoi(v)
		case "metric-timeout":
			if d, perr := time.ParseDuration(v); perr != nil {
				err = fmt.Errorf("invalid -metric-timeout %q: %w", v, perr)
			} else {
				cfg.MetricTimeout = d
			}
		}
	})
	return err
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func setDuration(dst *time.Duration, name, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = d
	return nil
}
