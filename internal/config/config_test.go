package config

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupConfigDir creates a temp data dir, points the env var at it,
// clears env overrides that would leak in from the host, and returns
// the dir.
func setupConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FLEETVIEW_DATA_DIR", dir)
	for _, key := range []string{
		"FLEETVIEW_HOST", "FLEETVIEW_PORT", "FLEETVIEW_BACKEND",
		"FLEETVIEW_DATABASE_URL", "FLEETVIEW_SQLITE_PATH",
		"FLEETVIEW_LOG_LEVEL", "FLEETVIEW_SNAPSHOT_WORKERS",
		"FLEETVIEW_TREND_MONTHS", "FLEETVIEW_WRITE_TIMEOUT",
		"FLEETVIEW_METRIC_TIMEOUT", "FLEETVIEW_S3_BUCKET",
		"FLEETVIEW_S3_ENDPOINT", "FLEETVIEW_S3_ACCESS_KEY",
		"FLEETVIEW_S3_SECRET_KEY", "FLEETVIEW_S3_USE_SSL",
		"FLEETVIEW_S3_URL_EXPIRY",
	} {
		t.Setenv(key, "")
	}
	return dir
}

func writeConfig(t *testing.T, dir string, data any) {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(
		filepath.Join(dir, configFileName), b, 0o600,
	); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func loadConfigFromFlags(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parsing flags: %v", err)
	}
	return Load(fs)
}

func TestLoad_DefaultsWithoutFlags(t *testing.T) {
	dir := setupConfigDir(t)
	cfg, err := loadConfigFromFlags(t)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want default %q", cfg.Host, "127.0.0.1")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default %d", cfg.Port, 8080)
	}
	if cfg.Backend != BackendSQLite {
		t.Errorf("Backend = %q, want %q", cfg.Backend, BackendSQLite)
	}
	if want := filepath.Join(dir, "fleet.db"); cfg.SQLitePath != want {
		t.Errorf("SQLitePath = %q, want %q", cfg.SQLitePath, want)
	}
	if cfg.MetricTimeout != 10*time.Second {
		t.Errorf("MetricTimeout = %v, want 10s", cfg.MetricTimeout)
	}
	if cfg.ObjectStore.Enabled() {
		t.Error("object store enabled without a bucket")
	}
}

func TestLoad_NilFlagSet(t *testing.T) {
	setupConfigDir(t)
	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want %q", cfg.Host, "127.0.0.1")
	}
}

func TestLoad_Layering(t *testing.T) {
	dir := setupConfigDir(t)
	writeConfig(t, dir, map[string]any{
		"host":           "10.0.0.1",
		"port":           7000,
		"trend_months":   6,
		"metric_timeout": "3s",
		"object_store": map[string]any{
			"bucket": "exports", "access_key": "k",
			"secret_key": "s", "url_expiry": "1h",
		},
	})
	t.Setenv("FLEETVIEW_PORT", "7100")
	t.Setenv("FLEETVIEW_S3_USE_SSL", "true")

	cfg, err := loadConfigFromFlags(t, "-trend-months", "3")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Host != "10.0.0.1" {
		t.Errorf("Host = %q, want file value", cfg.Host)
	}
	if cfg.Port != 7100 {
		t.Errorf("Port = %d, want env value 7100", cfg.Port)
	}
	if cfg.TrendMonths != 3 {
		t.Errorf("TrendMonths = %d, want flag value 3", cfg.TrendMonths)
	}
	if cfg.MetricTimeout != 3*time.Second {
		t.Errorf("MetricTimeout = %v, want 3s", cfg.MetricTimeout)
	}
	if !cfg.ObjectStore.Enabled() || !cfg.ObjectStore.UseSSL {
		t.Errorf("ObjectStore = %+v, want enabled with SSL", cfg.ObjectStore)
	}
	if cfg.ObjectStore.URLExpiry != time.Hour {
		t.Errorf("URLExpiry = %v, want 1h", cfg.ObjectStore.URLExpiry)
	}
}

func TestLoad_AppliesExplicitFlags(t *testing.T) {
	setupConfigDir(t)
	cfg, err := loadConfigFromFlags(t,
		"-host", "0.0.0.0", "-port", "9090",
		"-backend", "postgres", "-database-url", "postgres://db/fleet",
		"-metric-timeout", "2s", "-workers", "3",
	)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want %q", cfg.Host, "0.0.0.0")
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want %d", cfg.Port, 9090)
	}
	if cfg.Backend != BackendPostgres || cfg.DatabaseURL != "postgres://db/fleet" {
		t.Errorf("Backend = %q url %q", cfg.Backend, cfg.DatabaseURL)
	}
	if cfg.MetricTimeout != 2*time.Second {
		t.Errorf("MetricTimeout = %v, want 2s", cfg.MetricTimeout)
	}
	if cfg.SnapshotWorkers != 3 {
		t.Errorf("SnapshotWorkers = %d, want 3", cfg.SnapshotWorkers)
	}
	if got := cfg.Addr(); got != "0.0.0.0:9090" {
		t.Errorf("Addr = %q", got)
	}
}

func TestLoad_DataDirFlagLocatesConfigFile(t *testing.T) {
	setupConfigDir(t)
	other := t.TempDir()
	writeConfig(t, other, map[string]any{"host": "192.168.1.1"})

	cfg, err := loadConfigFromFlags(t, "-data-dir", other)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != other {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, other)
	}
	if cfg.Host != "192.168.1.1" {
		t.Errorf("Host = %q, want value from %s", cfg.Host, other)
	}
	if want := filepath.Join(other, "fleet.db"); cfg.SQLitePath != want {
		t.Errorf("SQLitePath = %q, want %q", cfg.SQLitePath, want)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		file    map[string]any
		wantErr string
	}{
		{
			name:    "postgres without url",
			env:     map[string]string{"FLEETVIEW_BACKEND": "postgres"},
			wantErr: "database_url",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"FLEETVIEW_BACKEND": "mysql"},
			wantErr: "unknown backend",
		},
		{
			name:    "bad port env",
			env:     map[string]string{"FLEETVIEW_PORT": "eighty"},
			wantErr: "FLEETVIEW_PORT",
		},
		{
			name:    "bad duration in file",
			file:    map[string]any{"write_timeout": "soon"},
			wantErr: "write_timeout",
		},
		{
			name:    "trend months out of range",
			file:    map[string]any{"trend_months": 500},
			wantErr: "trend_months",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"FLEETVIEW_LOG_LEVEL": "chatty"},
			wantErr: "log_level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupConfigDir(t)
			if tt.file != nil {
				writeConfig(t, dir, tt.file)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_CorruptConfigFile(t *testing.T) {
	dir := setupConfigDir(t)
	if err := os.WriteFile(
		filepath.Join(dir, configFileName), []byte("{not json"), 0o600,
	); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(nil); err == nil {
		t.Fatal("expected error for corrupt config")
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := Config{LogLevel: "debug"}
	if got := cfg.SlogLevel().String(); got != "DEBUG" {
		t.Errorf("SlogLevel = %s, want DEBUG", got)
	}
	cfg.LogLevel = "nonsense"
	if got := cfg.SlogLevel().String(); got != "INFO" {
		t.Errorf("SlogLevel = %s, want INFO fallback", got)
	}
}
