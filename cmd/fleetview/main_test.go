package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/fleetview/internal/config"
	"github.com/wesm/fleetview/internal/repo"
	"github.com/wesm/fleetview/internal/store/sqlite"
	"github.com/wesm/fleetview/internal/store/storetest"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantHost string
		wantPort int
	}{
		{
			name:     "DefaultArgs",
			args:     []string{},
			wantHost: "127.0.0.1",
			wantPort: 8080,
		},
		{
			name:     "ExplicitFlags",
			args:     []string{"-host", "0.0.0.0", "-port", "9090"},
			wantHost: "0.0.0.0",
			wantPort: 9090,
		},
		{
			name:     "PartialFlags",
			args:     []string{"-port", "3000"},
			wantHost: "127.0.0.1",
			wantPort: 3000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FLEETVIEW_DATA_DIR", t.TempDir())
			fs := flag.NewFlagSet("serve", flag.ContinueOnError)
			config.RegisterServeFlags(fs)
			cfg, err := loadConfig(fs, tt.args)
			if err != nil {
				t.Fatalf("loadConfig: %v", err)
			}

			if cfg.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", cfg.Host, tt.wantHost)
			}
			if cfg.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", cfg.Port, tt.wantPort)
			}
			wantDB := filepath.Join(cfg.DataDir, "fleet.db")
			if cfg.SQLitePath != wantDB {
				t.Errorf("SQLitePath = %q, want %q", cfg.SQLitePath, wantDB)
			}
		})
	}
}

func TestParseWhere(t *testing.T) {
	day := func(s string) time.Time {
		d, _ := time.Parse(time.DateOnly, s)
		return d
	}
	tests := []struct {
		name    string
		expr    string
		want    repo.Filter
		wantErr string
	}{
		{name: "empty", expr: "", want: repo.Filter{}},
		{
			name: "all keys",
			expr: `status=confirmed,pending category=web q='harbour express'` +
				` from=2024-01-01 to=2024-01-31 limit=5 ref=route_id:r1`,
			want: repo.Filter{
				Window:   repo.DayRange(day("2024-01-01"), day("2024-01-31")),
				Search:   "harbour express",
				Status:   []string{"confirmed", "pending"},
				Category: "web",
				Ref:      repo.Ref{Column: "route_id", ID: "r1"},
				Limit:    5,
			},
		},
		{name: "not key value", expr: "confirmed", wantErr: "key=value"},
		{name: "unknown key", expr: "colour=red", wantErr: "unknown"},
		{name: "bad date", expr: "from=01/02/2024", wantErr: "YYYY-MM-DD"},
		{name: "inverted", expr: "from=2024-02-01 to=2024-01-01",
			wantErr: "before"},
		{name: "bad limit", expr: "limit=-1", wantErr: "limit"},
		{name: "bad ref", expr: "ref=Route-ID:r1", wantErr: "ref"},
		{name: "unterminated quote", expr: "q='open", wantErr: "-where"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWhere(tt.expr)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// setupCLI points the data directory at a temp dir and seeds its
// default SQLite database with bookings for acme dated yesterday.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FLEETVIEW_DATA_DIR", dir)
	t.Setenv(sessionTenantEnv, "")

	db, err := sqlite.Open(filepath.Join(dir, "fleet.db"))
	require.NoError(t, err)
	defer db.Close()

	yesterday := time.Now().UTC().Add(-24 * time.Hour).
		Format(time.RFC3339)
	for _, b := range []map[string]any{
		{"amount": 10.0, "status": "confirmed", "passenger_name": "Ada"},
		{"amount": 20.0, "status": "confirmed", "passenger_name": "Grace"},
		{"amount": 70.0, "status": "cancelled", "passenger_name": "Linus"},
	} {
		b["booked_at"] = yesterday
		b["channel"] = "web"
		storetest.Seed(t, db, "bookings", "acme", b)
	}
	return dir
}

type cliSnapshot struct {
	Tenant struct {
		ID     string `json:"id"`
		Source string `json:"source"`
	} `json:"tenant"`
	Metrics map[string]map[string]json.RawMessage `json:"metrics"`
}

func TestPrefsAndSnapshot(t *testing.T) {
	setupCLI(t)

	var out bytes.Buffer
	require.NoError(t, runPrefs([]string{"show"}, &out))
	assert.Equal(t, "(none)\n", out.String())

	out.Reset()
	require.NoError(t, runPrefs([]string{"set", "acme"}, &out))
	assert.Contains(t, out.String(), "acme")

	out.Reset()
	require.NoError(t, runSnapshot([]string{"-domains", "finance"}, &out))
	var snap cliSnapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))
	assert.Equal(t, "acme", snap.Tenant.ID)
	assert.Equal(t, "preference", snap.Tenant.Source)
	assert.Len(t, snap.Metrics, 1)
	assert.JSONEq(t, `{"revenue":30,"bookings":2}`,
		string(snap.Metrics["finance"]["revenue_total"]))

	t.Setenv(sessionTenantEnv, "globex")
	out.Reset()
	require.NoError(t, runSnapshot([]string{"-domains", "finance"}, &out))
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))
	assert.Equal(t, "globex", snap.Tenant.ID)
	assert.Equal(t, "session", snap.Tenant.Source)

	out.Reset()
	require.NoError(t, runSnapshot([]string{
		"-tenant", "acme", "-metric", "finance/revenue_total",
	}, &out))
	assert.Contains(t, out.String(), `"source": "preferred"`)
	assert.Contains(t, out.String(), `"revenue": 30`)

	assert.Error(t, runSnapshot([]string{"-metric", "finance"}, &out))
	assert.Error(t, runSnapshot([]string{"-metric", "finance/nope"}, &out))
	assert.Error(t, runSnapshot([]string{"-domains", "weather"}, &out))

	out.Reset()
	require.NoError(t, runPrefs([]string{"clear"}, &out))
	assert.Error(t, runPrefs([]string{"set"}, &out))
	assert.Error(t, runPrefs([]string{"frobnicate"}, &out))
}

func TestExportCommand(t *testing.T) {
	setupCLI(t)

	var out bytes.Buffer
	require.NoError(t, runExport([]string{
		"-tenant", "acme", "-where", "status=confirmed", "bookings",
	}, &out))
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "id,company_id,"), lines[0])
	for _, l := range lines[1:] {
		assert.Contains(t, l, `"acme"`)
	}

	out.Reset()
	require.NoError(t, runExport([]string{
		"-tenant", "globex", "bookings",
	}, &out))
	assert.Empty(t, out.String())

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no resource", []string{"-tenant", "acme"}, "usage"},
		{"unknown resource", []string{"-tenant", "acme", "secrets"},
			"unknown resource"},
		{"no tenant", []string{"bookings"}, "no company selected"},
		{"bad where", []string{"-tenant", "acme", "-where", "x", "bookings"},
			"key=value"},
		{"archive unconfigured",
			[]string{"-tenant", "acme", "-archive", "bookings"},
			"object storage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runExport(tt.args, &out)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProbeAndMigrate(t *testing.T) {
	dir := setupCLI(t)

	var out bytes.Buffer
	require.NoError(t, runProbe([]string{"-tenant", "acme"}, &out))
	for _, view := range repo.OptionalViews {
		assert.Regexp(t, view+` +available`, out.String())
	}

	assert.ErrorIs(t, runProbe(nil, &out), errNoTenant)

	out.Reset()
	require.NoError(t, runMigrate(nil, &out))
	assert.Equal(t,
		"schema applied to "+filepath.Join(dir, "fleet.db")+"\n",
		out.String())
}
