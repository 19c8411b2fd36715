package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wesm/fleetview/internal/config"
	"github.com/wesm/fleetview/internal/kpi"
	"github.com/wesm/fleetview/internal/repo"
	"github.com/wesm/fleetview/internal/snapshot"
	"github.com/wesm/fleetview/internal/store/sqlite"
	"github.com/wesm/fleetview/internal/store/storetest"
)

var testNow = time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC)

// testEnv is a server over a fresh SQLite database with a fixed
// clock, plus an httptest server running its full handler chain.
type testEnv struct {
	srv *Server
	db  *sqlite.DB
	ts  *httptest.Server
}

func newTestEnv(
	t *testing.T, writeTimeout time.Duration, opts ...Option,
) *testEnv {
	t.Helper()
	db := storetest.SQLite(t)
	clock := func() time.Time { return testNow }
	svc := kpi.NewService(
		repo.New(db, repo.WithClock(clock)), nil, kpi.WithClock(clock),
	)
	cfg := config.Config{
		Host:         "127.0.0.1",
		Port:         0,
		DataDir:      t.TempDir(),
		WriteTimeout: writeTimeout,
	}
	srv := New(cfg, snapshot.NewBuilder(svc), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, db: db, ts: ts}
}

// testServer creates a Server for internal tests with the given
// write timeout.
func testServer(
	t *testing.T, writeTimeout time.Duration,
) *Server {
	t.Helper()
	return newTestEnv(t, writeTimeout).srv
}

// testServerOpts is testServer with server options.
func testServerOpts(
	t *testing.T, writeTimeout time.Duration, opts ...Option,
) *Server {
	t.Helper()
	return newTestEnv(t, writeTimeout, opts...).srv
}

// withHandlerDelay delays every timeout-wrapped handler.
func withHandlerDelay(d time.Duration) Option {
	return func(s *Server) { s.handlerDelay = d }
}

func (e *testEnv) seed(
	t *testing.T, resource, tenantID string, vals map[string]any,
) string {
	t.Helper()
	return storetest.Seed(t, e.db, resource, tenantID, vals)
}

// do sends a request with an optional JSON body and tenant header.
func (e *testEnv) do(
	t *testing.T, method, path, tenantID, body string,
) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenantID != "" {
		req.Header.Set(TenantHeader, tenantID)
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// decode asserts the status and decodes the JSON body into v.
func decode(t *testing.T, resp *http.Response, status int, v any) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d: %s",
			resp.StatusCode, status, body)
	}
	if v == nil {
		return
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decoding %q: %v", body, err)
	}
}

// memPrefs is an in-memory PreferenceSetter.
type memPrefs struct {
	mu sync.Mutex
	id string
}

func (p *memPrefs) Preferred() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *memPrefs) Set(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = strings.TrimSpace(id)
	return nil
}

// assertTimeoutResponse checks that the response is a 503 with
// a JSON body containing "request timed out" and the correct
// Content-Type header.
func assertTimeoutResponse(
	t *testing.T, resp *http.Response,
) {
	t.Helper()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf(
			"status = %d, want %d",
			resp.StatusCode, http.StatusServiceUnavailable,
		)
	}
	body, _ := io.ReadAll(resp.Body)
	var je jsonError
	if err := json.Unmarshal(body, &je); err != nil {
		t.Fatalf(
			"body is not valid JSON: %v (body=%q)",
			err, string(body),
		)
	}
	if je.Error != "request timed out" {
		t.Errorf(
			"error = %q, want %q",
			je.Error, "request timed out",
		)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf(
			"Content-Type = %q, want %q",
			ct, "application/json",
		)
	}
}

// isTimeoutResponse returns true when the response is a 503
// JSON timeout. Use this for negative assertions where a route
// should NOT produce a timeout.
func isTimeoutResponse(
	t *testing.T, resp *http.Response,
) bool {
	t.Helper()
	if resp.StatusCode != http.StatusServiceUnavailable {
		return false
	}
	body, _ := io.ReadAll(resp.Body)
	var je jsonError
	if json.Unmarshal(body, &je) != nil {
		return false
	}
	return je.Error == "request timed out"
}

// newTestRequest returns a recorder and request for lightweight
// handler tests. Pass an empty query for no query string.
func newTestRequest(
	t *testing.T, query string,
) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()
	target := "/test"
	if query != "" {
		target += "?" + query
	}
	return httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, target, nil)
}

// assertRecorderStatus checks that the recorder has the
// expected HTTP status code.
func assertRecorderStatus(
	t *testing.T, w *httptest.ResponseRecorder, code int,
) {
	t.Helper()
	if w.Code != code {
		t.Fatalf(
			"expected status %d, got %d: %s",
			code, w.Code, w.Body.String(),
		)
	}
}
