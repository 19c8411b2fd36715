package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/fleetview/internal/repo"
)

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantVal    int
		wantOK     bool
		wantStatus int
	}{
		{"absent", "", 0, true, http.StatusOK},
		{"valid", "limit=42", 42, true, http.StatusOK},
		{"negative", "limit=-5", -5, true, http.StatusOK},
		{"non-numeric", "limit=abc", 0, false, http.StatusBadRequest},
		{"float", "limit=3.5", 0, false, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, r := newTestRequest(t, tt.query)

			val, ok := parseIntParam(w, r, "limit")
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if val != tt.wantVal {
				t.Errorf("val = %d, want %d", val, tt.wantVal)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		def, max int
		want     int
	}{
		{"list zero", 0, defaultListLimit, maxListLimit, defaultListLimit},
		{"list negative", -1, defaultListLimit, maxListLimit, defaultListLimit},
		{"list within", 250, defaultListLimit, maxListLimit, 250},
		{"list over", maxListLimit + 1, defaultListLimit, maxListLimit,
			maxListLimit},
		{"export default", 0, defaultExportLimit, maxExportLimit,
			defaultExportLimit},
		{"export over", 1 << 20, defaultExportLimit, maxExportLimit,
			maxExportLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampLimit(tt.limit, tt.def, tt.max); got != tt.want {
				t.Errorf("clampLimit(%d) = %d, want %d",
					tt.limit, got, tt.want)
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	day := func(s string) time.Time {
		d, err := time.Parse(time.DateOnly, s)
		require.NoError(t, err)
		return d
	}

	w, r := newTestRequest(t, "from=2024-01-01&to=2024-01-31"+
		"&q=+harbour+&status=confirmed,,pending&category=web"+
		"&ref_column=route_id&ref_id=r1&limit=5")
	f, ok := parseFilter(w, r, defaultListLimit, maxListLimit)
	require.True(t, ok, w.Body.String())
	assert.Equal(t, repo.Filter{
		Window:   repo.DayRange(day("2024-01-01"), day("2024-01-31")),
		Search:   "harbour",
		Status:   []string{"confirmed", "pending"},
		Category: "web",
		Ref:      repo.Ref{Column: "route_id", ID: "r1"},
		Limit:    5,
	}, f)
	assert.Equal(t, day("2024-02-01"), f.Window.To)
	assert.False(t, f.Window.InclusiveTo)

	w, r = newTestRequest(t, "")
	f, ok = parseFilter(w, r, defaultExportLimit, maxExportLimit)
	require.True(t, ok)
	assert.Equal(t, defaultExportLimit, f.Limit)
	assert.True(t, f.Window.From.IsZero())
	assert.Nil(t, f.Status)

	bad := []struct {
		name    string
		query   string
		wantMsg string
	}{
		{"from format", "from=01/02/2024", "invalid from date"},
		{"to format", "to=2024-13-01", "invalid to date"},
		{"inverted", "from=2024-02-01&to=2024-01-01", "to is before from"},
		{"limit", "limit=ten", "invalid limit parameter"},
		{"ref column", "ref_column=route_id%3Bdrop", "invalid ref_column"},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			w, r := newTestRequest(t, tt.query)
			_, ok := parseFilter(w, r, defaultListLimit, maxListLimit)
			assert.False(t, ok)
			assertRecorderStatus(t, w, http.StatusBadRequest)
			assert.Contains(t, w.Body.String(), tt.wantMsg)
		})
	}
}

func TestDecodeBody(t *testing.T) {
	type payload struct {
		Status string `json:"status"`
	}
	tests := []struct {
		name    string
		body    string
		strict  bool
		wantOK  bool
		wantMsg string
	}{
		{"valid", `{"status":"confirmed"}`, true, true, ""},
		{"empty", ``, false, false, "request body is required"},
		{"malformed", `{"status":`, false, false, "invalid JSON body"},
		{"unknown field strict", `{"colour":"red"}`, true, false,
			"invalid JSON body"},
		{"unknown field lenient", `{"colour":"red"}`, false, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test",
				strings.NewReader(tt.body))
			var p payload
			ok := decodeBody(w, r, &p, tt.strict)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assertRecorderStatus(t, w, http.StatusBadRequest)
				assert.Contains(t, w.Body.String(), tt.wantMsg)
			}
		})
	}
}
