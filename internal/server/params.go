package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/fleetview/internal/repo"
	"github.com/wesm/fleetview/internal/store"
)

const (
	defaultListLimit   = 100
	maxListLimit       = 1000
	defaultExportLimit = 10000
	maxExportLimit     = 50000
	maxBodyBytes       = 1 << 20
)

// parseIntParam reads an optional integer query parameter. An
// absent parameter yields 0. Invalid input writes a 400 and
// returns false.
func parseIntParam(
	w http.ResponseWriter, r *http.Request, name string,
) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid %s parameter", name))
		return 0, false
	}
	return n, true
}

// clampLimit returns def for non-positive limits and caps the
// rest at max.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// parseDateParam reads an optional YYYY-MM-DD query parameter.
func parseDateParam(
	w http.ResponseWriter, r *http.Request, name string,
) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid %s date: use YYYY-MM-DD", name))
		return time.Time{}, false
	}
	return t, true
}

// parseFilter builds a repo.Filter from the listing query
// parameters: from, to, q, status (comma separated), category,
// ref_column with ref_id, and limit.
func parseFilter(
	w http.ResponseWriter, r *http.Request, def, max int,
) (repo.Filter, bool) {
	q := r.URL.Query()
	from, ok := parseDateParam(w, r, "from")
	if !ok {
		return repo.Filter{}, false
	}
	to, ok := parseDateParam(w, r, "to")
	if !ok {
		return repo.Filter{}, false
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return repo.Filter{}, false
	}
	limit, ok := parseIntParam(w, r, "limit")
	if !ok {
		return repo.Filter{}, false
	}

	f := repo.Filter{
		Window:   repo.DayRange(from, to),
		Search:   strings.TrimSpace(q.Get("q")),
		Status:   splitList(q.Get("status")),
		Category: strings.TrimSpace(q.Get("category")),
		Limit:    clampLimit(limit, def, max),
	}
	if col := q.Get("ref_column"); col != "" {
		if !store.ValidIdent(col) {
			writeError(w, http.StatusBadRequest, "invalid ref_column")
			return repo.Filter{}, false
		}
		f.Ref = repo.Ref{Column: col, ID: q.Get("ref_id")}
	}
	return f, true
}

func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decodeBody reads a JSON request body into v. Unknown fields are
// rejected when strict is set. Failures write a 400.
func decodeBody(
	w http.ResponseWriter, r *http.Request, v any, strict bool,
) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}
