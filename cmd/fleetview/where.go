package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/wesm/fleetview/internal/repo"
	"github.com/wesm/fleetview/internal/store"
)

// parseWhere turns a shell-quoted list of key=value terms into a
// listing filter, e.g.
//
//	status=confirmed,pending from=2024-01-01 q='harbour express'
//
// Recognized keys: status, category, q, from, to, limit and
// ref=<column>:<id>.
func parseWhere(expr string) (repo.Filter, error) {
	var f repo.Filter
	terms, err := shlex.Split(expr)
	if err != nil {
		return f, fmt.Errorf("parsing -where: %w", err)
	}
	var from, to time.Time
	for _, term := range terms {
		key, val, ok := strings.Cut(term, "=")
		if !ok || key == "" {
			return f, fmt.Errorf("invalid -where term %q: want key=value", term)
		}
		switch key {
		case "status":
			for s := range strings.SplitSeq(val, ",") {
				if s = strings.TrimSpace(s); s != "" {
					f.Status = append(f.Status, s)
				}
			}
		case "category":
			f.Category = val
		case "q":
			f.Search = val
		case "from", "to":
			t, err := time.Parse(time.DateOnly, val)
			if err != nil {
				return f, fmt.Errorf("invalid %s date %q: use YYYY-MM-DD", key, val)
			}
			if key == "from" {
				from = t
			} else {
				to = t
			}
		case "limit":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return f, fmt.Errorf("invalid limit %q", val)
			}
			f.Limit = n
		case "ref":
			col, id, ok := strings.Cut(val, ":")
			if !ok || !store.ValidIdent(col) || id == "" {
				return f, fmt.Errorf("invalid ref %q: want column:id", val)
			}
			f.Ref = repo.Ref{Column: col, ID: id}
		default:
			return f, fmt.Errorf("unknown -where key %q", key)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return f, fmt.Errorf("to %s is before from %s",
			to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	f.Window = repo.DayRange(from, to)
	return f, nil
}
