package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/wesm/fleetview/internal/store"
)

// Procedure emulates a stored procedure. It receives the read pool and
// the caller's parameter object and returns result rows as maps.
type Procedure func(
	ctx context.Context, reader *sql.DB, params map[string]any,
) ([]map[string]any, error)

// RegisterProcedure makes name callable through Call, replacing any
// previous registration.
func (db *DB) RegisterProcedure(name string, fn Procedure) {
	db.procMu.Lock()
	defer db.procMu.Unlock()
	db.procs[name] = fn
}

// DropProcedure removes name; subsequent calls fail with
// store.ErrRelationMissing.
func (db *DB) DropProcedure(name string) {
	db.procMu.Lock()
	defer db.procMu.Unlock()
	delete(db.procs, name)
}

// Call implements store.Store.
func (db *DB) Call(
	ctx context.Context, proc string, params map[string]any,
) ([]store.RawRow, error) {
	db.procMu.RLock()
	fn, ok := db.procs[proc]
	db.procMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf(
			"%w: function %s", store.ErrRelationMissing, proc,
		)
	}
	res, err := fn(ctx, db.reader, params)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", proc, classify(err))
	}
	out := make([]store.RawRow, 0, len(res))
	for _, r := range res {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encoding %s result: %w", proc, err)
		}
		out = append(out, store.RawRow(b))
	}
	return out, nil
}

func registerBuiltins(db *DB) {
	db.RegisterProcedure("calculate_commission", calculateCommission)
}

// calculateCommission mirrors the production calculate_commission
// function: fixed_fee + rate * sum(seats_sold * fare_per_seat) over
// non-cancelled trips departing in [p_period_start, p_period_end).
func calculateCommission(
	ctx context.Context, reader *sql.DB, params map[string]any,
) ([]map[string]any, error) {
	company, _ := params["p_company_id"].(string)
	if company == "" {
		return nil, store.ErrScopeMissing
	}
	start := store.SQLite.Arg(params["p_period_start"])
	end := store.SQLite.Arg(params["p_period_end"])

	var seats int64
	var gross float64
	err := reader.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(seats_sold), 0),
		       COALESCE(SUM(seats_sold * fare_per_seat), 0)
		FROM trips
		WHERE company_id = ? AND deleted_at IS NULL
		  AND status <> 'cancelled'
		  AND departed_at >= ? AND departed_at < ?`,
		company, start, end,
	).Scan(&seats, &gross)
	if err != nil {
		return nil, err
	}

	var fixed, rate float64
	err = reader.QueryRowContext(ctx, `
		SELECT fixed_fee, rate FROM commission_settings
		WHERE company_id = ? AND deleted_at IS NULL`,
		company,
	).Scan(&fixed, &rate)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	fare := 0.0
	if seats > 0 {
		fare = gross / float64(seats)
	}
	return []map[string]any{{
		"company_id":    company,
		"period_start":  formatParam(params["p_period_start"]),
		"period_end":    formatParam(params["p_period_end"]),
		"fixed_fee":     fixed,
		"rate":          rate,
		"seats_sold":    seats,
		"fare_per_seat": round2(fare),
		"gross":         round2(gross),
		"due":           round2(fixed + rate*gross),
	}}, nil
}

func formatParam(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
