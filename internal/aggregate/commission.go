package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesm/fleetview/internal/outcome"
)

// CommissionPeriod parses "YYYY-MM" into the half-open interval
// [start, start+1 month) in UTC.
func CommissionPeriod(month string) (start, end time.Time, err error) {
	t, err := time.Parse(MonthLayout, strings.TrimSpace(month))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf(
			"%w: period %q is not YYYY-MM", outcome.ErrComputation, month,
		)
	}
	start = t.UTC()
	return start, start.AddDate(0, 1, 0), nil
}

// CommissionDue evaluates fixed + rate * seats * fare rounded to
// cents. The backend procedure is authoritative; this mirrors it for
// display and tests.
func CommissionDue(fixed, rate float64, seats int, fare float64) float64 {
	return Round2(Finite(fixed) + Finite(rate)*float64(seats)*Finite(fare))
}
