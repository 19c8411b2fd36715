package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/fleetview/internal/outcome"
)

func TestCommissionPeriod(t *testing.T) {
	start, end, err := CommissionPeriod("2024-03")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), end)

	start, end, err = CommissionPeriod("2023-12")
	require.NoError(t, err)
	assert.Equal(t, 2023, start.Year())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestCommissionPeriodInvalid(t *testing.T) {
	for _, in := range []string{"", "2024-13", "March", "2024-03-01"} {
		_, _, err := CommissionPeriod(in)
		assert.ErrorIs(t, err, outcome.ErrComputation, in)
	}
}

func TestCommissionDueFixture(t *testing.T) {
	assert.Equal(t, 2875.00, CommissionDue(2000, 0.035, 500, 50))
	assert.Equal(t, 2000.00, CommissionDue(2000, 0.035, 0, 50))
	assert.Equal(t, 0.0, CommissionDue(nan(), nan(), 1, 1))
}
