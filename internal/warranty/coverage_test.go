package warranty

import (
	"testing"
	"time"

	"github.com/StewartGolf/CartBox/internal/errs"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseDate_Layouts(t *testing.T) {
	got, err := ParseDate("2024-01-15")
	require.NoError(t, err)
	require.Equal(t, date(2024, time.January, 15), got)

	got, err = ParseDate("15/01/2024")
	require.NoError(t, err)
	require.Equal(t, date(2024, time.January, 15), got)
}

func TestParseDate_Invalid(t *testing.T) {
	for _, s := range []string{"", "not-a-date", "2024-13-01", "31/02/2024", "2024/01/15"} {
		_, err := ParseDate(s)
		require.Error(t, err, s)
		require.Equal(t, errs.KindInvalidDate, errs.KindOf(err), s)
	}
}

func TestComputeCoverage_ExactMonths(t *testing.T) {
	cov, err := ComputeCoverageFrom("2024-01-15", 24)
	require.NoError(t, err)
	require.Equal(t, date(2024, time.January, 15), cov.Start)
	require.Equal(t, date(2026, time.January, 15), cov.End)
	require.Equal(t, 24, cov.DurationMonths)
}

func TestComputeCoverage_EndOfMonthClamp(t *testing.T) {
	cov, err := ComputeCoverageFrom("2025-01-31", 1)
	require.NoError(t, err)
	require.Equal(t, date(2025, time.February, 28), cov.End)

	// Leap year.
	cov, err = ComputeCoverageFrom("2024-01-31", 1)
	require.NoError(t, err)
	require.Equal(t, date(2024, time.February, 29), cov.End)

	// Year rollover.
	cov, err = ComputeCoverageFrom("2024-11-30", 3)
	require.NoError(t, err)
	require.Equal(t, date(2025, time.February, 28), cov.End)
}

func TestComputeCoverage_ZeroMonths(t *testing.T) {
	cov, err := ComputeCoverageFrom("2024-06-01", 0)
	require.NoError(t, err)
	require.Equal(t, cov.Start, cov.End)
}

func TestComputeCoverage_NegativeDuration(t *testing.T) {
	_, err := ComputeCoverageFrom("2024-06-01", -1)
	require.Error(t, err)
	require.Equal(t, errs.KindInvalidDuration, errs.KindOf(err))
}

func TestResidualDays(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)

	// Half a day left still counts as one day.
	require.Equal(t, 1, ResidualDays(date(2025, time.June, 11), now))
	require.Equal(t, 0, ResidualDays(now, now))
	// Expired coverage stays negative, not clamped.
	require.Equal(t, -9, ResidualDays(date(2025, time.June, 1), now))
	require.Equal(t, 21, ResidualDays(date(2025, time.July, 1), now))
}
