package warranty

import (
	"time"

	"github.com/StewartGolf/CartBox/internal/errs"
	"github.com/StewartGolf/CartBox/internal/models"
)

// Registration forms arrive both from the shop (ISO) and from dealers
// (European day-first), so both layouts are accepted.
var dateLayouts = []string{"2006-01-02", "02/01/2006"}

// ParseDate parses an ISO YYYY-MM-DD or DD/MM/YYYY date string into a UTC
// midnight timestamp. Non-existent calendar dates (e.g. 31/02/2024) are
// rejected.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, errs.InvalidDate(s)
}

// AddMonths adds calendar months with end-of-month clamping: when the start
// day does not exist in the target month the result lands on that month's
// last day (Jan 31 + 1 month = Feb 28 or 29). This is deliberately not
// time.AddDate, which would normalize Feb 31 into early March.
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ComputeCoverage builds the warranty window starting at referenceDate and
// ending durationMonths calendar months later.
func ComputeCoverage(referenceDate time.Time, durationMonths int) (models.Coverage, error) {
	if durationMonths < 0 {
		return models.Coverage{}, errs.New(errs.KindInvalidDuration, "warranty duration must be >= 0 months, got %d", durationMonths)
	}
	return models.Coverage{
		Start:          referenceDate,
		End:            AddMonths(referenceDate, durationMonths),
		DurationMonths: durationMonths,
	}, nil
}

// ComputeCoverageFrom is ComputeCoverage over a raw date string.
func ComputeCoverageFrom(referenceDate string, durationMonths int) (models.Coverage, error) {
	ref, err := ParseDate(referenceDate)
	if err != nil {
		return models.Coverage{}, err
	}
	return ComputeCoverage(ref, durationMonths)
}

// ResidualDays is the number of warranty days left at now, rounded up.
// Negative when the coverage end has passed; callers keep the sign.
func ResidualDays(coverageEnd, now time.Time) int {
	d := coverageEnd.Sub(now)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}
