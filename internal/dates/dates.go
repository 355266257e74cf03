// Package dates implements annual-date normalization and overlap checks.
//
// Dates travel as "YYYY-MM-DD" strings throughout the system. The sentinel
// year "0000" marks an annual date that recurs every year; it is resolved
// to a concrete year only at query time. Because the strings are
// zero-padded, resolved dates compare correctly with plain string
// comparison, which is what all predicates here use.
package dates

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"calshare/internal/log"
	"calshare/internal/model"
)

const annualYear = "0000"

// ErrCrossesYearBoundary rejects annual ranges whose start month-day falls
// after the end month-day. Annual ranges may not wrap across new year.
var ErrCrossesYearBoundary = errors.New("annual date range crosses a year boundary")

// ErrInvalidDate reports a date string that is not YYYY-MM-DD.
var ErrInvalidDate = errors.New("invalid date")

// ErrInvalidRange reports a concrete range with end before start.
var ErrInvalidRange = errors.New("end date is before start date")

// IsAnnual reports whether the date uses the recurring-year sentinel.
func IsAnnual(date string) bool {
	return len(date) == 10 && date[:4] == annualYear
}

// ResolveToYear replaces an annual date's year with the given concrete
// year. Non-annual dates pass through unchanged.
func ResolveToYear(date string, year int) string {
	if !IsAnnual(date) {
		return date
	}
	return fmt.Sprintf("%04d", year) + date[4:]
}

// ToAnnual strips the year from a concrete date, producing the stored
// annual form.
func ToAnnual(date string) string {
	if len(date) != 10 {
		return date
	}
	return annualYear + date[4:]
}

// Year extracts the year component of a date string.
func Year(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

// Overlaps reports whether the entry's date range covers the query date.
// Annual boundaries are resolved to the query date's year first. An entry
// whose resolved range is inverted is treated as invalid data and reported
// as non-overlapping rather than failing the whole query.
func Overlaps(e model.Event, date string) bool {
	year := Year(date)
	start := ResolveToYear(e.StartDate, year)
	end := ResolveToYear(e.EndDate, year)
	if start > end {
		log.Warn("entry has invalid date range, skipping",
			"id", e.ID, "start", e.StartDate, "end", e.EndDate)
		return false
	}
	return start <= date && date <= end
}

// OverlapsRange reports whether the entry's date range intersects
// [rangeStart, rangeEnd]. Annual boundaries resolve to rangeStart's year.
func OverlapsRange(e model.Event, rangeStart, rangeEnd string) bool {
	year := Year(rangeStart)
	start := ResolveToYear(e.StartDate, year)
	end := ResolveToYear(e.EndDate, year)
	if start > end {
		log.Warn("entry has invalid date range, skipping",
			"id", e.ID, "start", e.StartDate, "end", e.EndDate)
		return false
	}
	return start <= rangeEnd && end >= rangeStart
}

// ValidateRange checks a start/end pair before it is accepted for storage.
// Both dates must be well-formed; an annual range may not wrap across the
// year boundary, and a concrete range may not end before it starts.
func ValidateRange(startDate, endDate string) error {
	for _, d := range []string{startDate, endDate} {
		if err := checkFormat(d); err != nil {
			return err
		}
	}
	if IsAnnual(startDate) || IsAnnual(endDate) {
		if startDate[5:] > endDate[5:] {
			return ErrCrossesYearBoundary
		}
		return nil
	}
	if startDate > endDate {
		return ErrInvalidRange
	}
	return nil
}

func checkFormat(date string) error {
	if len(date) != 10 || date[4] != '-' || date[7] != '-' {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	// Year 0000 is the annual sentinel; validate month and day against a
	// leap year so Feb 29 annual entries are accepted.
	probe := date
	if IsAnnual(date) {
		probe = "2000" + date[4:]
	}
	if _, err := time.Parse("2006-01-02", probe); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}
