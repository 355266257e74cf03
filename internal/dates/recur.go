package dates

import (
	"time"

	"github.com/teambition/rrule-go"

	"calshare/internal/model"
)

// Occurrences lists the concrete dates on which the entry starts within
// [from, to], inclusive. A concrete entry contributes at most its own start
// date; an annual entry is expanded with a yearly recurrence rule, so a
// window spanning several years yields one start per year.
func Occurrences(e model.Event, from, to string) ([]string, error) {
	if err := checkFormat(from); err != nil {
		return nil, err
	}
	if err := checkFormat(to); err != nil {
		return nil, err
	}

	if !IsAnnual(e.StartDate) {
		if from <= e.StartDate && e.StartDate <= to {
			return []string{e.StartDate}, nil
		}
		return nil, nil
	}

	// Seed the rule one year before the window so the first in-window
	// occurrence is always found regardless of month ordering. Feb 29
	// entries need a leap seed year, hence the fallback to 2000.
	seed, err := time.Parse("2006-01-02", ResolveToYear(e.StartDate, Year(from)-1))
	if err != nil {
		seed, err = time.Parse("2006-01-02", ResolveToYear(e.StartDate, 2000))
	}
	if err != nil {
		return nil, err
	}
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.YEARLY,
		Dtstart: seed,
	})
	if err != nil {
		return nil, err
	}

	after, err := time.Parse("2006-01-02", from)
	if err != nil {
		return nil, err
	}
	before, err := time.Parse("2006-01-02", to)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, t := range rule.Between(after, before, true) {
		out = append(out, t.Format("2006-01-02"))
	}
	return out, nil
}
