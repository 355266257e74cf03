package web

import (
	"fmt"
	"net/http"
	"time"

	ics "github.com/arran4/golang-ical"

	"calshare/internal/auth"
	"calshare/internal/dates"
	appLog "calshare/internal/log"
)

// handleExportICS serves the whole collection as an iCalendar feed so the
// shared calendar can be subscribed to from ordinary calendar apps. Events
// are all-day; annual entries carry a yearly recurrence rule.
//
// GET /api/export.ics
func (s *Server) handleExportICS(w http.ResponseWriter, _ *http.Request, sess auth.Session) {
	events, err := s.store.Fetch()
	if err != nil {
		appLog.Error("ics export: fetch failed", err, "user", sess.Username)
		writeFailure(w, http.StatusInternalServerError, "Error reading events")
		return
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//calshare//EN")
	cal.SetName(s.settings.Title())

	now := time.Now().UTC()
	year := now.Year()
	for _, e := range events.Entries {
		start, err := time.Parse("2006-01-02", dates.ResolveToYear(e.StartDate, year))
		if err != nil {
			appLog.Warn("ics export: skipping entry with bad start date",
				"id", e.ID, "start", e.StartDate)
			continue
		}
		end, err := time.Parse("2006-01-02", dates.ResolveToYear(e.EndDate, year))
		if err != nil {
			appLog.Warn("ics export: skipping entry with bad end date",
				"id", e.ID, "end", e.EndDate)
			continue
		}

		ev := cal.AddEvent(fmt.Sprintf("%d@calshare", e.ID))
		ev.SetDtStampTime(now)
		ev.SetSummary(e.Title)
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		ev.SetAllDayStartAt(start)
		// DTEND is exclusive for all-day events.
		ev.SetAllDayEndAt(end.AddDate(0, 0, 1))
		if dates.IsAnnual(e.StartDate) {
			ev.AddRrule("FREQ=YEARLY")
		}
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	_, _ = w.Write([]byte(cal.Serialize()))
}
