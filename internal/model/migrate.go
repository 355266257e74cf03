package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// legacyEntry is the shape stored by early deployments, where the document
// was a map keyed by date string and entries carried no id or date range.
type legacyEntry struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author"`
	Timestamp   string `json:"timestamp"`
}

// Migrate parses a raw persisted document into the canonical Collection,
// accepting either the current {"entries":[...]} shape or the legacy
// date-keyed shape. Legacy entries get a synthesized id and both dates set
// to their date key. Running a migrated document through Migrate again
// returns it unchanged, so callers may apply it unconditionally on load.
func Migrate(raw []byte) (Collection, error) {
	if emptyDocument(raw) {
		return EmptyCollection(), nil
	}

	// Current shape first. json.Unmarshal ignores unknown keys, so probe for
	// the "entries" key explicitly before committing to this branch.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Collection{}, fmt.Errorf("parse events document: %w", err)
	}
	if entriesRaw, ok := probe["entries"]; ok {
		var entries []Event
		if err := json.Unmarshal(entriesRaw, &entries); err != nil {
			return Collection{}, fmt.Errorf("parse entries: %w", err)
		}
		if entries == nil {
			entries = []Event{}
		}
		return Collection{Entries: entries}, nil
	}

	// Legacy shape: map of "YYYY-MM-DD" -> bare entries.
	var legacy map[string][]legacyEntry
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return Collection{}, fmt.Errorf("parse legacy events document: %w", err)
	}

	out := EmptyCollection()
	dates := make([]string, 0, len(legacy))
	for date := range legacy {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	for _, date := range dates {
		for _, le := range legacy[date] {
			out.Entries = append(out.Entries, Event{
				ID:          NewID(),
				Title:       le.Title,
				Description: le.Description,
				Author:      le.Author,
				StartDate:   date,
				EndDate:     date,
				Timestamp:   le.Timestamp,
			})
		}
	}
	return out, nil
}

// emptyDocument reports whether raw holds no events at all. First-run
// stores were initialized to "[]", so a bare empty array counts too.
func emptyDocument(raw []byte) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "[]", "{}":
		return true
	}
	return false
}
