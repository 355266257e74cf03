package model

import (
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// Event is a single calendar entry. Dates are stored as "YYYY-MM-DD"
// strings; a leading "0000" year marks an annual (recurring) date that is
// resolved to a concrete year only when queried or rendered.
type Event struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	// Timestamp is the RFC 3339 creation/last-modification instant and the
	// tie-breaker when two copies of the same entry meet in a merge.
	Timestamp string `json:"timestamp"`
}

// Collection is the whole shared document. Every write replaces it as one
// unit; there is no per-entry addressing on the wire.
type Collection struct {
	Entries []Event `json:"entries"`
}

// Lock is the advisory ownership record for the collection.
type Lock struct {
	Timestamp int64  `json:"timestamp"` // unix seconds
	User      string `json:"user"`
	SessionID string `json:"sessionId"`
}

// Age returns how long ago the lock was stamped.
func (l Lock) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(l.Timestamp, 0))
}

// EmptyCollection returns a collection with a non-nil, empty entries slice
// so that it serializes as {"entries":[]} rather than {"entries":null}.
func EmptyCollection() Collection {
	return Collection{Entries: []Event{}}
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	out := Collection{Entries: make([]Event, len(c.Entries))}
	copy(out.Entries, c.Entries)
	return out
}

// IndexOf returns the position of the entry with the given id, or -1.
func (c Collection) IndexOf(id int64) int {
	for i, e := range c.Entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Find returns the entry with the given id, if present.
func (c Collection) Find(id int64) (Event, bool) {
	if i := c.IndexOf(id); i >= 0 {
		return c.Entries[i], true
	}
	return Event{}, false
}

var idSeq atomic.Int64

// NewID generates an entry id that is unique across uncoordinated clients:
// millisecond time gives monotonicity, a per-process counter separates ids
// handed out in the same millisecond, and a random component separates
// independent processes generating ids concurrently.
func NewID() int64 {
	seq := idSeq.Add(1) % 1000
	return time.Now().UnixMilli()*1_000_000 + seq*1000 + rand.Int64N(1000)
}

// Now returns the current instant in the wire timestamp format. RFC 3339
// UTC timestamps compare lexicographically in time order, which the merge
// engine relies on.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
