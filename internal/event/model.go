// Package event defines the upcoming-event records served by the discovery
// engine's window cache.
package event

import (
	"sort"
	"time"
)

// Record is a single upcoming event. BusinessID references a business
// record but does not imply ownership; the event window cache owns event
// records, the reference cache owns businesses.
type Record struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Date       time.Time `json:"date"`
	Tags       []string  `json:"tags,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	return out
}

// CloneAll returns deep copies of all records.
func CloneAll(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// SortByDate sorts records ascending by date in place, breaking ties by ID
// so ordering is deterministic.
func SortByDate(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Date.Equal(records[j].Date) {
			return records[i].ID < records[j].ID
		}
		return records[i].Date.Before(records[j].Date)
	})
}

// MaxDate returns the latest event date among the records, or the zero time
// if the slice is empty.
func MaxDate(records []Record) time.Time {
	var max time.Time
	for _, r := range records {
		if r.Date.After(max) {
			max = r.Date
		}
	}
	return max
}
