// Package business defines the business reference records served by the
// discovery engine.
package business

import (
	"time"

	"github.com/placefeed/placefeed/internal/geo"
)

// Record is a business reference record. Records handed out by the caches
// are copies; callers may read them freely but mutations never propagate
// back into a cache.
type Record struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Address   string          `json:"address"`
	Coord     *geo.Coordinate `json:"coord,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.Coord != nil {
		coord := *r.Coord
		out.Coord = &coord
	}
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

// ByID builds an ID-keyed lookup over the given records.
func ByID(records []Record) map[string]Record {
	m := make(map[string]Record, len(records))
	for _, r := range records {
		m[r.ID] = r
	}
	return m
}
