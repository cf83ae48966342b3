// Package geocode resolves free-text business addresses to coordinates,
// fronting the geocoding collaborator with a long-lived persistent cache.
package geocode

import (
	"context"
	"strings"

	"github.com/placefeed/placefeed/internal/geo"
)

// Geocoder is the external geocoding collaborator. Implementations convert
// a free-text address to a coordinate; the caller bounds the call with a
// context deadline.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Coordinate, error)
}

// Normalize canonicalizes a free-text address for use as a cache key:
// trimmed, lowercased, internal whitespace collapsed, and comma spacing
// normalized to ", ". Two addresses that differ only in casing or spacing
// share one cache entry.
func Normalize(address string) string {
	lower := strings.ToLower(strings.TrimSpace(address))
	if lower == "" {
		return ""
	}

	parts := strings.Split(lower, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, ", ")
}
