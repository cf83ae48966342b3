// Package cache implements the discovery engine's in-process caches: the
// full-snapshot business reference cache and the progressive, date-windowed
// event cache with its delta refresh checker.
//
// Both caches publish immutable envelopes through an atomic pointer swap.
// A refresh builds a complete new envelope and only then replaces the
// current one, so concurrent readers always observe either the pre- or
// post-refresh snapshot, never partial state. There is no refresh lock;
// concurrent callers may each trigger a redundant fetch, which wastes a
// read but cannot corrupt the cache.
package cache

import "time"

// Envelope wraps one cache generation: the data, when it was cached, how
// long it stays fresh, and the watermark used for delta refresh. Envelopes
// are never mutated after publication.
type Envelope[T any] struct {
	Data      T
	CachedAt  time.Time
	TTL       time.Duration
	Watermark time.Time
}

// Stale reports whether the envelope's TTL has elapsed at the given
// instant. A stale envelope must be revalidated before being trusted as
// current, but may still be served when revalidation fails.
func (e *Envelope[T]) Stale(now time.Time) bool {
	return now.Sub(e.CachedAt) >= e.TTL
}

// dayStart truncates an instant to midnight in its own location.
func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
