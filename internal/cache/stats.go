package cache

import "sync/atomic"

// Recorder receives cache outcomes for export to a metrics backend.
// *metrics.Metrics satisfies it.
type Recorder interface {
	IncCacheLookup(cache, outcome string)
	AddRemoteReads(collection string, n int64)
}

// Stats tracks cumulative cache outcome counters. All operations are
// thread-safe using atomic counters. A bound Recorder receives every
// outcome as it is recorded, so the diagnostics snapshot and the exported
// series never disagree.
type Stats struct {
	hits        int64
	misses      int64
	remoteReads int64
	staleServes int64

	rec        Recorder
	cacheName  string
	collection string
}

// Bind attaches a recorder. Must be called before the owning cache serves
// requests; the recorder fields are not synchronized.
func (s *Stats) Bind(rec Recorder, cacheName, collection string) {
	s.rec = rec
	s.cacheName = cacheName
	s.collection = collection
}

// RecordHit increments the hit counter.
func (s *Stats) RecordHit() {
	atomic.AddInt64(&s.hits, 1)
	if s.rec != nil {
		s.rec.IncCacheLookup(s.cacheName, "hit")
	}
}

// RecordMiss increments the miss counter.
func (s *Stats) RecordMiss() {
	atomic.AddInt64(&s.misses, 1)
	if s.rec != nil {
		s.rec.IncCacheLookup(s.cacheName, "miss")
	}
}

// RecordRemoteReads adds n remote reads to the counter.
func (s *Stats) RecordRemoteReads(n int64) {
	atomic.AddInt64(&s.remoteReads, n)
	if s.rec != nil {
		s.rec.AddRemoteReads(s.collection, n)
	}
}

// RecordStaleServe increments the stale-serve counter.
func (s *Stats) RecordStaleServe() {
	atomic.AddInt64(&s.staleServes, 1)
	if s.rec != nil {
		s.rec.IncCacheLookup(s.cacheName, "stale_serve")
	}
}

// Snapshot returns a point-in-time copy of all counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Hits:        atomic.LoadInt64(&s.hits),
		Misses:      atomic.LoadInt64(&s.misses),
		RemoteReads: atomic.LoadInt64(&s.remoteReads),
		StaleServes: atomic.LoadInt64(&s.staleServes),
	}
}

// Reset resets all counters to zero.
func (s *Stats) Reset() {
	atomic.StoreInt64(&s.hits, 0)
	atomic.StoreInt64(&s.misses, 0)
	atomic.StoreInt64(&s.remoteReads, 0)
	atomic.StoreInt64(&s.staleServes, 0)
}

// StatsSnapshot is a point-in-time view of cache counters, exposed through
// the diagnostics surface.
type StatsSnapshot struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	RemoteReads int64 `json:"remote_reads"`
	StaleServes int64 `json:"stale_serves"`
}
