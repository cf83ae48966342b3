package spatial

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/placefeed/placefeed/internal/geo"
	"github.com/placefeed/placefeed/internal/kv"
)

// Defaults for the distance cache.
const (
	// DefaultEpsilonMeters bounds how far the caller's reference point may
	// drift from an entry's stored reference point before the entry is
	// treated as absent. Measured with the cheap planar approximation.
	DefaultEpsilonMeters = 500.0

	// DefaultMaxEntries caps the cache; the oldest entries are evicted
	// beyond it.
	DefaultMaxEntries = 1000
)

// DistanceEntry memoizes one subject-to-reference-point distance. The entry
// only applies to reference points within the epsilon of the stored one.
type DistanceEntry struct {
	SubjectID  string    `json:"subject_id"`
	RefLat     float64   `json:"ref_lat"`
	RefLng     float64   `json:"ref_lng"`
	DistanceKm float64   `json:"distance_km"`
	CachedAt   time.Time `json:"cached_at"`
}

// DistanceCache memoizes subject-to-reference-point distances, scoped by
// reference-point proximity. Moving more than the epsilon invalidates
// nothing; entries simply stop applying until the caller returns near the
// point they were computed against.
type DistanceCache struct {
	store    kv.Store
	epsilon  float64
	max      int
	logger   *slog.Logger
	now      func() time.Time
	observer kv.WriteObserver

	mu      sync.Mutex
	entries map[string]DistanceEntry
	order   []string // subject IDs in insertion order, oldest first
}

// DistanceOption configures a DistanceCache.
type DistanceOption func(*DistanceCache)

// WithEpsilonMeters overrides the reference-point applicability radius.
func WithEpsilonMeters(m float64) DistanceOption {
	return func(c *DistanceCache) {
		if m > 0 {
			c.epsilon = m
		}
	}
}

// WithDistanceMaxEntries overrides the entry cap.
func WithDistanceMaxEntries(n int) DistanceOption {
	return func(c *DistanceCache) {
		if n > 0 {
			c.max = n
		}
	}
}

// WithDistanceWriteObserver installs an observer for background
// persistence failures.
func WithDistanceWriteObserver(obs kv.WriteObserver) DistanceOption {
	return func(c *DistanceCache) {
		if obs != nil {
			c.observer = obs
		}
	}
}

// NewDistanceCache creates a distance cache. store may be nil, in which
// case entries live only for the process lifetime. A persisted snapshot is
// loaded immediately; a corrupt snapshot is an ordinary miss.
func NewDistanceCache(store kv.Store, logger *slog.Logger, opts ...DistanceOption) *DistanceCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &DistanceCache{
		store:   store,
		epsilon: DefaultEpsilonMeters,
		max:     DefaultMaxEntries,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]DistanceEntry),
	}
	c.observer = kv.LogWriteObserver(logger)
	for _, opt := range opts {
		opt(c)
	}
	c.loadSnapshot()
	return c
}

// Lookup returns the memoized distance from ref to the subject. ok is
// false when there is no entry or the entry's stored reference point is
// farther than the epsilon from ref.
func (c *DistanceCache) Lookup(subjectID string, ref geo.Coordinate) (float64, bool) {
	c.mu.Lock()
	entry, ok := c.entries[subjectID]
	c.mu.Unlock()
	if !ok {
		return 0, false
	}
	stored := geo.Coordinate{Lat: entry.RefLat, Lng: entry.RefLng}
	if geo.PlanarDistanceMeters(stored, ref) > c.epsilon {
		return 0, false
	}
	return entry.DistanceKm, true
}

// Record stores a freshly computed distance, replacing any previous entry
// for the subject, and persists the snapshot without blocking the caller.
func (c *DistanceCache) Record(subjectID string, ref geo.Coordinate, distanceKm float64) {
	c.RecordAll([]DistanceEntry{{
		SubjectID:  subjectID,
		RefLat:     ref.Lat,
		RefLng:     ref.Lng,
		DistanceKm: distanceKm,
	}})
}

// RecordAll stores a batch of freshly computed distances with a single
// snapshot persist.
func (c *DistanceCache) RecordAll(batch []DistanceEntry) {
	if len(batch) == 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	for _, entry := range batch {
		if entry.SubjectID == "" {
			continue
		}
		entry.CachedAt = now
		if _, exists := c.entries[entry.SubjectID]; !exists {
			c.order = append(c.order, entry.SubjectID)
		}
		c.entries[entry.SubjectID] = entry
	}
	for len(c.order) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snapshot)
}

// Len returns the number of cached entries.
func (c *DistanceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops all entries, in memory and in the durable store.
func (c *DistanceCache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]DistanceEntry)
	c.order = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(ctx, kv.KeyDistanceCache); err != nil {
			c.observer(kv.KeyDistanceCache, err)
		}
	}
}

func (c *DistanceCache) snapshotLocked() []DistanceEntry {
	out := make([]DistanceEntry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id])
	}
	return out
}

func (c *DistanceCache) persist(snapshot []DistanceEntry) {
	if c.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.store.Set(ctx, kv.KeyDistanceCache, snapshot); err != nil {
			c.observer(kv.KeyDistanceCache, err)
		}
	}()
}

func (c *DistanceCache) loadSnapshot() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var snapshot []DistanceEntry
	ok, err := c.store.Get(ctx, kv.KeyDistanceCache, &snapshot)
	if err != nil {
		c.logger.Warn("failed to load distance cache snapshot", "error", err)
		return
	}
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range snapshot {
		if entry.SubjectID == "" {
			continue
		}
		if _, exists := c.entries[entry.SubjectID]; !exists {
			c.order = append(c.order, entry.SubjectID)
		}
		c.entries[entry.SubjectID] = entry
	}
	c.logger.Debug("distance cache snapshot loaded", "entries", len(c.entries))
}
