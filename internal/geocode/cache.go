package geocode

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/placefeed/placefeed/internal/geo"
	"github.com/placefeed/placefeed/internal/kv"
)

// Defaults for the geocode cache.
const (
	// DefaultTTL is how long a resolved coordinate is trusted. Addresses
	// move rarely; a week keeps collaborator calls close to zero.
	DefaultTTL = 7 * 24 * time.Hour

	// DefaultMaxEntries caps the cache; the oldest entries are evicted
	// beyond it.
	DefaultMaxEntries = 300

	// DefaultTimeout bounds a single collaborator call.
	DefaultTimeout = 5 * time.Second
)

// Resolution outcomes reported to a ResolutionObserver.
const (
	ResolutionCached     = "cached"
	ResolutionResolved   = "resolved"
	ResolutionUnresolved = "unresolved"
)

// ResolutionObserver receives the outcome of each Resolve call.
// (*metrics.Metrics).IncGeocodeResolution satisfies it as a method value.
type ResolutionObserver func(outcome string)

// Entry is one cached resolution, keyed by the normalized address. Entries
// are persisted as a snapshot in the durable device store.
type Entry struct {
	Address  string         `json:"address"`
	Coord    geo.Coordinate `json:"coord"`
	CachedAt time.Time      `json:"cached_at"`
}

// Cache memoizes address resolutions. A hit within the TTL costs zero
// external calls; a miss invokes the collaborator under a bounded timeout.
// Failures and timeouts yield "unresolved", never an error: a business
// whose address cannot be resolved is simply excluded from distance
// features.
type Cache struct {
	geocoder   Geocoder
	store      kv.Store
	ttl        time.Duration
	timeout    time.Duration
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time
	observer   kv.WriteObserver
	resolution ResolutionObserver

	mu      sync.Mutex
	entries map[string]Entry
	order   []string // normalized keys in insertion order, oldest first

	lookups  int64
	hits     int64
	calls    int64
	failures int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxEntries overrides the entry cap.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithTimeout overrides the collaborator call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithWriteObserver installs an observer for background persistence
// failures.
func WithWriteObserver(obs kv.WriteObserver) Option {
	return func(c *Cache) {
		if obs != nil {
			c.observer = obs
		}
	}
}

// WithResolutionObserver installs an observer for resolution outcomes.
func WithResolutionObserver(obs ResolutionObserver) Option {
	return func(c *Cache) {
		if obs != nil {
			c.resolution = obs
		}
	}
}

// NewCache creates a geocode cache over the given collaborator. store may
// be nil, in which case resolutions live only for the process lifetime.
// Any persisted snapshot is loaded immediately; a corrupt snapshot is an
// ordinary miss.
func NewCache(geocoder Geocoder, store kv.Store, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		geocoder:   geocoder,
		store:      store,
		ttl:        DefaultTTL,
		timeout:    DefaultTimeout,
		maxEntries: DefaultMaxEntries,
		logger:     logger,
		now:        time.Now,
		entries:    make(map[string]Entry),
	}
	c.observer = kv.LogWriteObserver(logger)
	for _, opt := range opts {
		opt(c)
	}
	c.loadSnapshot()
	return c
}

// Resolve returns the coordinate for a free-text address. ok is false when
// the address cannot be resolved; that is a degraded outcome, not a
// failure.
func (c *Cache) Resolve(ctx context.Context, address string) (geo.Coordinate, bool) {
	key := Normalize(address)
	if key == "" {
		return geo.Coordinate{}, false
	}
	atomic.AddInt64(&c.lookups, 1)

	now := c.now()
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && now.Sub(entry.CachedAt) < c.ttl {
		atomic.AddInt64(&c.hits, 1)
		c.observeResolution(ResolutionCached)
		return entry.Coord, true
	}

	if c.geocoder == nil {
		c.observeResolution(ResolutionUnresolved)
		return geo.Coordinate{}, false
	}

	atomic.AddInt64(&c.calls, 1)
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	coord, err := c.geocoder.Geocode(callCtx, address)
	if err != nil {
		atomic.AddInt64(&c.failures, 1)
		c.observeResolution(ResolutionUnresolved)
		c.logger.Debug("address unresolved", "address", key, "error", err)
		return geo.Coordinate{}, false
	}

	c.insert(key, coord, now)
	c.observeResolution(ResolutionResolved)
	return coord, true
}

func (c *Cache) observeResolution(outcome string) {
	if c.resolution != nil {
		c.resolution(outcome)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the cache's cumulative counters.
func (c *Cache) Stats() StatsSnapshot {
	return StatsSnapshot{
		Lookups:           atomic.LoadInt64(&c.lookups),
		Hits:              atomic.LoadInt64(&c.hits),
		CollaboratorCalls: atomic.LoadInt64(&c.calls),
		Failures:          atomic.LoadInt64(&c.failures),
	}
}

// StatsSnapshot is a point-in-time view of geocode cache counters.
type StatsSnapshot struct {
	Lookups           int64 `json:"lookups"`
	Hits              int64 `json:"hits"`
	CollaboratorCalls int64 `json:"collaborator_calls"`
	Failures          int64 `json:"failures"`
}

// Clear drops all entries, in memory and in the durable store.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.order = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(ctx, kv.KeyGeocodeCache); err != nil {
			c.observer(kv.KeyGeocodeCache, err)
		}
	}
}

// insert stores a fresh resolution, evicting oldest entries beyond the
// cap, then persists the snapshot without blocking the caller.
func (c *Cache) insert(key string, coord geo.Coordinate, now time.Time) {
	c.mu.Lock()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = Entry{Address: key, Coord: coord, CachedAt: now}

	for len(c.order) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snapshot)
}

// snapshotLocked copies the entries in insertion order. Caller holds mu.
func (c *Cache) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.entries[key])
	}
	return out
}

// persist writes the snapshot to the durable store in the background.
func (c *Cache) persist(snapshot []Entry) {
	if c.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.store.Set(ctx, kv.KeyGeocodeCache, snapshot); err != nil {
			c.observer(kv.KeyGeocodeCache, err)
		}
	}()
}

// loadSnapshot restores the persisted cache, dropping entries already past
// the TTL so restart does not resurrect stale resolutions.
func (c *Cache) loadSnapshot() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var snapshot []Entry
	ok, err := c.store.Get(ctx, kv.KeyGeocodeCache, &snapshot)
	if err != nil {
		c.logger.Warn("failed to load geocode cache snapshot", "error", err)
		return
	}
	if !ok {
		return
	}

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range snapshot {
		if entry.Address == "" || now.Sub(entry.CachedAt) >= c.ttl {
			continue
		}
		if _, exists := c.entries[entry.Address]; !exists {
			c.order = append(c.order, entry.Address)
		}
		c.entries[entry.Address] = entry
	}
	c.logger.Debug("geocode cache snapshot loaded", "entries", len(c.entries))
}
