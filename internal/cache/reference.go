package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/placefeed/placefeed/internal/business"
	"github.com/placefeed/placefeed/internal/store"
)

// DefaultReferenceTTL is how long a business snapshot is trusted before
// the next Get revalidates it against the remote store.
const DefaultReferenceTTL = 6 * time.Hour

// ReferenceCache holds the full business reference set. The first Get
// performs a full fetch; once the snapshot goes stale, subsequent Gets
// fetch only records updated after the stored watermark and upsert them by
// ID. Remote failures fall back to whatever snapshot exists.
type ReferenceCache struct {
	store  store.BusinessStore
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	env   atomic.Pointer[Envelope[[]business.Record]]
	stats Stats
}

// NewReferenceCache creates a reference cache over the given store. A
// non-positive ttl selects DefaultReferenceTTL.
func NewReferenceCache(bs store.BusinessStore, ttl time.Duration, logger *slog.Logger) *ReferenceCache {
	if ttl <= 0 {
		ttl = DefaultReferenceTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferenceCache{
		store:  bs,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the full business set.
//
// A valid snapshot is returned with zero remote calls. A stale snapshot
// triggers a watermark delta fetch merged by ID. No snapshot triggers a
// full fetch. When the remote store fails, any existing snapshot (stale or
// not) is served; with no snapshot the failure propagates.
func (c *ReferenceCache) Get(ctx context.Context) ([]business.Record, error) {
	now := c.now()
	env := c.env.Load()

	if env != nil && !env.Stale(now) {
		c.stats.RecordHit()
		return business.CloneAll(env.Data), nil
	}
	c.stats.RecordMiss()

	if env == nil {
		return c.fullFetch(ctx, now)
	}
	return c.deltaRefresh(ctx, env, now)
}

// ForceRefresh revalidates immediately regardless of TTL, using the delta
// path when a snapshot exists. Remote failure serves the existing snapshot.
func (c *ReferenceCache) ForceRefresh(ctx context.Context) ([]business.Record, error) {
	now := c.now()
	env := c.env.Load()
	if env == nil {
		return c.fullFetch(ctx, now)
	}
	return c.deltaRefresh(ctx, env, now)
}

// Clear drops the snapshot. The next Get performs a full fetch.
func (c *ReferenceCache) Clear() {
	c.env.Store(nil)
}

// Valid reports whether a non-stale snapshot currently exists.
func (c *ReferenceCache) Valid() bool {
	env := c.env.Load()
	return env != nil && !env.Stale(c.now())
}

// Stats returns a snapshot of the cache's outcome counters.
func (c *ReferenceCache) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// Instrument exports the cache's outcome counters through rec, labeling
// lookups with cacheName and remote reads with collection. Call before the
// cache serves requests.
func (c *ReferenceCache) Instrument(rec Recorder, cacheName, collection string) {
	c.stats.Bind(rec, cacheName, collection)
}

func (c *ReferenceCache) fullFetch(ctx context.Context, now time.Time) ([]business.Record, error) {
	c.stats.RecordRemoteReads(1)
	records, err := c.store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reference cache full fetch: %w", err)
	}

	c.publish(records, now)
	c.logger.Debug("reference cache populated", "businesses", len(records))
	return business.CloneAll(records), nil
}

func (c *ReferenceCache) deltaRefresh(ctx context.Context, env *Envelope[[]business.Record], now time.Time) ([]business.Record, error) {
	c.stats.RecordRemoteReads(1)
	changed, err := c.store.FetchUpdatedAfter(ctx, env.Watermark)
	if err != nil {
		// Serve stale rather than failing a caller that has data to show.
		c.stats.RecordStaleServe()
		c.logger.Warn("reference delta refresh failed, serving stale snapshot", "error", err)
		return business.CloneAll(env.Data), nil
	}

	merged := upsertByID(env.Data, changed)
	c.publish(merged, now)
	if len(changed) > 0 {
		c.logger.Debug("reference cache delta refreshed", "changed", len(changed), "total", len(merged))
	}
	return business.CloneAll(merged), nil
}

func (c *ReferenceCache) publish(records []business.Record, now time.Time) {
	c.env.Store(&Envelope[[]business.Record]{
		Data:      records,
		CachedAt:  now,
		TTL:       c.ttl,
		Watermark: now,
	})
}

// upsertByID merges changed records into base: replace on matching ID,
// append otherwise. base is not mutated; the result is a fresh slice for
// copy-on-write publication.
func upsertByID(base, changed []business.Record) []business.Record {
	merged := make([]business.Record, len(base), len(base)+len(changed))
	copy(merged, base)

	index := make(map[string]int, len(merged))
	for i, rec := range merged {
		index[rec.ID] = i
	}
	for _, rec := range changed {
		if i, ok := index[rec.ID]; ok {
			merged[i] = rec
		} else {
			index[rec.ID] = len(merged)
			merged = append(merged, rec)
		}
	}
	return merged
}
