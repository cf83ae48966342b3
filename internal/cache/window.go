package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/placefeed/placefeed/internal/event"
	"github.com/placefeed/placefeed/internal/store"
)

// Defaults for the event window cache.
const (
	// DefaultWindowTTL is how long a loaded event window is trusted.
	DefaultWindowTTL = 2 * time.Hour

	// DefaultTargetCount is how many forward-looking events a Get aims to
	// have on hand.
	DefaultTargetCount = 20

	// DefaultMaxIterations bounds the probe-then-fetch loop so a pathological
	// calendar cannot turn one Get into an unbounded read storm.
	DefaultMaxIterations = 10
)

// windowState is one published generation of the event window: the
// accumulated events plus the exclusive loaded-until day boundary.
type windowState struct {
	Envelope[[]event.Record]
	LoadedUntil time.Time
}

// EventWindowCache progressively loads upcoming events. Instead of fixed
// date-range pagination (wasteful on sparse calendars) or one unbounded
// all-future query (unpredictable on dense ones), it probes for the next
// populated date and fetches exactly that day, repeating until it has
// enough events or hits the iteration ceiling.
//
// The loaded-until boundary only moves forward within a process lifetime,
// which is what lets Extend guarantee it never re-fetches a scanned range
// or duplicates an event.
type EventWindowCache struct {
	store         store.EventStore
	ttl           time.Duration
	targetCount   int
	maxIterations int
	logger        *slog.Logger
	now           func() time.Time

	state atomic.Pointer[windowState]
	stats Stats
}

// NewEventWindowCache creates an event window cache over the given store.
// Non-positive parameters select the package defaults.
func NewEventWindowCache(es store.EventStore, ttl time.Duration, targetCount, maxIterations int, logger *slog.Logger) *EventWindowCache {
	if ttl <= 0 {
		ttl = DefaultWindowTTL
	}
	if targetCount <= 0 {
		targetCount = DefaultTargetCount
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventWindowCache{
		store:         es,
		ttl:           ttl,
		targetCount:   targetCount,
		maxIterations: maxIterations,
		logger:        logger,
		now:           time.Now,
	}
}

// Get returns a sufficient forward-looking set of upcoming events, sorted
// ascending by date. A valid window is returned with zero remote calls; a
// stale or absent window is rebuilt from today. A stale rebuild keeps
// scanning until it has re-covered the previous loaded-until boundary, so
// ground an earlier Extend scanned never drops out of the window. When the
// rebuild fails and a previous window exists, the stale window is served
// instead.
func (c *EventWindowCache) Get(ctx context.Context) ([]event.Record, error) {
	now := c.now()
	st := c.state.Load()

	if st != nil && !st.Stale(now) {
		c.stats.RecordHit()
		return event.CloneAll(st.Data), nil
	}
	c.stats.RecordMiss()

	loaded, loadedUntil, exhausted, err := c.loadForward(ctx, dayStart(now), c.targetCount, prevLoadedUntil(st))
	if err != nil {
		if st != nil {
			c.stats.RecordStaleServe()
			c.logger.Warn("event window reload failed, serving stale window", "error", err)
			return event.CloneAll(st.Data), nil
		}
		return nil, fmt.Errorf("event window load: %w", err)
	}

	// The iteration ceiling can stop a stale rebuild short of the previous
	// boundary. The published boundary still claims that range, so the old
	// window's tail past the re-scanned ground is kept rather than lost.
	if st != nil && !exhausted && loadedUntil.Before(st.LoadedUntil) {
		loaded = retainTail(loaded, st.Data, loadedUntil)
		event.SortByDate(loaded)
	}

	c.publish(st, loaded, loadedUntil, now)
	c.logger.Debug("event window loaded", "events", len(loaded), "loaded_until", loadedUntil)
	return event.CloneAll(loaded), nil
}

// Extend loads at least additionalCount more events past the current
// loaded-until boundary and returns the combined window. Because the scan
// resumes exactly at the boundary, already-scanned ranges are never
// re-fetched and no event appears twice across successive extends.
func (c *EventWindowCache) Extend(ctx context.Context, additionalCount int) ([]event.Record, error) {
	if additionalCount <= 0 {
		additionalCount = c.targetCount
	}

	st := c.state.Load()
	if st == nil {
		return c.Get(ctx)
	}

	cursor := st.LoadedUntil
	if cursor.IsZero() {
		cursor = dayStart(c.now())
	}

	loaded, loadedUntil, _, err := c.loadForward(ctx, cursor, additionalCount, time.Time{})
	if err != nil {
		c.stats.RecordStaleServe()
		c.logger.Warn("event window extend failed, serving existing window", "error", err)
		return event.CloneAll(st.Data), nil
	}

	combined := append(event.CloneAll(st.Data), loaded...)
	c.publishExtend(st, combined, loadedUntil)
	if len(loaded) > 0 {
		c.logger.Debug("event window extended", "added", len(loaded), "total", len(combined))
	}
	return event.CloneAll(combined), nil
}

// LightweightRefresh reports whether anything changed past the cached
// window, at minimal remote cost. Against an unchanged store it issues
// exactly one read (a limit-1 probe above the cached high-water mark).
// When newer events exist they are fetched and appended; being strictly
// newer than every cached event, no dedup against existing IDs is needed.
func (c *EventWindowCache) LightweightRefresh(ctx context.Context) (bool, error) {
	st := c.state.Load()
	if st == nil {
		if _, err := c.Get(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	highWater := event.MaxDate(st.Data)

	c.stats.RecordRemoteReads(1)
	_, ok, err := c.store.ProbeAfter(ctx, highWater)
	if err != nil {
		c.stats.RecordStaleServe()
		c.logger.Warn("refresh probe failed, keeping existing window", "error", err)
		return false, nil
	}
	if !ok {
		return false, nil
	}

	c.stats.RecordRemoteReads(1)
	newer, err := c.store.FetchAfter(ctx, highWater)
	if err != nil {
		c.stats.RecordStaleServe()
		c.logger.Warn("refresh fetch failed, keeping existing window", "error", err)
		return false, nil
	}
	if len(newer) == 0 {
		return false, nil
	}

	combined := append(event.CloneAll(st.Data), newer...)
	boundary := dayStart(event.MaxDate(newer)).Add(24 * time.Hour)
	c.publish(st, combined, boundary, c.now())
	c.logger.Debug("event window refreshed", "merged", len(newer), "total", len(combined))
	return true, nil
}

// Events returns the currently cached window without touching the remote
// store, and whether a window exists at all.
func (c *EventWindowCache) Events() ([]event.Record, bool) {
	st := c.state.Load()
	if st == nil {
		return nil, false
	}
	return event.CloneAll(st.Data), true
}

// LoadedUntil returns the exclusive day boundary the window has been
// scanned through, or the zero time when no window exists.
func (c *EventWindowCache) LoadedUntil() time.Time {
	if st := c.state.Load(); st != nil {
		return st.LoadedUntil
	}
	return time.Time{}
}

// Clear drops the window. The next Get rebuilds from today.
func (c *EventWindowCache) Clear() {
	c.state.Store(nil)
}

// Valid reports whether a non-stale window currently exists.
func (c *EventWindowCache) Valid() bool {
	st := c.state.Load()
	return st != nil && !st.Stale(c.now())
}

// Stats returns a snapshot of the cache's outcome counters.
func (c *EventWindowCache) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// Instrument exports the cache's outcome counters through rec, labeling
// lookups with cacheName and remote reads with collection. Call before the
// cache serves requests.
func (c *EventWindowCache) Instrument(rec Recorder, cacheName, collection string) {
	c.stats.Bind(rec, cacheName, collection)
}

// loadForward runs the probe-then-fetch loop: find the next populated date
// at or after cursor, fetch that whole day, advance the cursor past it,
// and stop once target events have accumulated and the cursor has reached
// scanThrough, the calendar is exhausted, or the iteration ceiling is
// reached. loadedUntil is the exclusive end of the last fetched day, or
// zero when nothing was scanned. exhausted reports that the store holds no
// events at or after the final cursor position.
func (c *EventWindowCache) loadForward(ctx context.Context, cursor time.Time, target int, scanThrough time.Time) ([]event.Record, time.Time, bool, error) {
	var (
		accumulated []event.Record
		loadedUntil time.Time
		exhausted   bool
	)

	for i := 0; i < c.maxIterations; i++ {
		c.stats.RecordRemoteReads(1)
		date, ok, err := c.store.ProbeNextDate(ctx, cursor)
		if err != nil {
			return nil, time.Time{}, false, fmt.Errorf("probe next event date: %w", err)
		}
		if !ok {
			exhausted = true
			break
		}

		day := dayStart(date)
		dayEnd := day.Add(24 * time.Hour)

		c.stats.RecordRemoteReads(1)
		batch, err := c.store.FetchRange(ctx, day, dayEnd)
		if err != nil {
			return nil, time.Time{}, false, fmt.Errorf("fetch events for %s: %w", day.Format("2006-01-02"), err)
		}

		accumulated = append(accumulated, batch...)
		loadedUntil = dayEnd
		cursor = dayEnd

		if len(accumulated) >= target && !cursor.Before(scanThrough) {
			break
		}
	}

	event.SortByDate(accumulated)
	return accumulated, loadedUntil, exhausted, nil
}

// retainTail appends the events from prev dated at or past cutoff that the
// rebuilt set does not already carry. A rescheduled event can appear in
// both slices under one ID; the rebuilt copy wins.
func retainTail(rebuilt, prev []event.Record, cutoff time.Time) []event.Record {
	seen := make(map[string]struct{}, len(rebuilt))
	for _, e := range rebuilt {
		seen[e.ID] = struct{}{}
	}
	for _, e := range prev {
		if e.Date.Before(cutoff) {
			continue
		}
		if _, ok := seen[e.ID]; ok {
			continue
		}
		rebuilt = append(rebuilt, e.Clone())
	}
	return rebuilt
}

// publish installs a new window generation with a fresh CachedAt. The
// loaded-until boundary never regresses below the previous generation's.
func (c *EventWindowCache) publish(prev *windowState, events []event.Record, loadedUntil, now time.Time) {
	c.state.Store(&windowState{
		Envelope: Envelope[[]event.Record]{
			Data:      events,
			CachedAt:  now,
			TTL:       c.ttl,
			Watermark: event.MaxDate(events),
		},
		LoadedUntil: maxTime(prevLoadedUntil(prev), loadedUntil),
	})
}

// publishExtend installs an extended window while keeping the previous
// CachedAt: extending scans new ground but does not revalidate the old.
func (c *EventWindowCache) publishExtend(prev *windowState, events []event.Record, loadedUntil time.Time) {
	c.state.Store(&windowState{
		Envelope: Envelope[[]event.Record]{
			Data:      events,
			CachedAt:  prev.CachedAt,
			TTL:       c.ttl,
			Watermark: event.MaxDate(events),
		},
		LoadedUntil: maxTime(prev.LoadedUntil, loadedUntil),
	})
}

func prevLoadedUntil(prev *windowState) time.Time {
	if prev == nil {
		return time.Time{}
	}
	return prev.LoadedUntil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
