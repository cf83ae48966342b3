package engine

import (
	"context"
	"time"

	"github.com/placefeed/placefeed/internal/cache"
	"github.com/placefeed/placefeed/internal/geo"
	"github.com/placefeed/placefeed/internal/geocode"
	"github.com/placefeed/placefeed/internal/kv"
)

// CacheDiagnostics pairs a cache's counters with its validity flag.
type CacheDiagnostics struct {
	cache.StatsSnapshot
	Valid bool `json:"valid"`
}

// Diagnostics is the engine's introspection surface: read counts, hit and
// miss counters, and cache validity flags.
type Diagnostics struct {
	Reference   CacheDiagnostics      `json:"reference"`
	EventWindow CacheDiagnostics      `json:"event_window"`
	LoadedUntil time.Time             `json:"loaded_until"`
	Geocode     geocode.StatsSnapshot `json:"geocode"`
	Distances   int                   `json:"distance_entries"`
}

// Diagnostics reports the engine's current cache state. It never touches
// the remote store.
func (s *Service) Diagnostics() Diagnostics {
	return Diagnostics{
		Reference: CacheDiagnostics{
			StatsSnapshot: s.businesses.Stats(),
			Valid:         s.businesses.Valid(),
		},
		EventWindow: CacheDiagnostics{
			StatsSnapshot: s.events.Stats(),
			Valid:         s.events.Valid(),
		},
		LoadedUntil: s.events.LoadedUntil(),
		Geocode:     s.geocodes.Stats(),
		Distances:   s.distances.Len(),
	}
}

// ClearAll drops every cache, in memory and in the durable device store.
// Used on logout and in test setup.
func (s *Service) ClearAll(ctx context.Context) {
	s.businesses.Clear()
	s.events.Clear()
	s.geocodes.Clear(ctx)
	s.distances.Clear(ctx)
	s.logger.Info("all caches cleared")
}

// ForceRefreshAll discards the in-memory feed caches and reloads them from
// the remote store. The geocode and distance caches survive: addresses and
// geometry do not go stale on a feed refresh.
func (s *Service) ForceRefreshAll(ctx context.Context) error {
	if _, err := s.businesses.ForceRefresh(ctx); err != nil {
		return err
	}
	s.events.Clear()
	_, err := s.events.Get(ctx)
	return err
}

// MapCenter returns the persisted map-center preference. ok is false when
// none is set.
func (s *Service) MapCenter(ctx context.Context) (geo.Coordinate, bool) {
	if s.prefs == nil {
		return geo.Coordinate{}, false
	}
	var coord geo.Coordinate
	ok, err := s.prefs.Get(ctx, kv.KeyMapCenter, &coord)
	if err != nil {
		s.logger.Warn("failed to read map center", "error", err)
		return geo.Coordinate{}, false
	}
	return coord, ok
}

// SetMapCenter persists the map-center preference.
func (s *Service) SetMapCenter(ctx context.Context, coord geo.Coordinate) error {
	if s.prefs == nil {
		return nil
	}
	return s.prefs.Set(ctx, kv.KeyMapCenter, coord)
}

// LocationFilterEnabled reads the location-filter preference. The filter
// defaults to enabled when the flag has never been set.
func (s *Service) LocationFilterEnabled(ctx context.Context) bool {
	if s.prefs == nil {
		return true
	}
	var enabled bool
	ok, err := s.prefs.Get(ctx, kv.KeyLocationFilterEnabled, &enabled)
	if err != nil {
		s.logger.Warn("failed to read location filter flag", "error", err)
		return true
	}
	if !ok {
		return true
	}
	return enabled
}

// SetLocationFilterEnabled persists the location-filter preference.
func (s *Service) SetLocationFilterEnabled(ctx context.Context, enabled bool) error {
	if s.prefs == nil {
		return nil
	}
	return s.prefs.Set(ctx, kv.KeyLocationFilterEnabled, enabled)
}
