// Package engine wires the discovery engine's caches, filters, and
// collaborators behind one service surface. The display layer talks only
// to this package; all cache ownership lives here rather than in
// package-scoped singletons, so tests and multi-tenant hosts can construct
// isolated engines.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/placefeed/placefeed/internal/business"
	"github.com/placefeed/placefeed/internal/cache"
	"github.com/placefeed/placefeed/internal/event"
	"github.com/placefeed/placefeed/internal/geo"
	"github.com/placefeed/placefeed/internal/geocode"
	"github.com/placefeed/placefeed/internal/kv"
	"github.com/placefeed/placefeed/internal/location"
	"github.com/placefeed/placefeed/internal/metrics"
	"github.com/placefeed/placefeed/internal/spatial"
	"github.com/placefeed/placefeed/internal/store"
)

// Service is the engine facade. Construct it with NewService; the zero
// value is not usable.
type Service struct {
	businesses *cache.ReferenceCache
	events     *cache.EventWindowCache
	geocodes   *geocode.Cache
	distances  *spatial.DistanceCache
	filter     *spatial.Filter
	loc        *location.Source
	prefs      kv.Store
	eventStore store.EventStore
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Deps are the collaborators a Service is built from. EventStore and
// BusinessStore are required; everything else degrades gracefully when
// absent.
type Deps struct {
	BusinessStore store.BusinessStore
	EventStore    store.EventStore
	Geocoder      geocode.Geocoder
	Location      location.Provider

	// Device is the durable per-device store backing the geocode cache,
	// the distance cache, the last-known location, and the preference
	// flags. May be nil; everything then lives for the process only.
	Device kv.Store

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Observer receives failures from fire-and-forget device writes. When
	// nil, failures are logged (and counted when Metrics is set).
	Observer kv.WriteObserver

	ReferenceTTL  time.Duration
	WindowTTL     time.Duration
	TargetCount   int
	MaxIterations int
	BatchSize     int
	EpsilonMeters float64
	GeocodeOpts   []geocode.Option
}

// NewService builds a fully wired engine.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observer := d.Observer
	if observer == nil {
		logObs := kv.LogWriteObserver(logger)
		m := d.Metrics
		observer = func(key string, err error) {
			logObs(key, err)
			if m != nil {
				m.IncBackgroundWriteError(key)
			}
		}
	}

	refTTL := d.ReferenceTTL
	if refTTL <= 0 {
		refTTL = cache.DefaultReferenceTTL
	}
	winTTL := d.WindowTTL
	if winTTL <= 0 {
		winTTL = cache.DefaultWindowTTL
	}
	target := d.TargetCount
	if target <= 0 {
		target = cache.DefaultTargetCount
	}
	iterations := d.MaxIterations
	if iterations <= 0 {
		iterations = cache.DefaultMaxIterations
	}

	geocodeOpts := []geocode.Option{geocode.WithWriteObserver(observer)}
	if d.Metrics != nil {
		geocodeOpts = append(geocodeOpts, geocode.WithResolutionObserver(d.Metrics.IncGeocodeResolution))
	}
	geocodeOpts = append(geocodeOpts, d.GeocodeOpts...)
	geocodes := geocode.NewCache(d.Geocoder, d.Device, logger, geocodeOpts...)

	distanceOpts := []spatial.DistanceOption{spatial.WithDistanceWriteObserver(observer)}
	if d.EpsilonMeters > 0 {
		distanceOpts = append(distanceOpts, spatial.WithEpsilonMeters(d.EpsilonMeters))
	}
	distances := spatial.NewDistanceCache(d.Device, logger, distanceOpts...)

	filterOpts := []spatial.FilterOption{}
	if d.BatchSize > 0 {
		filterOpts = append(filterOpts, spatial.WithBatchSize(d.BatchSize))
	}
	if d.Metrics != nil {
		filterOpts = append(filterOpts, spatial.WithDistanceObserver(d.Metrics.IncDistanceResult))
	}

	businesses := cache.NewReferenceCache(d.BusinessStore, refTTL, logger)
	events := cache.NewEventWindowCache(d.EventStore, winTTL, target, iterations, logger)
	if d.Metrics != nil {
		businesses.Instrument(d.Metrics, metrics.CacheReference, "businesses")
		events.Instrument(d.Metrics, metrics.CacheWindow, "events")
	}

	return &Service{
		businesses: businesses,
		events:     events,
		geocodes:   geocodes,
		distances:  distances,
		filter:     spatial.NewFilter(geocodes, distances, logger, filterOpts...),
		loc:        location.NewSource(d.Location, d.Device, logger, observer),
		prefs:      d.Device,
		eventStore: d.EventStore,
		logger:     logger,
		metrics:    d.Metrics,
	}
}

// Feed is the combined load result consumed by the display layer.
type Feed struct {
	Events     []event.Record    `json:"events"`
	Businesses []business.Record `json:"businesses"`
}

// LoadOptions parameterize CombinedLoad. Any non-zero option bypasses the
// caches: a parameterized one-off query is assumed non-repeating and not
// worth caching cost.
type LoadOptions struct {
	ForcedDate *time.Time
	StartDate  *time.Time
	EndDate    *time.Time
	BusinessID string
}

// bypass reports whether any option is set.
func (o LoadOptions) bypass() bool {
	return o.ForcedDate != nil || o.StartDate != nil || o.EndDate != nil || o.BusinessID != ""
}

// CombinedLoad returns the event feed plus the businesses they reference.
// With no options it serves the cached, progressively loaded feed; with
// any option set it queries the remote store directly.
func (s *Service) CombinedLoad(ctx context.Context, opts LoadOptions) (Feed, error) {
	businesses, err := s.businesses.Get(ctx)
	if err != nil {
		return Feed{}, err
	}

	var events []event.Record
	if opts.bypass() {
		events, err = s.directQuery(ctx, opts)
	} else {
		events, err = s.events.Get(ctx)
	}
	if err != nil {
		return Feed{}, err
	}
	return Feed{Events: events, Businesses: businesses}, nil
}

// LoadMore extends the cached event window by another target-count batch
// and returns the full window.
func (s *Service) LoadMore(ctx context.Context) ([]event.Record, error) {
	return s.events.Extend(ctx, 0)
}

// LightweightRefresh checks for events newer than the cached window's
// high-water mark and merges them. It returns true when anything new
// arrived.
func (s *Service) LightweightRefresh(ctx context.Context) (bool, error) {
	start := time.Now()
	changed, err := s.events.LightweightRefresh(ctx)
	if s.metrics != nil {
		s.metrics.ObserveRefreshDuration(metrics.CacheWindow, time.Since(start).Seconds())
	}
	return changed, err
}

// FilterByDistance keeps only events whose business lies within
// maxDistanceKm of the reference point. ref may be nil: the device
// location (current or last-known) is used instead, and with no usable
// reference point the input is returned unfiltered. A disabled
// location-filter preference also short-circuits to unfiltered.
func (s *Service) FilterByDistance(ctx context.Context, events []event.Record, maxDistanceKm float64, ref *geo.Coordinate) ([]event.Record, error) {
	if maxDistanceKm <= 0 {
		return events, nil
	}
	if ref == nil {
		if !s.LocationFilterEnabled(ctx) {
			return events, nil
		}
		if coord, ok := s.loc.Reference(ctx); ok {
			ref = &coord
		} else {
			// Degraded mode, not an error.
			s.logger.Debug("no reference point available, serving unfiltered")
			return events, nil
		}
	}

	businesses, err := s.businesses.Get(ctx)
	if err != nil {
		// Distance filtering needs addresses; without any business data
		// the honest answer is the unfiltered feed.
		s.logger.Warn("business data unavailable for distance filter", "error", err)
		return events, nil
	}
	return s.filter.ByDistance(ctx, events, businesses, maxDistanceKm, ref)
}

// directQuery hits the remote store for a parameterized one-off load.
func (s *Service) directQuery(ctx context.Context, opts LoadOptions) ([]event.Record, error) {
	if opts.BusinessID != "" {
		events, err := s.eventStore.FetchByBusiness(ctx, opts.BusinessID)
		if err != nil {
			return nil, err
		}
		return filterByDateRange(events, opts), nil
	}

	start, end := queryRange(opts)
	return s.eventStore.FetchRange(ctx, start, end)
}

// queryRange resolves the date window for a direct query. A forced date
// means that single day; explicit bounds win otherwise, with open ends
// defaulting to today and one year out.
func queryRange(opts LoadOptions) (time.Time, time.Time) {
	if opts.ForcedDate != nil {
		day := dayStart(*opts.ForcedDate)
		return day, day.AddDate(0, 0, 1)
	}
	start := dayStart(time.Now().UTC())
	if opts.StartDate != nil {
		start = dayStart(*opts.StartDate)
	}
	end := start.AddDate(1, 0, 0)
	if opts.EndDate != nil {
		end = dayStart(*opts.EndDate).AddDate(0, 0, 1)
	}
	return start, end
}

// filterByDateRange applies any date options to an already-fetched slice.
func filterByDateRange(events []event.Record, opts LoadOptions) []event.Record {
	if opts.ForcedDate == nil && opts.StartDate == nil && opts.EndDate == nil {
		return events
	}
	start, end := queryRange(opts)
	out := make([]event.Record, 0, len(events))
	for _, ev := range events {
		if !ev.Date.Before(start) && ev.Date.Before(end) {
			out = append(out, ev)
		}
	}
	return out
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
