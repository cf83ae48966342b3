// Package spatial answers "what is near me" without recomputing distances
// on every pass. A bounding-box pre-filter rejects far candidates cheaply,
// the precise haversine formula runs only inside the box, and computed
// distances are memoized per reference point in a DistanceCache.
package spatial

import (
	"context"
	"log/slog"
	"runtime"
	"sort"

	"github.com/placefeed/placefeed/internal/business"
	"github.com/placefeed/placefeed/internal/event"
	"github.com/placefeed/placefeed/internal/geo"
)

// DefaultBatchSize is how many businesses are measured between cooperative
// yields during a filtering pass.
const DefaultBatchSize = 10

// Distance result paths reported to a DistanceObserver.
const (
	DistanceFromCache = "cache"
	DistanceComputed  = "computed"
)

// DistanceObserver receives the path each distance result came from.
// (*metrics.Metrics).IncDistanceResult satisfies it as a method value.
type DistanceObserver func(path string)

// Resolver turns a free-text address into a coordinate. Resolution
// failures are degraded outcomes, not errors.
type Resolver interface {
	Resolve(ctx context.Context, address string) (geo.Coordinate, bool)
}

// Filter applies a distance cutoff to an event feed. It consumes the
// geocode cache for businesses without stored coordinates and the distance
// cache to skip repeat computations.
type Filter struct {
	resolver  Resolver
	distances *DistanceCache
	batchSize int
	logger    *slog.Logger
	observe   DistanceObserver

	// haversine is swappable for call-counting in tests.
	haversine func(a, b geo.Coordinate) float64
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithBatchSize overrides how many businesses are processed between
// cooperative yields.
func WithBatchSize(n int) FilterOption {
	return func(f *Filter) {
		if n > 0 {
			f.batchSize = n
		}
	}
}

// WithDistanceObserver installs an observer for distance result paths.
func WithDistanceObserver(obs DistanceObserver) FilterOption {
	return func(f *Filter) {
		if obs != nil {
			f.observe = obs
		}
	}
}

// NewFilter creates a spatial filter. resolver may be nil, in which case
// businesses without stored coordinates are excluded from distance results.
func NewFilter(resolver Resolver, distances *DistanceCache, logger *slog.Logger, opts ...FilterOption) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Filter{
		resolver:  resolver,
		distances: distances,
		batchSize: DefaultBatchSize,
		logger:    logger,
		haversine: geo.Haversine,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ByDistance returns the events whose business lies within maxDistanceKm
// of ref. A zero or negative maxDistanceKm means "any distance" and a nil
// ref means no usable reference point; both return the input unchanged.
//
// Businesses whose address cannot be resolved are excluded, never failed
// on. Newly computed distances are persisted asynchronously; the call
// returns without waiting for the write.
func (f *Filter) ByDistance(ctx context.Context, events []event.Record, businesses []business.Record, maxDistanceKm float64, ref *geo.Coordinate) ([]event.Record, error) {
	if maxDistanceKm <= 0 || ref == nil {
		return events, nil
	}

	box := geo.NewBoundingBox(*ref, maxDistanceKm)
	byID := business.ByID(businesses)

	// Only businesses the input events actually reference are measured,
	// in ascending ID order so repeated passes behave identically.
	ids := referencedIDs(events)

	included := make(map[string]bool, len(ids))
	var computed []DistanceEntry

	for start := 0; start < len(ids); start += f.batchSize {
		if start > 0 {
			// Yield between batches so a large pass never monopolizes
			// the scheduler.
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			runtime.Gosched()
		}

		end := start + f.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[start:end] {
			biz, known := byID[id]
			distanceKm, ok := f.measure(ctx, id, biz, known, *ref, box, &computed)
			if ok && distanceKm <= maxDistanceKm {
				included[id] = true
			}
		}
	}

	if f.distances != nil {
		f.distances.RecordAll(computed)
	}

	out := make([]event.Record, 0, len(events))
	for _, ev := range events {
		if included[ev.BusinessID] {
			out = append(out, ev)
		}
	}
	return out, nil
}

// measure produces the distance from ref to one business, preferring the
// distance cache, then the stored coordinate, then address resolution. ok
// is false when no distance is available.
func (f *Filter) measure(ctx context.Context, id string, biz business.Record, known bool, ref geo.Coordinate, box geo.BoundingBox, computed *[]DistanceEntry) (float64, bool) {
	if f.distances != nil {
		if km, ok := f.distances.Lookup(id, ref); ok {
			f.observePath(DistanceFromCache)
			return km, true
		}
	}
	if !known {
		return 0, false
	}

	coord := biz.Coord
	if coord == nil {
		if f.resolver == nil || biz.Address == "" {
			return 0, false
		}
		resolved, ok := f.resolver.Resolve(ctx, biz.Address)
		if !ok {
			return 0, false
		}
		coord = &resolved
	}

	// The box test keeps the expensive formula off far candidates
	// entirely; nothing outside the box is worth a precise distance.
	if !box.Contains(*coord) {
		return 0, false
	}

	km := f.haversine(ref, *coord)
	f.observePath(DistanceComputed)
	*computed = append(*computed, DistanceEntry{
		SubjectID:  id,
		RefLat:     ref.Lat,
		RefLng:     ref.Lng,
		DistanceKm: km,
	})
	return km, true
}

func (f *Filter) observePath(path string) {
	if f.observe != nil {
		f.observe(path)
	}
}

// referencedIDs returns the distinct business IDs the events reference, in
// ascending order.
func referencedIDs(events []event.Record) []string {
	seen := make(map[string]struct{}, len(events))
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.BusinessID == "" {
			continue
		}
		if _, ok := seen[ev.BusinessID]; ok {
			continue
		}
		seen[ev.BusinessID] = struct{}{}
		ids = append(ids, ev.BusinessID)
	}
	sort.Strings(ids)
	return ids
}
