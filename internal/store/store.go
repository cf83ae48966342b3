// Package store defines the remote document store consumed by the
// discovery engine's caches, plus implementations used in production and
// tests. The engine treats the store as a read-only collaborator: it never
// writes business or event documents, only fetches them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/placefeed/placefeed/internal/business"
	"github.com/placefeed/placefeed/internal/event"
)

// ErrUnavailable is returned when the remote store cannot be reached.
// Callers serve stale cache contents when they have any.
var ErrUnavailable = errors.New("remote store unavailable")

// BusinessStore fetches business reference documents.
type BusinessStore interface {
	// FetchAll returns every business document in the collection.
	FetchAll(ctx context.Context) ([]business.Record, error)

	// FetchUpdatedAfter returns businesses whose updated_at is strictly
	// after the given watermark.
	FetchUpdatedAfter(ctx context.Context, watermark time.Time) ([]business.Record, error)
}

// EventStore fetches event documents by date range. It mirrors the remote
// store's query surface: field-range filters with ordering and a row limit.
type EventStore interface {
	// ProbeNextDate returns the earliest event date at or after from
	// (ascending, limit 1). ok is false when the calendar is exhausted.
	ProbeNextDate(ctx context.Context, from time.Time) (date time.Time, ok bool, err error)

	// ProbeAfter returns the earliest event date strictly after the given
	// instant (ascending, limit 1). ok is false when no newer event exists.
	ProbeAfter(ctx context.Context, after time.Time) (date time.Time, ok bool, err error)

	// FetchRange returns events with start <= date < end, ascending by date.
	FetchRange(ctx context.Context, start, end time.Time) ([]event.Record, error)

	// FetchAfter returns events with date strictly after the given instant,
	// ascending by date.
	FetchAfter(ctx context.Context, after time.Time) ([]event.Record, error)

	// FetchByBusiness returns all events for one business, ascending by date.
	FetchByBusiness(ctx context.Context, businessID string) ([]event.Record, error)
}
