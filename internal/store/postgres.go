package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/placefeed/placefeed/internal/business"
	"github.com/placefeed/placefeed/internal/event"
	"github.com/placefeed/placefeed/internal/geo"
	"github.com/placefeed/placefeed/internal/tracing"
)

// PostgresStore implements BusinessStore and EventStore against the remote
// Postgres document store.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a store backed by the given database handle.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// FetchAll returns every business document.
func (s *PostgresStore) FetchAll(ctx context.Context) (records []business.Record, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, "businesses", "fetch_all")
	defer func() { endSpan(err) }()

	const query = `
		SELECT id, name, address, lat, lng, tags, updated_at
		FROM businesses
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch all businesses: %w", err)
	}
	defer s.closeRows(rows)

	return scanBusinesses(rows)
}

// FetchUpdatedAfter returns businesses updated strictly after the watermark.
func (s *PostgresStore) FetchUpdatedAfter(ctx context.Context, watermark time.Time) (records []business.Record, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, "businesses", "fetch_updated_after")
	defer func() { endSpan(err) }()

	const query = `
		SELECT id, name, address, lat, lng, tags, updated_at
		FROM businesses
		WHERE updated_at > $1
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, watermark)
	if err != nil {
		return nil, fmt.Errorf("fetch businesses updated after %s: %w", watermark.Format(time.RFC3339), err)
	}
	defer s.closeRows(rows)

	return scanBusinesses(rows)
}

// ProbeNextDate returns the earliest event date at or after from.
// This is the limit-1 existence probe the progressive loader leans on.
func (s *PostgresStore) ProbeNextDate(ctx context.Context, from time.Time) (next time.Time, ok bool, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, "events", "probe_next_date")
	defer func() { endSpan(err) }()

	const query = `
		SELECT date FROM events
		WHERE date >= $1
		ORDER BY date ASC
		LIMIT 1`

	var date time.Time
	err = s.db.QueryRowContext(ctx, query, from).Scan(&date)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("probe next event date: %w", err)
	}
	return date, true, nil
}

// ProbeAfter returns the earliest event date strictly after the given
// instant. Used by the delta refresh checker against the cached
// high-water mark.
func (s *PostgresStore) ProbeAfter(ctx context.Context, after time.Time) (next time.Time, ok bool, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, "events", "probe_after")
	defer func() { endSpan(err) }()

	const query = `
		SELECT date FROM events
		WHERE date > $1
		ORDER BY date ASC
		LIMIT 1`

	var date time.Time
	err = s.db.QueryRowContext(ctx, query, after).Scan(&date)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("probe events after: %w", err)
	}
	return date, true, nil
}

// FetchRange returns events with start <= date < end, ascending.
func (s *PostgresStore) FetchRange(ctx context.Context, start, end time.Time) (records []event.Record, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, "events", "fetch_range")
	defer func() { endSpan(err) }()

	const query = `
		SELECT id, business_id, date, tags, updated_at
		FROM events
		WHERE date >= $1 AND date < $2
		ORDER BY date ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch events in range: %w", err)
	}
	defer s.closeRows(rows)

	return scanEvents(rows)
}

// FetchAfter returns events strictly after the given instant, ascending.
func (s *PostgresStore) FetchAfter(ctx context.Context, after time.Time) (records []event.Record, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, "events", "fetch_after")
	defer func() { endSpan(err) }()

	const query = `
		SELECT id, business_id, date, tags, updated_at
		FROM events
		WHERE date > $1
		ORDER BY date ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, after)
	if err != nil {
		return nil, fmt.Errorf("fetch events after: %w", err)
	}
	defer s.closeRows(rows)

	return scanEvents(rows)
}

// FetchByBusiness returns all events for one business, ascending by date.
func (s *PostgresStore) FetchByBusiness(ctx context.Context, businessID string) (records []event.Record, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, "events", "fetch_by_business")
	defer func() { endSpan(err) }()

	const query = `
		SELECT id, business_id, date, tags, updated_at
		FROM events
		WHERE business_id = $1
		ORDER BY date ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("fetch events for business %s: %w", businessID, err)
	}
	defer s.closeRows(rows)

	return scanEvents(rows)
}

// HealthCheck pings the underlying database.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		s.logger.Warn("failed to close rows", "error", err)
	}
}

func scanBusinesses(rows *sql.Rows) ([]business.Record, error) {
	var records []business.Record
	for rows.Next() {
		var (
			rec      business.Record
			lat, lng sql.NullFloat64
			tags     pq.StringArray
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Address, &lat, &lng, &tags, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan business row: %w", err)
		}
		if lat.Valid && lng.Valid {
			rec.Coord = &geo.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
		}
		rec.Tags = []string(tags)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate business rows: %w", err)
	}
	return records, nil
}

func scanEvents(rows *sql.Rows) ([]event.Record, error) {
	var records []event.Record
	for rows.Next() {
		var (
			rec  event.Record
			tags pq.StringArray
		)
		if err := rows.Scan(&rec.ID, &rec.BusinessID, &rec.Date, &tags, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		rec.Tags = []string(tags)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return records, nil
}
