package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/placefeed/placefeed/internal/business"
	"github.com/placefeed/placefeed/internal/event"
)

// InMemoryStore is an in-memory implementation of BusinessStore and
// EventStore. Used for testing and development. It counts remote reads so
// tests can assert on the engine's read budget, and can be forced to fail
// to exercise serve-stale paths.
type InMemoryStore struct {
	mu         sync.RWMutex
	businesses map[string]business.Record
	events     map[string]event.Record

	reads int64
	fail  atomic.Bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		businesses: make(map[string]business.Record),
		events:     make(map[string]event.Record),
	}
}

// PutBusiness inserts or replaces a business document.
func (s *InMemoryStore) PutBusiness(rec business.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businesses[rec.ID] = rec.Clone()
}

// PutEvent inserts or replaces an event document.
func (s *InMemoryStore) PutEvent(rec event.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[rec.ID] = rec.Clone()
}

// SetFailing makes every subsequent fetch return ErrUnavailable.
func (s *InMemoryStore) SetFailing(failing bool) {
	s.fail.Store(failing)
}

// Reads returns the number of remote reads issued so far. Every store
// method counts as one read, matching the one-query-per-call cost of the
// real store.
func (s *InMemoryStore) Reads() int64 {
	return atomic.LoadInt64(&s.reads)
}

// ResetReads zeroes the read counter.
func (s *InMemoryStore) ResetReads() {
	atomic.StoreInt64(&s.reads, 0)
}

func (s *InMemoryStore) read(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	atomic.AddInt64(&s.reads, 1)
	if s.fail.Load() {
		return ErrUnavailable
	}
	return nil
}

// FetchAll returns every business document.
func (s *InMemoryStore) FetchAll(ctx context.Context) ([]business.Record, error) {
	if err := s.read(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]business.Record, 0, len(s.businesses))
	for _, rec := range s.businesses {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// FetchUpdatedAfter returns businesses updated strictly after the watermark.
func (s *InMemoryStore) FetchUpdatedAfter(ctx context.Context, watermark time.Time) ([]business.Record, error) {
	if err := s.read(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []business.Record
	for _, rec := range s.businesses {
		if rec.UpdatedAt.After(watermark) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// ProbeNextDate returns the earliest event date at or after from.
func (s *InMemoryStore) ProbeNextDate(ctx context.Context, from time.Time) (time.Time, bool, error) {
	if err := s.read(ctx); err != nil {
		return time.Time{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  time.Time
		found bool
	)
	for _, rec := range s.events {
		if rec.Date.Before(from) {
			continue
		}
		if !found || rec.Date.Before(best) {
			best = rec.Date
			found = true
		}
	}
	return best, found, nil
}

// ProbeAfter returns the earliest event date strictly after the given instant.
func (s *InMemoryStore) ProbeAfter(ctx context.Context, after time.Time) (time.Time, bool, error) {
	if err := s.read(ctx); err != nil {
		return time.Time{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  time.Time
		found bool
	)
	for _, rec := range s.events {
		if !rec.Date.After(after) {
			continue
		}
		if !found || rec.Date.Before(best) {
			best = rec.Date
			found = true
		}
	}
	return best, found, nil
}

// FetchRange returns events with start <= date < end, ascending.
func (s *InMemoryStore) FetchRange(ctx context.Context, start, end time.Time) ([]event.Record, error) {
	if err := s.read(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Record
	for _, rec := range s.events {
		if !rec.Date.Before(start) && rec.Date.Before(end) {
			out = append(out, rec.Clone())
		}
	}
	event.SortByDate(out)
	return out, nil
}

// FetchAfter returns events strictly after the given instant, ascending.
func (s *InMemoryStore) FetchAfter(ctx context.Context, after time.Time) ([]event.Record, error) {
	if err := s.read(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Record
	for _, rec := range s.events {
		if rec.Date.After(after) {
			out = append(out, rec.Clone())
		}
	}
	event.SortByDate(out)
	return out, nil
}

// FetchByBusiness returns all events for one business, ascending by date.
func (s *InMemoryStore) FetchByBusiness(ctx context.Context, businessID string) ([]event.Record, error) {
	if err := s.read(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Record
	for _, rec := range s.events {
		if rec.BusinessID == businessID {
			out = append(out, rec.Clone())
		}
	}
	event.SortByDate(out)
	return out, nil
}
