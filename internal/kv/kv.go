// Package kv provides the durable per-device key-value store used for
// state that must survive process restarts: the geocode cache snapshot,
// the last-known device location, the map-center preference, and the
// location-filter-enabled flag.
//
// Values are small JSON documents. A malformed persisted value is treated
// as a cache miss, never an error; the next successful write overwrites it.
package kv

import (
	"context"
	"errors"
)

// Well-known keys. Callers own the schema of each value; the store only
// sees JSON.
const (
	KeyGeocodeCache          = "geocode_cache"
	KeyDistanceCache         = "distance_cache"
	KeyLastKnownLocation     = "last_known_location"
	KeyMapCenter             = "map_center"
	KeyLocationFilterEnabled = "location_filter_enabled"
)

// ErrInvalidKey is returned for empty or unusable keys.
var ErrInvalidKey = errors.New("invalid kv key")

// WriteObserver receives failures from fire-and-forget background writes.
// Components that persist state asynchronously never block their caller on
// the write, but they report failures here instead of discarding them.
type WriteObserver func(key string, err error)

// LogWriteObserver returns a WriteObserver that logs failures at warn level.
func LogWriteObserver(logger interface {
	Warn(msg string, args ...any)
}) WriteObserver {
	return func(key string, err error) {
		logger.Warn("background kv write failed", "key", key, "error", err)
	}
}

// Store is a durable key-value store for small JSON-serializable values.
type Store interface {
	// Get unmarshals the value for key into out. ok is false on a miss,
	// which includes absent keys and corrupt values.
	Get(ctx context.Context, key string, out any) (ok bool, err error)

	// Set marshals val and persists it under key, replacing any previous
	// value.
	Set(ctx context.Context, key string, val any) error

	// Delete removes the value for key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error
}
