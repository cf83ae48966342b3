// Package location supplies the engine's reference point: a best-effort
// current device position with a durable last-known fallback. Location
// being unavailable is a degraded mode, not an error; distance features
// fall back to unfiltered output.
package location

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/placefeed/placefeed/internal/geo"
	"github.com/placefeed/placefeed/internal/kv"
)

// ErrUnavailable signals that no position can be produced right now
// (permission denied, positioning disabled, no fix yet).
var ErrUnavailable = errors.New("location unavailable")

// Provider yields the device's current position.
type Provider interface {
	// Current returns the device's position, or ErrUnavailable when none
	// can be produced.
	Current(ctx context.Context) (geo.Coordinate, error)
}

// known is the persisted last-known position.
type known struct {
	Coord      geo.Coordinate `json:"coord"`
	ObservedAt time.Time      `json:"observed_at"`
}

// Source wraps a Provider with a durable last-known fallback. A fresh fix
// is persisted in the background; when the provider is unavailable the
// most recent persisted position is served instead.
type Source struct {
	provider Provider
	store    kv.Store
	logger   *slog.Logger
	observer kv.WriteObserver
}

// NewSource creates a location source. provider may be nil (a device with
// no positioning at all); store may be nil, dropping the durable fallback.
func NewSource(provider Provider, store kv.Store, logger *slog.Logger, observer kv.WriteObserver) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = kv.LogWriteObserver(logger)
	}
	return &Source{provider: provider, store: store, logger: logger, observer: observer}
}

// Reference returns the best available reference point: the provider's
// current fix if one can be produced, else the persisted last-known
// position. ok is false when neither exists.
func (s *Source) Reference(ctx context.Context) (geo.Coordinate, bool) {
	if s.provider != nil {
		coord, err := s.provider.Current(ctx)
		if err == nil {
			s.remember(coord)
			return coord, true
		}
		if !errors.Is(err, ErrUnavailable) {
			s.logger.Warn("location provider failed", "error", err)
		}
	}
	return s.lastKnown(ctx)
}

// lastKnown reads the persisted position. A corrupt value is a miss.
func (s *Source) lastKnown(ctx context.Context) (geo.Coordinate, bool) {
	if s.store == nil {
		return geo.Coordinate{}, false
	}
	var k known
	ok, err := s.store.Get(ctx, kv.KeyLastKnownLocation, &k)
	if err != nil {
		s.logger.Warn("failed to read last-known location", "error", err)
		return geo.Coordinate{}, false
	}
	if !ok {
		return geo.Coordinate{}, false
	}
	return k.Coord, true
}

// remember persists a fresh fix without blocking the caller.
func (s *Source) remember(coord geo.Coordinate) {
	if s.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		k := known{Coord: coord, ObservedAt: time.Now()}
		if err := s.store.Set(ctx, kv.KeyLastKnownLocation, k); err != nil {
			s.observer(kv.KeyLastKnownLocation, err)
		}
	}()
}
