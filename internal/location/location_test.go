package location

import (
	"context"
	"testing"
	"time"

	"github.com/placefeed/placefeed/internal/geo"
	"github.com/placefeed/placefeed/internal/kv"
)

type fakeProvider struct {
	coord       geo.Coordinate
	unavailable bool
}

func (p *fakeProvider) Current(ctx context.Context) (geo.Coordinate, error) {
	if p.unavailable {
		return geo.Coordinate{}, ErrUnavailable
	}
	return p.coord, nil
}

func TestReferencePrefersCurrentFix(t *testing.T) {
	p := &fakeProvider{coord: geo.Coordinate{Lat: 40.0, Lng: -74.0}}
	s := NewSource(p, nil, nil, nil)

	coord, ok := s.Reference(context.Background())
	if !ok {
		t.Fatal("Reference() not ok with a working provider")
	}
	if coord != p.coord {
		t.Errorf("Reference() = %+v, want %+v", coord, p.coord)
	}
}

func TestReferenceFallsBackToLastKnown(t *testing.T) {
	store, err := kv.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	p := &fakeProvider{coord: geo.Coordinate{Lat: 40.0, Lng: -74.0}}
	s := NewSource(p, store, nil, nil)
	ctx := context.Background()

	// A successful fix is remembered in the background.
	if _, ok := s.Reference(ctx); !ok {
		t.Fatal("Reference() not ok with a working provider")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := s.lastKnown(ctx); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fix never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Positioning goes away; the persisted fix still serves.
	p.unavailable = true
	coord, ok := s.Reference(ctx)
	if !ok {
		t.Fatal("Reference() not ok despite a persisted last-known position")
	}
	if coord != (geo.Coordinate{Lat: 40.0, Lng: -74.0}) {
		t.Errorf("Reference() = %+v, want the persisted fix", coord)
	}
}

func TestReferenceDegradesToNotOK(t *testing.T) {
	s := NewSource(&fakeProvider{unavailable: true}, nil, nil, nil)
	if _, ok := s.Reference(context.Background()); ok {
		t.Error("Reference() ok with no provider fix and no persisted position")
	}

	s = NewSource(nil, nil, nil, nil)
	if _, ok := s.Reference(context.Background()); ok {
		t.Error("Reference() ok with no provider at all")
	}
}
