package spatial

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/placefeed/placefeed/internal/geo"
	"github.com/placefeed/placefeed/internal/kv"
)

func TestDistanceCacheApplicabilityEpsilon(t *testing.T) {
	c := NewDistanceCache(nil, nil)
	ref := geo.Coordinate{Lat: 40.0, Lng: -74.0}
	c.Record("b1", ref, 3.2)

	tests := []struct {
		name    string
		ref     geo.Coordinate
		wantHit bool
	}{
		{name: "identical reference point", ref: ref, wantHit: true},
		{name: "drift under epsilon", ref: geo.Coordinate{Lat: 40.003, Lng: -74.0}, wantHit: true},          // ~330 m
		{name: "drift over epsilon", ref: geo.Coordinate{Lat: 40.006, Lng: -74.0}, wantHit: false},          // ~670 m
		{name: "longitude drift over epsilon", ref: geo.Coordinate{Lat: 40.0, Lng: -73.99}, wantHit: false}, // ~850 m
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km, hit := c.Lookup("b1", tt.ref)
			if hit != tt.wantHit {
				t.Fatalf("Lookup() hit = %v, want %v", hit, tt.wantHit)
			}
			if hit && km != 3.2 {
				t.Errorf("Lookup() = %v, want 3.2", km)
			}
		})
	}
}

func TestDistanceCacheMissForUnknownSubject(t *testing.T) {
	c := NewDistanceCache(nil, nil)
	if _, hit := c.Lookup("b-ghost", geo.Coordinate{Lat: 40, Lng: -74}); hit {
		t.Error("Lookup() reported hit for a subject never recorded")
	}
}

func TestDistanceCacheEvictsOldestBeyondCap(t *testing.T) {
	c := NewDistanceCache(nil, nil, WithDistanceMaxEntries(3))
	ref := geo.Coordinate{Lat: 40, Lng: -74}
	for i := 0; i < 5; i++ {
		c.Record(fmt.Sprintf("b%d", i), ref, float64(i))
	}
	if c.Len() != 3 {
		t.Fatalf("cache holds %d entries, want cap of 3", c.Len())
	}
	if _, hit := c.Lookup("b0", ref); hit {
		t.Error("oldest entry survived past the cap")
	}
	if _, hit := c.Lookup("b4", ref); !hit {
		t.Error("newest entry evicted")
	}
}

func TestDistanceCachePersistsAndRestores(t *testing.T) {
	store, err := kv.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ref := geo.Coordinate{Lat: 40, Lng: -74}

	c := NewDistanceCache(store, nil)
	c.Record("b1", ref, 3.2)

	// Persistence is fire-and-forget; wait for the snapshot to land.
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var snapshot []DistanceEntry
		if ok, _ := store.Get(ctx, kv.KeyDistanceCache, &snapshot); ok && len(snapshot) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	restored := NewDistanceCache(store, nil)
	km, hit := restored.Lookup("b1", ref)
	if !hit || km != 3.2 {
		t.Errorf("restored Lookup() = (%v, %v), want (3.2, true)", km, hit)
	}
}

func TestDistanceCacheClear(t *testing.T) {
	store, err := kv.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ref := geo.Coordinate{Lat: 40, Lng: -74}

	c := NewDistanceCache(store, nil)
	c.Record("b1", ref, 3.2)

	// Let the background persist land first so Clear's delete is what the
	// store ends up with.
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var snapshot []DistanceEntry
		if ok, _ := store.Get(ctx, kv.KeyDistanceCache, &snapshot); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.Clear(ctx)

	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", c.Len())
	}
	var snapshot []DistanceEntry
	if ok, _ := store.Get(context.Background(), kv.KeyDistanceCache, &snapshot); ok {
		t.Error("durable snapshot survived Clear")
	}
}
