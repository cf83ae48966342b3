package geocode

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/placefeed/placefeed/internal/geo"
	"github.com/placefeed/placefeed/internal/kv"
)

// fakeGeocoder resolves from a fixed table and counts invocations.
type fakeGeocoder struct {
	coords map[string]geo.Coordinate
	calls  int64
	fail   bool
	block  bool
}

func (g *fakeGeocoder) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	atomic.AddInt64(&g.calls, 1)
	if g.block {
		<-ctx.Done()
		return geo.Coordinate{}, ctx.Err()
	}
	if g.fail {
		return geo.Coordinate{}, errors.New("geocoder down")
	}
	coord, ok := g.coords[Normalize(address)]
	if !ok {
		return geo.Coordinate{}, ErrNoResult
	}
	return coord, nil
}

func (g *fakeGeocoder) Calls() int64 { return atomic.LoadInt64(&g.calls) }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "already normalized", input: "12 main st, springfield", want: "12 main st, springfield"},
		{name: "trims and lowercases", input: "  12 Main St, Springfield  ", want: "12 main st, springfield"},
		{name: "collapses internal whitespace", input: "12  Main\tSt,   Springfield", want: "12 main st, springfield"},
		{name: "normalizes comma spacing", input: "12 Main St ,Springfield", want: "12 main st, springfield"},
		{name: "drops empty comma segments", input: "12 Main St,,Springfield", want: "12 main st, springfield"},
		{name: "empty input", input: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCacheResolvesOncePerTTL(t *testing.T) {
	g := &fakeGeocoder{coords: map[string]geo.Coordinate{
		"12 main st, springfield": {Lat: 40.1, Lng: -74.2},
	}}
	c := NewCache(g, nil, nil)
	ctx := context.Background()

	// Differently-spaced renditions of the same address share one entry,
	// so the collaborator is invoked at most once.
	for _, addr := range []string{"12 Main St, Springfield", "  12 main st,Springfield ", "12 MAIN ST, SPRINGFIELD"} {
		coord, ok := c.Resolve(ctx, addr)
		if !ok {
			t.Fatalf("Resolve(%q) unresolved", addr)
		}
		if coord.Lat != 40.1 || coord.Lng != -74.2 {
			t.Errorf("Resolve(%q) = %+v", addr, coord)
		}
	}
	if g.Calls() != 1 {
		t.Errorf("collaborator invoked %d times, want at most 1 within TTL", g.Calls())
	}
}

func TestCacheExpiredEntryReinvokes(t *testing.T) {
	g := &fakeGeocoder{coords: map[string]geo.Coordinate{
		"12 main st": {Lat: 40.1, Lng: -74.2},
	}}
	c := NewCache(g, nil, nil, WithTTL(time.Hour))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, ok := c.Resolve(ctx, "12 Main St"); !ok {
		t.Fatal("first Resolve unresolved")
	}
	now = now.Add(2 * time.Hour)
	if _, ok := c.Resolve(ctx, "12 Main St"); !ok {
		t.Fatal("second Resolve unresolved")
	}
	if g.Calls() != 2 {
		t.Errorf("collaborator invoked %d times, want 2 after TTL expiry", g.Calls())
	}
}

func TestCacheUnresolvedOnFailure(t *testing.T) {
	g := &fakeGeocoder{fail: true}
	c := NewCache(g, nil, nil)

	if _, ok := c.Resolve(context.Background(), "12 Main St"); ok {
		t.Error("Resolve reported success from a failing collaborator")
	}
	if snap := c.Stats(); snap.Failures != 1 {
		t.Errorf("Failures = %d, want 1", snap.Failures)
	}
}

func TestCacheUnresolvedOnTimeout(t *testing.T) {
	g := &fakeGeocoder{block: true}
	c := NewCache(g, nil, nil, WithTimeout(20*time.Millisecond))

	start := time.Now()
	if _, ok := c.Resolve(context.Background(), "12 Main St"); ok {
		t.Error("Resolve reported success from a hung collaborator")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Resolve blocked %s, timeout not applied", elapsed)
	}
}

func TestCacheEvictsOldestBeyondCap(t *testing.T) {
	coords := make(map[string]geo.Coordinate)
	for i := 0; i < 10; i++ {
		coords[fmt.Sprintf("addr %d", i)] = geo.Coordinate{Lat: float64(i), Lng: 0}
	}
	g := &fakeGeocoder{coords: coords}
	c := NewCache(g, nil, nil, WithMaxEntries(5))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, ok := c.Resolve(ctx, fmt.Sprintf("Addr %d", i)); !ok {
			t.Fatalf("Resolve(addr %d) unresolved", i)
		}
	}
	if c.Len() != 5 {
		t.Fatalf("cache holds %d entries, want cap of 5", c.Len())
	}

	// The oldest five were evicted; resolving one again hits the
	// collaborator.
	before := g.Calls()
	if _, ok := c.Resolve(ctx, "Addr 0"); !ok {
		t.Fatal("re-Resolve unresolved")
	}
	if g.Calls() != before+1 {
		t.Error("evicted entry served from cache")
	}
}

func TestCachePersistsAndRestores(t *testing.T) {
	store, err := kv.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	g := &fakeGeocoder{coords: map[string]geo.Coordinate{
		"12 main st": {Lat: 40.1, Lng: -74.2},
	}}
	c := NewCache(g, store, nil)
	ctx := context.Background()

	if _, ok := c.Resolve(ctx, "12 Main St"); !ok {
		t.Fatal("Resolve unresolved")
	}

	// Persistence is fire-and-forget; wait for the snapshot to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var snapshot []Entry
		if ok, _ := store.Get(ctx, kv.KeyGeocodeCache, &snapshot); ok && len(snapshot) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A new cache over the same store resolves without the collaborator.
	g2 := &fakeGeocoder{}
	c2 := NewCache(g2, store, nil)
	coord, ok := c2.Resolve(ctx, "12 Main St")
	if !ok {
		t.Fatal("restored cache failed to resolve")
	}
	if coord.Lat != 40.1 {
		t.Errorf("restored coordinate = %+v", coord)
	}
	if g2.Calls() != 0 {
		t.Errorf("restored cache invoked the collaborator %d times, want 0", g2.Calls())
	}
}

func TestCacheWriteObserverSeesFailures(t *testing.T) {
	g := &fakeGeocoder{coords: map[string]geo.Coordinate{
		"12 main st": {Lat: 40.1, Lng: -74.2},
	}}

	var observed atomic.Int64
	c := NewCache(g, failingStore{}, nil, WithWriteObserver(func(key string, err error) {
		observed.Add(1)
	}))

	if _, ok := c.Resolve(context.Background(), "12 Main St"); !ok {
		t.Fatal("Resolve unresolved")
	}

	deadline := time.Now().Add(2 * time.Second)
	for observed.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("write observer never notified of the failed persist")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// failingStore fails every write but reports clean misses on read.
type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string, out any) (bool, error) { return false, nil }
func (failingStore) Set(ctx context.Context, key string, val any) error {
	return errors.New("disk full")
}
func (failingStore) Delete(ctx context.Context, key string) error { return errors.New("disk full") }

func TestCacheResolutionObserverSeesOutcomes(t *testing.T) {
	g := &fakeGeocoder{coords: map[string]geo.Coordinate{
		"12 main st": {Lat: 40.1, Lng: -74.2},
	}}
	outcomes := make(map[string]int)
	c := NewCache(g, nil, nil, WithResolutionObserver(func(outcome string) {
		outcomes[outcome]++
	}))
	ctx := context.Background()

	c.Resolve(ctx, "12 Main St")    // collaborator call
	c.Resolve(ctx, "12 Main St")    // cached
	c.Resolve(ctx, "99 Unknown Rd") // no result

	if outcomes[ResolutionResolved] != 1 {
		t.Errorf("resolved observed %d times, want 1", outcomes[ResolutionResolved])
	}
	if outcomes[ResolutionCached] != 1 {
		t.Errorf("cached observed %d times, want 1", outcomes[ResolutionCached])
	}
	if outcomes[ResolutionUnresolved] != 1 {
		t.Errorf("unresolved observed %d times, want 1", outcomes[ResolutionUnresolved])
	}
}
