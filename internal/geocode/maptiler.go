package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/placefeed/placefeed/internal/geo"
	"github.com/placefeed/placefeed/internal/tracing"
)

// DefaultMapTilerBaseURL is the production geocoding endpoint.
const DefaultMapTilerBaseURL = "https://api.maptiler.com"

// ErrNoResult is returned when the geocoder finds no match for an address.
var ErrNoResult = errors.New("geocoder returned no result")

// MapTilerClient implements Geocoder against the MapTiler forward
// geocoding API. The caller's context bounds each request; the cache layer
// applies the 5 s budget.
type MapTilerClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewMapTilerClient creates a client with the given API key. baseURL may
// be empty to use production.
func NewMapTilerClient(apiKey, baseURL string, httpClient *http.Client) *MapTilerClient {
	if baseURL == "" {
		baseURL = DefaultMapTilerBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &MapTilerClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// mapTilerResponse covers the slice of the GeoJSON response we consume:
// feature centers as [lng, lat].
type mapTilerResponse struct {
	Features []struct {
		Center []float64 `json:"center"`
	} `json:"features"`
}

// Geocode resolves a free-text address to a coordinate.
func (c *MapTilerClient) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	ctx, endSpan := tracing.StartClientSpan(ctx, "geocode", "maptiler")
	var retErr error
	defer func() { endSpan(retErr) }()

	endpoint := fmt.Sprintf("%s/geocoding/%s.json?key=%s&limit=1",
		c.baseURL, url.PathEscape(address), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		retErr = fmt.Errorf("build geocoding request: %w", err)
		return geo.Coordinate{}, retErr
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		retErr = fmt.Errorf("geocoding request: %w", err)
		return geo.Coordinate{}, retErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retErr = fmt.Errorf("geocoding request: unexpected status %d", resp.StatusCode)
		return geo.Coordinate{}, retErr
	}

	var body mapTilerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		retErr = fmt.Errorf("decode geocoding response: %w", err)
		return geo.Coordinate{}, retErr
	}

	if len(body.Features) == 0 || len(body.Features[0].Center) < 2 {
		retErr = ErrNoResult
		return geo.Coordinate{}, retErr
	}

	center := body.Features[0].Center
	return geo.Coordinate{Lat: center[1], Lng: center[0]}, nil
}
