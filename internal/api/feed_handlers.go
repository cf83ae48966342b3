// Package api provides HTTP handlers for the Placefeed API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/placefeed/placefeed/internal/engine"
	"github.com/placefeed/placefeed/internal/geo"
	"github.com/placefeed/placefeed/internal/middleware"
	"github.com/placefeed/placefeed/internal/store"
)

// dateLayout is the wire format for date query parameters.
const dateLayout = "2006-01-02"

// FilterRequest represents the request body for distance filtering.
type FilterRequest struct {
	MaxDistanceKm float64  `json:"max_distance_km"`
	Lat           *float64 `json:"lat,omitempty"`
	Lng           *float64 `json:"lng,omitempty"`
}

// RefreshResponse represents the lightweight refresh result.
type RefreshResponse struct {
	Changed bool `json:"changed"`
}

// MapCenterRequest represents the request body for the map-center preference.
type MapCenterRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationFilterRequest represents the request body for the
// location-filter preference.
type LocationFilterRequest struct {
	Enabled bool `json:"enabled"`
}

// FeedHandlers holds dependencies for feed HTTP handlers.
type FeedHandlers struct {
	engine *engine.Service
	logger *slog.Logger
}

// NewFeedHandlers creates a new FeedHandlers instance.
func NewFeedHandlers(svc *engine.Service, logger *slog.Logger) *FeedHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHandlers{engine: svc, logger: logger}
}

// Feed handles GET /feed.
// Without query parameters it serves the cached, progressively loaded feed.
// Any of date, start, end, or business_id bypasses the caches and queries
// the remote store directly.
func (h *FeedHandlers) Feed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r)
		return
	}

	opts, errMsg := parseLoadOptions(r)
	if errMsg != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, errMsg)
		return
	}

	feed, err := h.engine.CombinedLoad(r.Context(), opts)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, feed)
}

// More handles POST /feed/more: extends the event window by another batch
// and returns the full window.
func (h *FeedHandlers) More(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r)
		return
	}

	events, err := h.engine.LoadMore(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"events": events})
}

// Refresh handles POST /feed/refresh: a minimal-cost check for events
// newer than the cached window.
func (h *FeedHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r)
		return
	}

	changed, err := h.engine.LightweightRefresh(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, RefreshResponse{Changed: changed})
}

// Filter handles POST /feed/filter: applies a distance cutoff to the
// cached feed. With no usable reference point the feed comes back
// unfiltered; that is a degraded mode, not an error.
func (h *FeedHandlers) Filter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r)
		return
	}

	var req FilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.MaxDistanceKm < 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "max_distance_km must not be negative")
		return
	}
	if (req.Lat == nil) != (req.Lng == nil) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "lat and lng must be provided together")
		return
	}

	var ref *geo.Coordinate
	if req.Lat != nil {
		ref = &geo.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
	}

	feed, err := h.engine.CombinedLoad(r.Context(), engine.LoadOptions{})
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	filtered, err := h.engine.FilterByDistance(r.Context(), feed.Events, req.MaxDistanceKm, ref)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Distance filter failed")
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"events": filtered})
}

// Diagnostics handles GET /diagnostics: cache counters and validity flags.
func (h *FeedHandlers) Diagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r)
		return
	}
	h.writeJSON(w, r, http.StatusOK, h.engine.Diagnostics())
}

// ClearCache handles POST /cache/clear: drops every cache, in memory and
// in the durable device store.
func (h *FeedHandlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r)
		return
	}
	h.engine.ClearAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// RefreshCache handles POST /cache/refresh: discards the feed caches and
// reloads them from the remote store.
func (h *FeedHandlers) RefreshCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r)
		return
	}
	if err := h.engine.ForceRefreshAll(r.Context()); err != nil {
		h.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MapCenter handles GET and PUT /preferences/map-center.
func (h *FeedHandlers) MapCenter(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		coord, ok := h.engine.MapCenter(r.Context())
		if !ok {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "No map center set")
			return
		}
		h.writeJSON(w, r, http.StatusOK, coord)
	case http.MethodPut:
		var req MapCenterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
			return
		}
		if err := h.engine.SetMapCenter(r.Context(), geo.Coordinate{Lat: req.Lat, Lng: req.Lng}); err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to persist map center")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		h.methodNotAllowed(w, r)
	}
}

// LocationFilter handles PUT /preferences/location-filter.
func (h *FeedHandlers) LocationFilter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		h.methodNotAllowed(w, r)
		return
	}

	var req LocationFilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	if err := h.engine.SetLocationFilterEnabled(r.Context(), req.Enabled); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to persist preference")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseLoadOptions reads the bypass query parameters. Returns a non-empty
// message on validation failure.
func parseLoadOptions(r *http.Request) (engine.LoadOptions, string) {
	var opts engine.LoadOptions
	q := r.URL.Query()

	parse := func(key string) (*time.Time, string) {
		val := q.Get(key)
		if val == "" {
			return nil, ""
		}
		t, err := time.Parse(dateLayout, val)
		if err != nil {
			return nil, key + " must be formatted as YYYY-MM-DD"
		}
		return &t, ""
	}

	var msg string
	if opts.ForcedDate, msg = parse("date"); msg != "" {
		return opts, msg
	}
	if opts.StartDate, msg = parse("start"); msg != "" {
		return opts, msg
	}
	if opts.EndDate, msg = parse("end"); msg != "" {
		return opts, msg
	}
	opts.BusinessID = q.Get("business_id")

	if opts.ForcedDate != nil && (opts.StartDate != nil || opts.EndDate != nil) {
		return opts, "date cannot be combined with start or end"
	}
	if opts.StartDate != nil && opts.EndDate != nil && opts.EndDate.Before(*opts.StartDate) {
		return opts, "end must not be before start"
	}
	return opts, ""
}

// storeError maps a remote-store failure onto the error envelope. By the
// time an error escapes the engine, every serve-stale fallback has already
// been exhausted.
func (h *FeedHandlers) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrUnavailable) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeStoreUnavailable)
		WriteError(w, ctx, http.StatusBadGateway, ErrCodeStoreUnavailable, "Remote store unavailable and no cached data to serve")
		return
	}
	h.logger.ErrorContext(r.Context(), "feed request failed", "error", err)
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
	WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
}

func (h *FeedHandlers) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
	WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
}

func (h *FeedHandlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
