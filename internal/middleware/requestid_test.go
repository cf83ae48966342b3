package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// serveWithRequestID runs one request through the middleware and returns
// the ID the handler observed and the recorder.
func serveWithRequestID(t *testing.T, inbound string) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	if inbound != "" {
		req.Header.Set(RequestIDHeader, inbound)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return seen, rec
}

func TestRequestID_MintsUUIDWhenAbsent(t *testing.T) {
	seen, rec := serveWithRequestID(t, "")

	if seen == "" {
		t.Fatal("handler saw no request ID")
	}
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("minted ID %q is not a UUID: %v", seen, err)
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header %q, handler saw %q", got, seen)
	}
}

func TestRequestID_HonorsInboundID(t *testing.T) {
	seen, rec := serveWithRequestID(t, "client-req-42")

	if seen != "client-req-42" {
		t.Errorf("handler saw %q, want the inbound ID", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "client-req-42" {
		t.Errorf("response header %q, want the inbound ID echoed", got)
	}
}

func TestRequestID_ReplacesUnsafeInboundID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
	}{
		{"oversized", strings.Repeat("x", maxRequestIDLength+1)},
		{"embedded newline", "evil\nX-Injected: 1"},
		{"embedded space", "two words"},
		{"non-ascii", "идентификатор"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen, _ := serveWithRequestID(t, tt.inbound)

			if seen == tt.inbound {
				t.Fatalf("unsafe inbound ID %q was propagated", tt.inbound)
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Errorf("replacement ID %q is not a UUID: %v", seen, err)
			}
		})
	}
}

func TestGetRequestID_Unassigned(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Errorf("GetRequestID() = %q without middleware, want empty", id)
	}
}
