package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newSpanRecorder installs a recording tracer provider for one test.
func newSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder
}

func serveTraced(t *testing.T, method, path string, inner http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	if inner == nil {
		inner = func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	}
	handler := Tracing("placefeed-api")(inner)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestTracing_SpanNamesUseRoutePattern(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/feed", "GET /feed"},
		{http.MethodPost, "/feed/filter", "POST /feed/filter"},
		{http.MethodGet, "/businesses/b-1138", "GET /businesses/{id}"},
		{http.MethodGet, "/businesses/b-1138/events", "GET /businesses/{id}/events"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			recorder := newSpanRecorder(t)

			serveTraced(t, tt.method, tt.path, nil)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			if spans[0].Name() != tt.want {
				t.Errorf("span name = %q, want %q", spans[0].Name(), tt.want)
			}
		})
	}
}

func TestTracing_SkipsOpsEndpoints(t *testing.T) {
	recorder := newSpanRecorder(t)

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		serveTraced(t, http.MethodGet, path, nil)
	}

	if spans := recorder.Ended(); len(spans) != 0 {
		t.Errorf("ops endpoints produced %d spans, want 0", len(spans))
	}
}

func TestTracing_HandlerSeesActiveSpan(t *testing.T) {
	recorder := newSpanRecorder(t)

	var gotTraceID, gotSpanID string
	serveTraced(t, http.MethodPost, "/feed/refresh", func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = GetTraceID(r)
		gotSpanID = GetSpanID(r)
		w.WriteHeader(http.StatusOK)
	})

	if gotTraceID == "" || gotSpanID == "" {
		t.Fatalf("handler saw trace ID %q span ID %q, want both non-empty", gotTraceID, gotSpanID)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != gotTraceID {
		t.Errorf("recorded trace ID %s, handler saw %s", got, gotTraceID)
	}
	if got := spans[0].SpanContext().SpanID().String(); got != gotSpanID {
		t.Errorf("recorded span ID %s, handler saw %s", got, gotSpanID)
	}
}

func TestGetTraceID_Untraced(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/feed", nil)

	if id := GetTraceID(req); id != "" {
		t.Errorf("GetTraceID() = %q for untraced request, want empty", id)
	}
	if id := GetSpanID(req); id != "" {
		t.Errorf("GetSpanID() = %q for untraced request, want empty", id)
	}
}
