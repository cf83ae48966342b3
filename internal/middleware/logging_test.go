package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// testLogEntry represents the expected structure of log entries.
type testLogEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Size      int    `json:"size"`
	RequestID string `json:"request_id"`
	ErrorCode string `json:"error_code"`
}

// newTestLogger creates a logger that writes JSON to a buffer for testing.
func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return slog.New(handler)
}

// parseLogEntry parses the last log line from buffer.
func parseLogEntry(t *testing.T, buf *bytes.Buffer) testLogEntry {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatal("no log entries found")
	}
	var entry testLogEntry
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	return entry
}

func TestLogging_BasicFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("events"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	entry := parseLogEntry(t, &buf)

	if entry.Method != http.MethodGet {
		t.Errorf("expected method GET, got %s", entry.Method)
	}
	if entry.Path != "/feed" {
		t.Errorf("expected path /feed, got %s", entry.Path)
	}
	if entry.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.Status)
	}
	if entry.Size != len("events") {
		t.Errorf("expected size %d, got %d", len("events"), entry.Size)
	}
	if entry.LatencyMs < 0 {
		t.Errorf("expected non-negative latency, got %d", entry.LatencyMs)
	}
	if entry.Level != "INFO" {
		t.Errorf("expected level INFO, got %s", entry.Level)
	}
}

func TestLogging_WithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	ctx := context.WithValue(req.Context(), requestIDKey{}, "req-abc-123")
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	entry := parseLogEntry(t, &buf)
	if entry.RequestID != "req-abc-123" {
		t.Errorf("expected request_id req-abc-123, got %s", entry.RequestID)
	}
}

func TestLogging_ErrorResponse(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetErrorCode(r.Context(), "validation_error")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"validation_error","message":"bad input"}}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/feed/filter", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	entry := parseLogEntry(t, &buf)
	if entry.Status != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", entry.Status)
	}
	if entry.ErrorCode != "validation_error" {
		t.Errorf("expected error_code validation_error, got %s", entry.ErrorCode)
	}
	if entry.Level != "WARN" {
		t.Errorf("expected level WARN for 4xx, got %s", entry.Level)
	}
}

func TestLogging_ServerError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetErrorCode(r.Context(), "store_unavailable")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusBadGateway)
	}))

	req := httptest.NewRequest(http.MethodPost, "/cache/refresh", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	entry := parseLogEntry(t, &buf)
	if entry.Status != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", entry.Status)
	}
	if entry.ErrorCode != "store_unavailable" {
		t.Errorf("expected error_code store_unavailable, got %s", entry.ErrorCode)
	}
	if entry.Level != "ERROR" {
		t.Errorf("expected level ERROR for 5xx, got %s", entry.Level)
	}
}

func TestLogging_DefaultStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	// Handler that writes without calling WriteHeader
	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("implicit 200"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	entry := parseLogEntry(t, &buf)
	if entry.Status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", entry.Status)
	}
}

func TestLogging_NoErrorCodeFor2xx(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Even if an error code was stored, 2xx responses do not log it.
		ctx := SetErrorCode(r.Context(), "should_not_appear")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	entry := parseLogEntry(t, &buf)
	if entry.ErrorCode != "" {
		t.Errorf("expected no error_code for 2xx, got %s", entry.ErrorCode)
	}
}

func TestNewLogger_Production(t *testing.T) {
	logger := NewLogger("production")
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_Development(t *testing.T) {
	logger := NewLogger("development")
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestSetErrorCode_GetErrorCode(t *testing.T) {
	ctx := context.Background()

	if code := GetErrorCode(ctx); code != "" {
		t.Errorf("expected empty error code, got %s", code)
	}

	ctx = SetErrorCode(ctx, "not_found")
	if code := GetErrorCode(ctx); code != "not_found" {
		t.Errorf("expected not_found, got %s", code)
	}

	ctx = SetErrorCode(ctx, "internal_error")
	if code := GetErrorCode(ctx); code != "internal_error" {
		t.Errorf("expected internal_error after overwrite, got %s", code)
	}
}

func TestResponseWriter_WriteHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	if rw.statusCode != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.statusCode)
	}

	rw.WriteHeader(http.StatusNotFound)
	if rw.statusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.statusCode)
	}

	// A second WriteHeader must not change the recorded status.
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.statusCode != http.StatusNotFound {
		t.Errorf("expected status to stay 404, got %d", rw.statusCode)
	}
}

func TestResponseWriter_Write(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	n, err := rw.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 bytes written, got %d", n)
	}

	rw.Write([]byte(" world"))
	if rw.size != len("hello world") {
		t.Errorf("expected size %d, got %d", len("hello world"), rw.size)
	}
}

func TestLogging_AllFieldsPresent(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetErrorCode(r.Context(), "not_found")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"not_found","message":"no map center set"}}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/preferences/map-center", nil)
	ctx := context.WithValue(req.Context(), requestIDKey{}, "req-xyz")
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var raw map[string]any
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &raw); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	for _, field := range []string{"method", "path", "status", "latency_ms", "size", "request_id", "error_code"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("expected field %q in log entry", field)
		}
	}
}
