package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockHealthChecker is a mock implementation of HealthChecker for testing.
type mockHealthChecker struct {
	shouldFail bool
	err        error
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	if m.shouldFail {
		if m.err != nil {
			return m.err
		}
		return errors.New("health check failed")
	}
	return nil
}

// TestHealth_Success tests the basic health check endpoint.
func TestHealth_Success(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handlers.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %s", response.Status)
	}

	if response.Checks["runtime"] != "ok" {
		t.Errorf("expected runtime check to be 'ok', got %s", response.Checks["runtime"])
	}

	// Verify timestamp is valid RFC3339
	if _, err := time.Parse(time.RFC3339, response.Timestamp); err != nil {
		t.Errorf("timestamp is not valid RFC3339: %v", err)
	}
}

// TestHealth_MethodNotAllowed tests that non-GET requests are rejected.
func TestHealth_MethodNotAllowed(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{})

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()

	handlers.Health(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

// TestReady_AllHealthy tests readiness when every dependency is reachable.
func TestReady_AllHealthy(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{
		DBChecker:     &mockHealthChecker{shouldFail: false},
		DeviceChecker: &mockHealthChecker{shouldFail: false},
	})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	handlers.Ready(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %s", response.Status)
	}

	expectedChecks := map[string]string{
		"database":     "ok",
		"device_store": "ok",
		"metrics":      "ok",
	}
	for check, expectedStatus := range expectedChecks {
		if response.Checks[check] != expectedStatus {
			t.Errorf("expected %s check to be %s, got %s", check, expectedStatus, response.Checks[check])
		}
	}
}

// TestReady_DatabaseUnhealthy tests readiness when the database is unreachable.
func TestReady_DatabaseUnhealthy(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{
		DBChecker:     &mockHealthChecker{shouldFail: true},
		DeviceChecker: &mockHealthChecker{shouldFail: false},
	})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	handlers.Ready(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %s", response.Status)
	}
	if response.Checks["database"] != "error" {
		t.Errorf("expected database check to be 'error', got %s", response.Checks["database"])
	}
	if response.Checks["device_store"] != "ok" {
		t.Errorf("expected device_store check to be 'ok', got %s", response.Checks["device_store"])
	}
}

// TestReady_DeviceStoreUnhealthy tests readiness when the device store is unreachable.
func TestReady_DeviceStoreUnhealthy(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{
		DBChecker:     &mockHealthChecker{shouldFail: false},
		DeviceChecker: &mockHealthChecker{shouldFail: true},
	})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	handlers.Ready(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Checks["device_store"] != "error" {
		t.Errorf("expected device_store check to be 'error', got %s", response.Checks["device_store"])
	}
}

// TestReady_NoCheckers tests readiness when no checkers are configured.
func TestReady_NoCheckers(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	handlers.Ready(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	// All checks should be ok when not configured
	if response.Checks["database"] != "ok" {
		t.Errorf("expected database check to be 'ok', got %s", response.Checks["database"])
	}
	if response.Checks["device_store"] != "ok" {
		t.Errorf("expected device_store check to be 'ok', got %s", response.Checks["device_store"])
	}
}

// TestReady_MethodNotAllowed tests that non-GET requests are rejected.
func TestReady_MethodNotAllowed(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{})

	req := httptest.NewRequest(http.MethodPost, "/ready", nil)
	w := httptest.NewRecorder()

	handlers.Ready(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

// TestHealth_ContentType tests that the health response has correct Content-Type.
func TestHealth_ContentType(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handlers.Health(w, req)

	if contentType := w.Header().Get("Content-Type"); contentType != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got %s", contentType)
	}
}
