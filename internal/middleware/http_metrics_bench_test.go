package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func benchHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"events":[]}`))
	})
}

func benchMetrics(b *testing.B) *Metrics {
	b.Helper()
	m := NewMetrics()
	if err := m.Register(prometheus.NewRegistry()); err != nil {
		b.Fatalf("Register() failed: %v", err)
	}
	return m
}

func BenchmarkHTTPMetrics(b *testing.B) {
	b.Run("baseline", func(b *testing.B) {
		handler := benchHandler()
		req := httptest.NewRequest(http.MethodGet, "/feed", nil)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}
	})

	b.Run("instrumented", func(b *testing.B) {
		wrapped := HTTPMetrics(benchMetrics(b))(benchHandler())
		req := httptest.NewRequest(http.MethodGet, "/feed", nil)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			wrapped.ServeHTTP(httptest.NewRecorder(), req)
		}
	})

	// Ops endpoints skip recording entirely; the exclusion check itself
	// should stay cheap.
	b.Run("excluded_health", func(b *testing.B) {
		wrapped := HTTPMetrics(benchMetrics(b))(benchHandler())
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			wrapped.ServeHTTP(httptest.NewRecorder(), req)
		}
	})
}

func BenchmarkHTTPMetrics_RouteMix(b *testing.B) {
	wrapped := HTTPMetrics(benchMetrics(b))(benchHandler())
	paths := []string{"/feed", "/feed/filter", "/diagnostics", "/businesses/b-42/events"}
	reqs := make([]*http.Request, len(paths))
	for i, p := range paths {
		reqs[i] = httptest.NewRequest(http.MethodGet, p, nil)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wrapped.ServeHTTP(httptest.NewRecorder(), reqs[i%len(reqs)])
	}
}
