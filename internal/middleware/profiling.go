// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// ProfilingConfig configures the pprof middleware. Profiling exposes
// runtime internals and must stay off outside development; Profiling
// refuses to arm itself when Environment names production regardless of
// Enabled.
type ProfilingConfig struct {
	Enabled     bool
	Environment string
}

// Profiling serves the /debug/pprof tree in front of the next handler when
// enabled. Disabled (or refused) it is a no-op passthrough with zero
// per-request cost.
func Profiling(config ProfilingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}
		if config.Environment == "production" || config.Environment == "prod" {
			slog.Error("refusing to enable profiling in production", "environment", config.Environment)
			return next
		}

		slog.Warn("profiling endpoints enabled", "environment", config.Environment, "path", "/debug/pprof/")

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/debug/pprof") {
				next.ServeHTTP(w, r)
				return
			}
			switch r.URL.Path {
			case "/debug/pprof/cmdline":
				pprof.Cmdline(w, r)
			case "/debug/pprof/profile":
				pprof.Profile(w, r)
			case "/debug/pprof/symbol":
				pprof.Symbol(w, r)
			case "/debug/pprof/trace":
				pprof.Trace(w, r)
			default:
				// Index also serves the named profiles (heap, goroutine, ...).
				pprof.Index(w, r)
			}
		})
	}
}

// ProfilingStatus reports whether profiling is armed, for quick inspection
// during development.
func ProfilingStatus(config ProfilingConfig) http.HandlerFunc {
	type status struct {
		ProfilingEnabled bool   `json:"profiling_enabled"`
		Environment      string `json:"environment"`
		Status           string `json:"status"`
		Path             string `json:"path"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		s := status{
			ProfilingEnabled: config.Enabled,
			Environment:      config.Environment,
			Status:           "disabled",
			Path:             "/debug/pprof/",
		}
		if config.Enabled {
			s.Status = "enabled"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(s); err != nil {
			slog.Error("failed to write profiling status", "error", err)
		}
	}
}
