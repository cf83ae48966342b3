// Package health provides readiness probes for the backends the feed
// server depends on: the remote document store and the durable device
// store. Each checker answers within the caller's deadline; the /ready
// handler sets one.
package health

import (
	"context"
	"fmt"
)

// Pinger is the slice of *sql.DB the database checker needs. Narrowing to
// an interface keeps the checker testable without a driver.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DBChecker reports whether the feed database answers a ping.
type DBChecker struct {
	db Pinger
}

// NewDBChecker creates a checker over the feed database handle.
func NewDBChecker(db Pinger) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database. The engine serves stale caches while the
// database is down, so a failure here means degraded, not broken.
func (c *DBChecker) HealthCheck(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("feed database unreachable: %w", err)
	}
	return nil
}
