package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StatusPinger is the slice of *redis.Client the device-store checker
// needs.
type StatusPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker reports whether the Redis backing the durable device store
// answers a PING. Only relevant when REDIS_ADDR is configured; the file
// store needs no probe.
type RedisChecker struct {
	client StatusPinger
}

// NewRedisChecker creates a checker over the device-store Redis client.
func NewRedisChecker(client StatusPinger) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck sends a PING. A failure means device preferences and the
// geocode snapshot cannot persist until Redis returns.
func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("device store unreachable: %w", err)
	}
	return nil
}
