package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis instance. Keys are namespaced by
// device ID so multiple devices sharing one Redis keep independent state.
type RedisStore struct {
	client   *redis.Client
	deviceID string
	logger   *slog.Logger
}

// NewRedisStore creates a Redis-backed store scoped to the given device ID.
func NewRedisStore(client *redis.Client, deviceID string, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, deviceID: deviceID, logger: logger}
}

// Get unmarshals the value for key into out. Corrupt values report a miss.
func (s *RedisStore) Get(ctx context.Context, key string, out any) (bool, error) {
	rk, err := s.redisKey(key)
	if err != nil {
		return false, err
	}

	data, err := s.client.Get(ctx, rk).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn("discarding corrupt kv value", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// Set marshals val and stores it under key with no Redis-side expiry;
// staleness is judged by the timestamps callers embed in their values.
func (s *RedisStore) Set(ctx context.Context, key string, val any) error {
	rk, err := s.redisKey(key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshal kv value %s: %w", key, err)
	}
	if err := s.client.Set(ctx, rk, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes the value for key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	rk, err := s.redisKey(key)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, rk).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// HealthCheck pings the Redis instance.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) redisKey(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, " \t\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return "placefeed:device:" + s.deviceID + ":" + key, nil
}
