package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed storage.
type RedisConfig struct {
	// Prefix is prepended to every name.
	// Default: "apikit:"
	Prefix string

	// TTL expires stored values after the given duration.
	// Default: 0 (no expiry)
	TTL time.Duration
}

// RedisStorage stores values as plain Redis strings.
type RedisStorage struct {
	client redis.UniversalClient
	config RedisConfig
	owned  bool
}

// NewRedisStorage wraps an existing Redis client. The caller keeps
// ownership of the client; Close is a no-op.
func NewRedisStorage(client redis.UniversalClient, config RedisConfig) *RedisStorage {
	if config.Prefix == "" {
		config.Prefix = "apikit:"
	}
	return &RedisStorage{client: client, config: config}
}

// DialRedis connects to addr and verifies the connection with PING.
// The returned storage owns the client and closes it on Close.
func DialRedis(ctx context.Context, addr, password string, db int, config RedisConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("storage: redis ping: %w", err)
	}
	s := NewRedisStorage(client, config)
	s.owned = true
	return s, nil
}

func (s *RedisStorage) key(name string) string {
	return s.config.Prefix + name
}

// Read returns the stored value. Returns ("", false, nil) on miss.
func (s *RedisStorage) Read(ctx context.Context, name string) (string, bool, error) {
	if err := ValidateName(name); err != nil {
		return "", false, err
	}
	v, err := s.client.Get(ctx, s.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: redis get %q: %w", name, err)
	}
	return v, true, nil
}

// Write stores value under name.
func (s *RedisStorage) Write(ctx context.Context, name, value string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(name), value, s.config.TTL).Err(); err != nil {
		return fmt.Errorf("storage: redis set %q: %w", name, err)
	}
	return nil
}

// Remove deletes name. Idempotent - no error on miss.
func (s *RedisStorage) Remove(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return fmt.Errorf("storage: redis del %q: %w", name, err)
	}
	return nil
}

// Close closes the client if this storage dialed it.
func (s *RedisStorage) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// Ensure RedisStorage implements Storage
var _ Storage = (*RedisStorage)(nil)
