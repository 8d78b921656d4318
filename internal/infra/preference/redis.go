// Package preference stores per-user dashboard preferences (the view mode).
package preference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

// RedisStore keeps view modes in Redis under "portal:viewmode:<user>".
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "portal:viewmode:"}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

// GetViewMode returns the stored mode. ok is false when nothing (or an
// unrecognized value) is stored.
func (s *RedisStore) GetViewMode(ctx context.Context, userID string) (domain.ViewMode, bool, error) {
	val, err := s.client.Get(ctx, s.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &domain.ErrExternalService{Service: "redis", Err: err}
	}
	mode, ok := domain.ParseViewMode(val)
	return mode, ok, nil
}

// SetViewMode persists mode without expiry.
func (s *RedisStore) SetViewMode(ctx context.Context, userID string, mode domain.ViewMode) error {
	if err := s.client.Set(ctx, s.key(userID), string(mode), 0).Err(); err != nil {
		return &domain.ErrExternalService{Service: "redis", Err: err}
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
