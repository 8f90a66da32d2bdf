package prefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisHashKey is the Redis hash holding every pref as one field.
const RedisHashKey = "shield:prefs"

var _ Store = (*RedisStore)(nil)

// RedisStore keeps prefs as fields of a single Redis hash. Durability follows
// the server's persistence settings (AOF/RDB).
type RedisStore struct {
	client *redis.Client
	hash   string
}

// NewRedisStore wraps an already connected client. Use database.NewRedisClient
// to build one with retries.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("prefs: redis client cannot be nil")
	}
	return &RedisStore{client: client, hash: RedisHashKey}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read pref %q from redis: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.hash, key, value).Err(); err != nil {
		return fmt.Errorf("failed to write pref %q to redis: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.hash, key).Err(); err != nil {
		return fmt.Errorf("failed to delete pref %q from redis: %w", key, err)
	}
	return nil
}
