package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// PostgresChecker implements observability.Checker for a pgx pool.
type PostgresChecker struct {
	pool *pgxpool.Pool
}

// NewPostgresChecker creates a health checker for the given pool.
func NewPostgresChecker(pool *pgxpool.Pool) *PostgresChecker {
	return &PostgresChecker{pool: pool}
}

func (h *PostgresChecker) Name() string { return "postgres" }

func (h *PostgresChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return fmt.Errorf("database pool is nil")
	}
	return h.pool.Ping(ctx)
}

// RedisChecker implements observability.Checker for a Redis client.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a health checker for the given client.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (h *RedisChecker) Name() string { return "redis" }

func (h *RedisChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return h.client.Ping(ctx).Err()
}
