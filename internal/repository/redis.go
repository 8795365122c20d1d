package repository

import (
	"context"
	"fmt"
	"time"

	"carebook/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisDedupStore remembers processed webhook event keys in redis so
// replayed deliveries can be short-circuited across instances.
type RedisDedupStore struct {
	client *redis.Client
}

// NewRedisClient creates a redis client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// Ping checks redis connectivity with a short deadline.
func Ping(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err()
}

func NewRedisDedupStore(client *redis.Client) *RedisDedupStore {
	return &RedisDedupStore{client: client}
}

// SeenEvent reports whether the key has been recorded and is still live.
func (r *RedisDedupStore) SeenEvent(ctx context.Context, key string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.Exists(ctx, "dedup:"+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event key: %w", err)
	}
	return n > 0, nil
}

// MarkEvent records the key with the given TTL.
func (r *RedisDedupStore) MarkEvent(ctx context.Context, key string, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, "dedup:"+key, 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to record event key: %w", err)
	}
	return nil
}
