package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/listing-scanner/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisCache wraps the Redis client shared by the geocode cache, the batch
// queue, the change publisher and the job locker
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// NewRedisCacheFromClient wraps an existing client, e.g. one pointed at miniredis
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Queue returns a batch queue on this connection
func (r *RedisCache) Queue(key, deadLetterKey string) *BatchQueue {
	return NewBatchQueue(r.client, key, deadLetterKey)
}

// Publisher returns a change publisher on this connection
func (r *RedisCache) Publisher(channelPrefix string) *ChangePublisher {
	return NewChangePublisher(r.client, channelPrefix)
}

// Locker returns a distributed job locker on this connection
func (r *RedisCache) Locker(ttl time.Duration) *RedisLocker {
	return NewRedisLocker(r.client, ttl)
}
