package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"
)

// ErrNotInitialized is returned by a nil or disconnected client
var ErrNotInitialized = errors.New("redis client not initialized")

// RedisClient wraps redis.Client with JSON encoding
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects to Redis. It returns nil when the server is unreachable
// so callers can run without a cache.
func NewRedisClient(host, port, password string) *RedisClient {
	addr := net.JoinHostPort(host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("Failed to connect to Redis, caching disabled")
		_ = client.Close()
		return nil
	}

	log.Info().Str("addr", addr).Msg("Connected to Redis")
	return &RedisClient{client: client}
}

// Set stores value as JSON with expiration
func (r *RedisClient) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if r == nil || r.client == nil {
		return ErrNotInitialized
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return r.client.Set(ctx, key, b, expiration).Err()
}

// Get decodes the JSON value at key into dest. A missing key returns redis.Nil.
func (r *RedisClient) Get(ctx context.Context, key string, dest any) error {
	if r == nil || r.client == nil {
		return ErrNotInitialized
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(val, dest)
}

// Publish sends a JSON message to a channel
func (r *RedisClient) Publish(ctx context.Context, channel string, message any) error {
	if r == nil || r.client == nil {
		return ErrNotInitialized
	}
	b, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, b).Err()
}

// Subscribe subscribes to a channel. Returns nil without a connection.
func (r *RedisClient) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Subscribe(ctx, channel)
}

func (r *RedisClient) Close() error {
	if r != nil && r.client != nil {
		return r.client.Close()
	}
	return nil
}
