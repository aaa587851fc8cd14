// Package cache is a redis read-through layer in front of the engine's
// round and verifier lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "por_cache_lookups_total",
		Help: "Cache lookups by outcome",
	},
	[]string{"outcome"}, // hit, miss, error
)

// ErrCacheMiss is returned by Get and GetJSON when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

const connectTimeout = 5 * time.Second

// RedisCache wraps a redis client with key prefixing and lookup metrics.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// Config holds redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// NewRedisCache connects to redis and verifies the connection before
// returning.
func NewRedisCache(cfg Config) (*RedisCache, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "por:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  connectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client, prefix: cfg.Prefix}, nil
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

// Get returns the raw value for the key, or ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	switch {
	case err == redis.Nil:
		lookups.WithLabelValues("miss").Inc()
		return nil, ErrCacheMiss
	case err != nil:
		lookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("cache get: %w", err)
	}
	lookups.WithLabelValues("hit").Inc()
	return val, nil
}

// Set stores the value under the key for the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		lookups.WithLabelValues("error").Inc()
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete drops the key. Invalidation after writes, so stale reads are bounded
// by the TTL even when a delete is lost.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		lookups.WithLabelValues("error").Inc()
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// GetJSON unmarshals the cached value into dest.
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal: %w", err)
	}
	return nil
}

// SetJSON marshals the value and stores it under the key.
func (c *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return c.Set(ctx, key, data, ttl)
}

// Ping verifies the connection, used by the readiness probe.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}
	return nil
}

// Close releases the client's connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
