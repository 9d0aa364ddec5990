package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig defines configuration for the Redis client
type RedisConfig struct {
	Address      string        `yaml:"address"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RedisClient wraps redis.Client with JSON helpers. The rate limiter and the
// risk evaluator share one instance.
type RedisClient struct {
	*redis.Client
	config RedisConfig
}

// NewScript re-exports redis.NewScript so callers don't import go-redis
// directly for Lua.
func NewScript(src string) *redis.Script {
	return redis.NewScript(src)
}

// NewRedisClient creates a new Redis client instance and verifies the
// connection before returning it.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10 * runtime.GOMAXPROCS(0)
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = cfg.PoolSize / 2
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisClient{Client: rdb, config: cfg}, nil
}

// SetJSON marshals value and stores it under key with a TTL.
func (c *RedisClient) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl).Err()
}

// GetJSON fetches key and unmarshals it into dest.
func (c *RedisClient) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// IncrWithTTL increments a counter, arming the TTL on first increment.
func (c *RedisClient) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := c.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		c.Expire(ctx, key, ttl)
	}
	return count, nil
}

// GetString returns the value at key, or "" when the key is absent.
func (c *RedisClient) GetString(ctx context.Context, key string) (string, error) {
	val, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// SetString stores a value with a TTL.
func (c *RedisClient) SetString(ctx context.Context, key, val string, ttl time.Duration) error {
	return c.Set(ctx, key, val, ttl).Err()
}
