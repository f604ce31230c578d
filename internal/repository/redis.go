package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/venuegate/internal/config"
	"github.com/redis/go-redis/v9"
)

// INCR and set the expiry only when the counter is created, so later hits in
// the same window never extend it.
var incrementScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

type RedisClient struct {
	Client *redis.Client
	prefix string
}

func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisClientFrom(rdb, cfg.Redis.KeyPrefix), nil
}

// NewRedisClientFrom wraps an existing client; tests pass a miniredis-backed one.
func NewRedisClientFrom(rdb *redis.Client, prefix string) *RedisClient {
	return &RedisClient{Client: rdb, prefix: prefix}
}

func (r *RedisClient) key(k string) string {
	return r.prefix + k
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}

func (r *RedisClient) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrementScript.Run(ctx, r.Client, []string{r.key(key)}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return 0, 0, fmt.Errorf("unexpected script reply %T", res)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}
	return count, time.Duration(ttlMs) * time.Millisecond, nil
}

func (r *RedisClient) Peek(ctx context.Context, key string) (int64, time.Duration, error) {
	pipe := r.Client.Pipeline()
	getCmd := pipe.Get(ctx, r.key(key))
	ttlCmd := pipe.PTTL(ctx, r.key(key))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	count, err := getCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return count, ttl, nil
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.Client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (r *RedisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.Client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisClient) Delete(ctx context.Context, key string) error {
	return r.Client.Del(ctx, r.key(key)).Err()
}

// SetNX stores value only if key is absent.
func (r *RedisClient) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, r.key(key), value, ttl).Result()
}
