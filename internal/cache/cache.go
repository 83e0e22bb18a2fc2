// Package cache remembers which mask each image's inputs produced so an
// unchanged image can be skipped on the next run.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/andresmejia3/cocomask/internal/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "cocomask:mask:"

// Entry is what the cache stores per content key.
type Entry struct {
	MaskName string `json:"mask_name"`
	Digest   string `json:"digest"`
}

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(cfg Config) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisCache{client: client, ttl: cfg.TTL}
}

// NewRedisCacheFromURL accepts a redis:// URL.
func NewRedisCacheFromURL(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Dial connects using either a host:port address or a redis:// URL in
// cfg.Addr. Password and DB only apply to plain addresses.
func Dial(cfg Config) (*RedisCache, error) {
	if strings.Contains(cfg.Addr, "://") {
		return NewRedisCacheFromURL(cfg.Addr, cfg.TTL)
	}
	return NewRedisCache(cfg), nil
}

// Addr is the host:port the client talks to, without credentials.
func (c *RedisCache) Addr() string {
	return c.client.Options().Addr
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get returns the entry stored for key; ok is false on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		utils.Logger.Warn("dropping unreadable cache entry", zap.String("key", key), zap.Error(err))
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set stores e under key with the configured TTL (0 keeps it forever).
func (c *RedisCache) Set(ctx context.Context, key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err()
}

// Flush removes every cocomask entry.
func (c *RedisCache) Flush(ctx context.Context) (int, error) {
	n := 0
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, iter.Err()
}
