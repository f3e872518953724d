// Package rediscache wraps the Redis operations behind the distributed
// result cache: point reads/writes with TTL and the key-expiration
// event subscription used by the rewarm loop.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ecoscore/greenscore/internal/observability"
)

type Option func(*redis.Options)

func WithDB(db int) Option {
	return func(o *redis.Options) { o.DB = db }
}

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

type Client struct {
	rdb *redis.Client
	db  int
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb, db: ro.DB}, nil
}

// Get returns the stored value, or found=false on a clean miss.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCacheOp("get", nil)
		return nil, false, nil
	}
	observability.ObserveCacheOp("get", err)
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return val, true, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	observability.ObserveCacheOp("set", err)
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveCacheOp("del", err)
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// SubscribeExpired subscribes to the keyevent channel that announces
// expired keys for this database. Enabling the notification class is
// best-effort: managed Redis offerings often reject CONFIG SET, in
// which case keys simply go cold and reads miss synchronously.
func (c *Client) SubscribeExpired(ctx context.Context) *redis.PubSub {
	_ = c.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
	return c.rdb.Subscribe(ctx, fmt.Sprintf("__keyevent@%d__:expired", c.db))
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
