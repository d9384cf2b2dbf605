// Package redisstore implements the tile cache on Redis. Each tile is a
// hash holding the body next to its serving metadata so a cached entry
// can be replayed with the original headers.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geoply/mvtserver/internal/cache"
	"github.com/geoply/mvtserver/internal/observability"
)

const (
	fieldBody            = "body"
	fieldContentType     = "content_type"
	fieldContentEncoding = "content_encoding"
	fieldCacheControl    = "cache_control"
)

type Option func(*options)

type options struct {
	redis redis.Options
	ttl   time.Duration
}

func WithPoolSize(n int) Option {
	return func(o *options) { o.redis.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.redis.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.redis.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.redis.WriteTimeout = d }
}

// WithTTL bounds the lifetime of every cached tile. Zero keeps tiles
// until they are purged.
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ cache.Store = (*Client)(nil)

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	o := options{
		redis: redis.Options{
			Addr:         addr,
			PoolSize:     64,
			MinIdleConns: 4,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  1 * time.Second,
			WriteTimeout: 1 * time.Second,
		},
	}
	for _, f := range opts {
		f(&o)
	}

	rdb := redis.NewClient(&o.redis)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb, ttl: o.ttl}, nil
}

func (c *Client) Get(ctx context.Context, key string) (*cache.Object, error) {
	start := time.Now()
	vals, err := c.rdb.HGetAll(ctx, key).Result()
	observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %s: %w", key, err)
	}
	if len(vals) == 0 {
		observability.IncCacheMiss()
		return nil, nil
	}
	observability.IncCacheHit()
	return &cache.Object{
		Body:            []byte(vals[fieldBody]),
		ContentType:     vals[fieldContentType],
		ContentEncoding: vals[fieldContentEncoding],
		CacheControl:    vals[fieldCacheControl],
	}, nil
}

func (c *Client) Put(ctx context.Context, key string, obj cache.Object) error {
	start := time.Now()
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		fieldBody, obj.Body,
		fieldContentType, obj.ContentType,
		fieldContentEncoding, obj.ContentEncoding,
		fieldCacheControl, obj.CacheControl,
	)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	observability.ObserveCacheOp("put", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis HSET %s: %w", key, err)
	}
	return nil
}

func (c *Client) PurgeTiles(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveCacheOp("purge_tiles", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) PurgeSource(ctx context.Context, source string) error {
	start := time.Now()
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, source+"/*", 512).Result()
		if err != nil {
			observability.ObserveCacheOp("purge_source", err, time.Since(start).Seconds())
			return fmt.Errorf("redis SCAN %s/*: %w", source, err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				observability.ObserveCacheOp("purge_source", err, time.Since(start).Seconds())
				return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	observability.ObserveCacheOp("purge_source", nil, time.Since(start).Seconds())
	return nil
}

// Ping probes the connection, used by the readiness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
