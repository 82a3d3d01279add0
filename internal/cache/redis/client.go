// Package redis backs the price cache, venue and API rate limits, the scan
// lock and the event bus with go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// Namespace prefixes every key and pub/sub channel, so several
	// deployments can share one server. Empty means no prefix.
	Namespace string
}

func (cfg ClientConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Client is a go-redis client plus the key namespace shared by the cache
// components built on it.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// New connects and pings. A failed ping closes the connection pool.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(cfg.options())
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, namespace: strings.TrimSuffix(cfg.Namespace, ":")}, nil
}

// Wrap adapts an existing go-redis client with no namespace.
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// WithNamespace returns a Client sharing the connection pool under another
// namespace.
func (c *Client) WithNamespace(ns string) *Client {
	return &Client{rdb: c.rdb, namespace: strings.TrimSuffix(ns, ":")}
}

// key joins parts with ":" under the namespace.
func (c *Client) key(parts ...string) string {
	k := strings.Join(parts, ":")
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

// Ping is used by the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
