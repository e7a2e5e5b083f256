package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps go-redis with the JSON marshal/unmarshal and tenant-key
// helpers the external object index's L2 tier needs.
type Client struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// NewClient dials addr and verifies connectivity before returning, so
// a misconfigured Redis fails startup rather than every request.
func NewClient(ctx context.Context, addr string, db int, password string, ttl time.Duration) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr missing")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger := slog.Default().With("component", "cache.l2")
	logger.Info("redis client connected", "addr", addr)

	if ttl <= 0 {
		ttl = 1 * time.Hour
	}

	return &Client{client: client, logger: logger, ttl: ttl}, nil
}

func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	c.logger.Info("redis client closed")
	return nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Get unmarshals the value stored at key into target. found is false
// on a cache miss, which is not reported as an error.
func (c *Client) Get(ctx context.Context, key string, target interface{}) (found bool, err error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.logger.Debug("cache miss", "key", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), target); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}

	c.logger.Debug("cache hit", "key", key)
	return true, nil
}

// GetStale behaves like Get but also returns the value's remaining TTL,
// letting the index's stale-while-revalidate path decide whether a hit
// just outside the primary TTL is still usable.
func (c *Client) GetStale(ctx context.Context, key string, target interface{}) (found bool, ttl time.Duration, err error) {
	pipe := c.client.TxPipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, 0, fmt.Errorf("redis pipeline failed for key %s: %w", key, err)
	}

	val, err := getCmd.Result()
	if err == redis.Nil {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), target); err != nil {
		return false, 0, fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}

	return true, ttlCmd.Val(), nil
}

// Set stores value at key with the client's default TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

func (c *Client) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}

	c.logger.Debug("cache set", "key", key, "ttl", ttl)
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed for key %s: %w", key, err)
	}
	c.logger.Debug("cache delete", "key", key)
	return nil
}

// DeletePattern removes every key matching pattern. Index.Invalidate
// uses it to drop a tenant's whole L2 index.
func (c *Client) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error
		batch, cursor, err = c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan failed for pattern %s: %w", pattern, err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		c.logger.Debug("no keys matched pattern", "pattern", pattern)
		return 0, nil
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete failed for pattern %s: %w", pattern, err)
	}

	c.logger.Info("cache pattern delete", "pattern", pattern, "deleted", deleted)
	return deleted, nil
}

// IndexKey builds the tenant-partitioned L2 cache key for one node's
// index entry: "index:<tenant>:<scanId>:<nodeId>".
func IndexKey(tenantID, scanID, nodeID string) string {
	return fmt.Sprintf("index:%s:%s:%s", tenantID, scanID, nodeID)
}
