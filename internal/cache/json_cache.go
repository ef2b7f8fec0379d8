// Package cache provides a small Redis-backed JSON cache used by the
// read-through stores.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSONCache stores JSON documents under a key prefix.
type JSONCache struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewJSONCache creates a cache. Keys are prefix:id; a trailing colon on
// prefix is dropped. A zero ttl keeps entries until invalidated.
func NewJSONCache(client *redis.Client, prefix string, ttl time.Duration) *JSONCache {
	if client == nil {
		panic("cache: redis client required")
	}
	return &JSONCache{redis: client, prefix: strings.TrimRight(prefix, ":"), ttl: ttl}
}

func (c *JSONCache) key(id string) string {
	return fmt.Sprintf("%s:%s", c.prefix, id)
}

// Get decodes the entry for id into dst. It reports false on a miss.
func (c *JSONCache) Get(ctx context.Context, id string, dst any) (bool, error) {
	data, err := c.redis.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: get %s: %w", c.key(id), err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		_ = c.redis.Del(ctx, c.key(id)).Err()
		return false, nil
	}
	return true, nil
}

// Set stores value under id.
func (c *JSONCache) Set(ctx context.Context, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", c.key(id), err)
	}
	if err := c.redis.Set(ctx, c.key(id), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", c.key(id), err)
	}
	return nil
}

// Delete removes the entries for ids.
func (c *JSONCache) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, c.key(id))
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}
