// Package cache wraps Redis for read-model projections and collaborator
// state. Nothing in here is authoritative; every value can be rebuilt from
// the system of record.
package cache

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// View is a generic JSON-backed Redis cache bound to one view type T. Pass a
// zero TTL for keys that should not expire.
type View[T any] struct {
	client *goredis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewView[T any](client *goredis.Client, ttl time.Duration, log *zap.Logger) *View[T] {
	return &View[T]{client: client, ttl: ttl, log: log}
}

// Get retrieves and unmarshals a value. Returns (nil, false) on any miss or
// deserialization error.
func (c *View[T]) Get(ctx context.Context, key string) (*T, bool) {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, false
	}
	return &v, true
}

// Set marshals value and stores it under key. Errors are logged rather than
// returned; a cache write miss is non-fatal.
func (c *View[T]) Set(ctx context.Context, key string, value *T) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("view cache marshal error", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("view cache write error", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes a key.
func (c *View[T]) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Warn("view cache delete error", zap.String("key", key), zap.Error(err))
	}
}
