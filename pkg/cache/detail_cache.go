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

const (
	// DefaultDetailTTL is used when NewDetailCache is given a non-positive TTL.
	DefaultDetailTTL = time.Hour

	detailKeyPrefix = "pokemon:detail"
)

// CachedStat is one base stat of a cached detail record.
type CachedStat struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// CachedDetail is the read model for one Pokemon detail lookup.
type CachedDetail struct {
	ID        int          `json:"id"`
	Name      string       `json:"name"`
	ImageURL  string       `json:"image_url"`
	Types     []string     `json:"types"`
	Abilities []string     `json:"abilities"`
	Stats     []CachedStat `json:"stats"`
	CachedAt  time.Time    `json:"cached_at"`
}

// DetailCache stores detail lookups as JSON strings keyed by lower-cased name.
// Key format: "pokemon:detail:{name}"
type DetailCache struct {
	client *RedisClient
	ttl    time.Duration
}

// NewDetailCache creates a DetailCache backed by the given RedisClient.
func NewDetailCache(r *RedisClient, ttl time.Duration) *DetailCache {
	if ttl <= 0 {
		ttl = DefaultDetailTTL
	}
	return &DetailCache{client: r, ttl: ttl}
}

// Get returns the cached detail for name.
// Returns redis.Nil when the key does not exist or has expired.
func (c *DetailCache) Get(ctx context.Context, name string) (*CachedDetail, error) {
	raw, err := c.client.Client().Get(ctx, DetailKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var d CachedDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("cache decode detail: %w", err)
	}
	return &d, nil
}

// Set writes d under its name with the cache TTL.
func (c *DetailCache) Set(ctx context.Context, d *CachedDetail) error {
	if d.CachedAt.IsZero() {
		d.CachedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("cache encode detail: %w", err)
	}
	if err := c.client.Client().Set(ctx, DetailKey(d.Name), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Exists reports whether a detail is cached for name.
func (c *DetailCache) Exists(ctx context.Context, name string) (bool, error) {
	n, err := c.client.Client().Exists(ctx, DetailKey(name)).Result()
	if err != nil {
		return false, fmt.Errorf("cache exists: %w", err)
	}
	return n > 0, nil
}

// Delete removes a cached detail.
func (c *DetailCache) Delete(ctx context.Context, name string) error {
	if err := c.client.Client().Del(ctx, DetailKey(name)).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// IsMiss reports whether err means the key was not cached.
func IsMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}

// DetailKey builds the Redis key for name. Lookups are case-insensitive.
func DetailKey(name string) string {
	return fmt.Sprintf("%s:%s", detailKeyPrefix, strings.ToLower(strings.TrimSpace(name)))
}
