package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"checkin/internal/stats"
)

const DefaultSnapshotKey = "checkin:stats:snapshot"

// SnapshotCache stores the last good aggregate as JSON under one key.
type SnapshotCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewSnapshotCache creates a cache. A zero ttl keeps the snapshot until overwritten.
func NewSnapshotCache(client *redis.Client, key string, ttl time.Duration) *SnapshotCache {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &SnapshotCache{client: client, key: key, ttl: ttl}
}

// Load returns the stored snapshot; ok is false when none exists.
func (c *SnapshotCache) Load(ctx context.Context) (stats.Aggregate, bool, error) {
	var agg stats.Aggregate
	b, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return agg, false, nil
	}
	if err != nil {
		return agg, false, fmt.Errorf("store: load snapshot: %w", err)
	}
	if err := json.Unmarshal(b, &agg); err != nil {
		return agg, false, fmt.Errorf("store: decode snapshot: %w", err)
	}
	return agg, true, nil
}

// Save overwrites the stored snapshot.
func (c *SnapshotCache) Save(ctx context.Context, agg stats.Aggregate) error {
	b, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}
