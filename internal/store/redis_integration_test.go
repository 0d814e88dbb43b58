//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin/internal/stats"
	"checkin/internal/testutil/redistest"
)

func TestSnapshotCacheRoundTrip(t *testing.T) {
	client := redistest.Start(t)
	ctx := context.Background()
	cache := NewSnapshotCache(client, "", time.Minute)

	_, ok, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty cache")

	want := stats.Aggregate{
		Total: 12, Scanned: 7, Manual: 5,
		Recent:    []stats.Entry{{ID: "1", Name: "Ann", RegNo: "A1", Method: "Manual", Timestamp: "14:32"}},
		FetchedAt: time.Date(2025, 10, 24, 14, 32, 0, 0, time.UTC),
	}
	require.NoError(t, cache.Save(ctx, want))

	got, ok, err := cache.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	ttl, err := client.TTL(ctx, DefaultSnapshotKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestSnapshotCacheRejectsGarbage(t *testing.T) {
	client := redistest.Start(t)
	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "snap", "not json", 0).Err())

	_, ok, err := NewSnapshotCache(client, "snap", 0).Load(ctx)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestTrackerWritesThroughToRedis(t *testing.T) {
	client := redistest.Start(t)
	ctx := context.Background()
	cache := NewSnapshotCache(client, "", 0)

	tr := stats.NewTracker(stats.FetcherFunc(func(context.Context) (stats.Aggregate, error) {
		return stats.Aggregate{Total: 4, Recent: []stats.Entry{}, FetchedAt: time.Now().UTC()}, nil
	}), stats.WithCache(cache))
	_, err := tr.Refresh(ctx)
	require.NoError(t, err)

	reader := stats.NewTracker(stats.FetcherFunc(nil), stats.WithCache(cache))
	require.NoError(t, reader.Sync(ctx))
	assert.Equal(t, 4, reader.View().Stats.Total)
}

func TestRedisHealthy(t *testing.T) {
	client := redistest.Start(t)
	r := &Redis{Client: client}
	assert.True(t, r.Healthy(context.Background()))

	var missing *Redis
	assert.False(t, missing.Healthy(context.Background()))
}
