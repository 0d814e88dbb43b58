//go:build integration

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin/internal/testutil/redistest"
)

func TestRedisQueuePublishConsume(t *testing.T) {
	client := redistest.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewRedisQueue(client, "", zerolog.Nop())
	q.block = 100 * time.Millisecond
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	want := Message{Type: TypeStatsRefresh, Station: "gate-1", At: time.Date(2025, 10, 24, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, q.Publish(ctx, want))

	select {
	case got := <-msgs:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestRedisQueueSkipsMalformed(t *testing.T) {
	client := redistest.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.LPush(ctx, DefaultKey, "legacy|payload").Err())
	q := NewRedisQueue(client, "", zerolog.Nop())
	q.block = 100 * time.Millisecond
	require.NoError(t, q.Publish(ctx, Message{Type: TypeStatsRefresh}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case got := <-msgs:
		assert.Equal(t, TypeStatsRefresh, got.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}
