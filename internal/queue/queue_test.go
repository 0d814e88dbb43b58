package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	want := Message{Type: TypeStatsRefresh, Station: "gate-1", At: time.Unix(1761317199, 0).UTC()}
	require.NoError(t, q.Publish(ctx, want))

	select {
	case got := <-msgs:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	_, open := <-msgs
	assert.False(t, open)
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: TypeStatsRefresh}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: TypeStatsRefresh}), context.DeadlineExceeded)
}

func TestRefreshPublisherQueuesMessage(t *testing.T) {
	q := NewInMemory(1)
	p := NewRefreshPublisher(q, "gate-2", zerolog.Nop())
	fixed := time.Date(2025, 10, 24, 14, 32, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	p.RequestRefresh()

	select {
	case got := <-q.ch:
		assert.Equal(t, Message{Type: TypeStatsRefresh, Station: "gate-2", At: fixed}, got)
	case <-time.After(time.Second):
		t.Fatal("refresh not published")
	}
}

func TestRefreshPublisherDoesNotBlockWhenFull(t *testing.T) {
	q := NewInMemory(1)
	p := NewRefreshPublisher(q, "", zerolog.Nop())
	p.timeout = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			p.RequestRefresh()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RequestRefresh blocked")
	}
}
