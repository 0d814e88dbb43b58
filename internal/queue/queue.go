// Package queue carries stats refresh requests from the station processes to the worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TypeStatsRefresh = "stats.refresh"
	DefaultKey       = "checkin:refresh"
)

// Message is one queued request.
type Message struct {
	Type    string    `json:"type"`
	Station string    `json:"station,omitempty"`
	At      time.Time `json:"at"`
}

// Queue is the abstraction over the memory and Redis backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a bounded channel queue for single-process setups and tests.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a queue holding at most size pending messages.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 1
	}
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues msg, blocking while the queue is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume forwards messages until ctx is done. The returned channel is then closed.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue is a Redis list used with LPUSH/BRPOP, one JSON message per element.
type RedisQueue struct {
	client  *redis.Client
	key     string
	log     zerolog.Logger
	block   time.Duration
	backoff time.Duration
}

// NewRedisQueue uses key, or DefaultKey when empty.
func NewRedisQueue(client *redis.Client, key string, log zerolog.Logger) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key, log: log, block: 5 * time.Second, backoff: 500 * time.Millisecond}
}

// Publish pushes msg as JSON.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: encode %s: %w", msg.Type, err)
	}
	return q.client.LPush(ctx, q.key, b).Err()
}

// Consume pops messages with BRPOP until ctx is done. Malformed entries are logged and skipped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			res, err := q.client.BRPop(ctx, q.block, q.key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				q.log.Warn().Err(err).Str("key", q.key).Msg("queue pop failed")
				select {
				case <-time.After(q.backoff):
				case <-ctx.Done():
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				q.log.Warn().Err(err).Str("payload", res[1]).Msg("queue message discarded")
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}
