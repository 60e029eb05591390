package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// pollTimeout bounds each BRPOP so Close is observed promptly.
const pollTimeout = 2 * time.Second

// RedisQueue is a Redis list used as a queue: producers LPUSH, consumers BRPOP.
// It lets a standalone worker process drain jobs submitted by the API.
type RedisQueue struct {
	client *redis.Client
	name   string
	closed atomic.Bool
}

func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{client: client, name: name}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if err := q.client.LPush(ctx, q.name, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		if q.closed.Load() {
			return "", ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		res, err := q.client.BRPop(ctx, pollTimeout, q.name).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("dequeue job: %w", err)
		}

		// res is [list, value].
		return res[1], nil
	}
}

// Len reports the number of queued job ids.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// Close stops consumers. The shared client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
