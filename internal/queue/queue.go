// Package queue carries suggestion job identifiers from the submission path
// to the dispatcher.
package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrClosed    = errors.New("job queue is closed")
)

// Queue is an at-least-once FIFO of job ids. Ids travel as strings and are
// validated by the consumer. Implementations must be safe for concurrent use
// by many producers and consumers.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks until a job id is available, ctx is done, or the queue
	// is closed.
	Dequeue(ctx context.Context) (string, error)
	Close() error
}

// MemoryQueue is a bounded in-process queue. Enqueue never blocks.
type MemoryQueue struct {
	jobs      chan string
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{
		jobs: make(chan string, size),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.jobs <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.jobs:
		return id, nil
	case <-q.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len reports the number of buffered job ids.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
