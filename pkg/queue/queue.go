package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQueueEmpty is returned by Dequeue when no job id became
	// available within the timeout. Callers treat it as an idle tick,
	// not a failure.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrQueueClosed is returned once the queue has been shut down.
	ErrQueueClosed = errors.New("queue closed")
)

// Queue is a FIFO job-id queue with at-least-once delivery. A popped id
// that the consumer fails to process is simply re-enqueued by whoever
// notices; consumers must tolerate redelivery of ids whose job already
// reached a terminal state.
type Queue interface {
	// Enqueue appends a job id to the tail of the queue.
	Enqueue(ctx context.Context, jobID string) error

	// Dequeue blocks up to timeout for the next job id. Returns
	// ErrQueueEmpty when the timeout elapses with nothing available.
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)

	// Len reports the number of pending job ids.
	Len(ctx context.Context) (int64, error)

	Close() error
}

// Config selects and parameterizes a queue backend
type Config struct {
	Type string // "redis" or "memory"
	URL  string // redis connection URL
	Name string // queue key name
}

// New creates a queue from config
func New(config Config) (Queue, error) {
	switch config.Type {
	case "redis", "":
		return NewRedisQueue(config.URL, config.Name)
	case "memory":
		return NewMemoryQueue(1024), nil
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", config.Type)
	}
}
