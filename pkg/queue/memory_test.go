package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue(8)
	defer q.Close()
	ctx := context.Background()

	ids := []string{"job-1", "job-2", "job-3"}
	for _, id := range ids {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected length 3, got %d", n)
	}

	for _, want := range ids {
		got, err := q.Dequeue(ctx, time.Second)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}

func TestMemoryQueueTimeout(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	start := time.Now()
	_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	if err != ErrQueueEmpty {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Errorf("Dequeue returned before the timeout elapsed")
	}
}

func TestMemoryQueueContextCancel(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := q.Dequeue(ctx, 5*time.Second)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// double close is safe
	if err := q.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := q.Enqueue(context.Background(), "job-1"); err != ErrQueueClosed {
		t.Errorf("expected ErrQueueClosed on enqueue, got %v", err)
	}
	if _, err := q.Dequeue(context.Background(), time.Second); err != ErrQueueClosed {
		t.Errorf("expected ErrQueueClosed on dequeue, got %v", err)
	}
}
