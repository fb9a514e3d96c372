package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue used by tests and local
// development runs without a Redis instance
type MemoryQueue struct {
	mu      sync.Mutex
	queues  map[string][][]byte
	pushErr error
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{queues: make(map[string][][]byte)}
}

// SetPushError makes Push return err until cleared with nil
func (q *MemoryQueue) SetPushError(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushErr = err
}

// Push appends a payload to the named queue
func (q *MemoryQueue) Push(ctx context.Context, name string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pushErr != nil {
		return q.pushErr
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	q.queues[name] = append(q.queues[name], buf)
	return nil
}

// PopBlocking removes the head of the named queue, polling up to
// timeout. Returns (nil, nil) on timeout.
func (q *MemoryQueue) PopBlocking(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if payload, ok := q.tryPop(name); ok {
			return payload, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) tryPop(name string) ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.queues[name]
	if len(items) == 0 {
		return nil, false
	}
	head := items[0]
	q.queues[name] = items[1:]
	return head, true
}

// Len returns the current length of the named queue
func (q *MemoryQueue) Len(ctx context.Context, name string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.queues[name])), nil
}
