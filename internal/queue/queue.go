// Package queue provides clients for the durable relay queue. The
// queue itself is an external collaborator; only push/pop semantics
// with bounded timeouts live here.
package queue

import (
	"context"
	"time"
)

// Queue is the minimal surface the relay producer and the consumer
// service need. Implementations: Redis (production), Memory (tests
// and local development).
type Queue interface {
	// Push appends a payload to the named queue
	Push(ctx context.Context, name string, payload []byte) error

	// PopBlocking removes and returns the head of the named queue,
	// blocking up to timeout. Returns (nil, nil) when the queue stays
	// empty for the whole timeout.
	PopBlocking(ctx context.Context, name string, timeout time.Duration) ([]byte, error)

	// Len returns the number of payloads waiting in the named queue
	Len(ctx context.Context, name string) (int64, error)
}
