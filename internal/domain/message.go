package domain

import "time"

// QueueMessage wraps a LogRecord for relay through the queue.
// A message leaves the queue only after the consumer confirms
// processing; Attempts counts deliveries and drives dead-lettering.
type QueueMessage struct {
	ID         string    `json:"id"`
	Record     LogRecord `json:"record"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}
