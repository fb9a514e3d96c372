package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SteelMorgan/license-log-archiver/internal/queue"
	"github.com/SteelMorgan/license-log-archiver/internal/retry"
	"github.com/rs/zerolog/log"
)

// Relayer publishes pending messages to the downstream queue with
// bounded retry. Messages that cannot be delivered within the run
// deadline keep their markers and are retried on the next run.
type Relayer struct {
	pending   *PendingStore
	queue     queue.Queue
	queueName string
	retryCfg  retry.Config
	deadline  time.Duration
}

// NewRelayer creates a relayer publishing to the named queue
func NewRelayer(pending *PendingStore, q queue.Queue, queueName string, retryCfg retry.Config, deadline time.Duration) *Relayer {
	return &Relayer{
		pending:   pending,
		queue:     q,
		queueName: queueName,
		retryCfg:  retryCfg,
		deadline:  deadline,
	}
}

// RelayPending drains the pending store, pushing each message exactly
// once on success. Returns the number relayed and the number still
// pending. Delivery failure after retries aborts the pass; archival is
// never affected.
func (r *Relayer) RelayPending(ctx context.Context) (relayed, remaining int, err error) {
	msgs, err := r.pending.List()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list pending messages: %w", err)
	}
	if len(msgs) == 0 {
		return 0, 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	log.Info().
		Int("pending", len(msgs)).
		Str("queue", r.queueName).
		Msg("Relaying pending messages")

	for i, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			// A message that cannot be serialized will never succeed;
			// drop its marker and report it
			log.Error().
				Err(err).
				Str("message_id", msg.ID).
				Msg("Unserializable pending message, dropping marker")
			if rmErr := r.pending.Remove(msg.Record.Key()); rmErr != nil {
				return relayed, len(msgs) - i, rmErr
			}
			continue
		}

		err = retry.Do(ctx, r.retryCfg, func() error {
			return r.queue.Push(ctx, r.queueName, payload)
		})
		if err != nil {
			// Queue unreachable: keep the remaining markers for the
			// next run
			remaining = len(msgs) - i
			log.Warn().
				Err(err).
				Int("relayed", relayed).
				Int("remaining", remaining).
				Msg("Queue unavailable, deferring remaining messages to next run")
			return relayed, remaining, fmt.Errorf("relay deferred: %w", err)
		}

		if err := r.pending.Remove(msg.Record.Key()); err != nil {
			return relayed, len(msgs) - i, fmt.Errorf("failed to clear relayed marker: %w", err)
		}
		relayed++
	}

	log.Info().Int("relayed", relayed).Msg("Relay pass complete")
	return relayed, 0, nil
}
