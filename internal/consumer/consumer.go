// Package consumer is the long-lived queue consumer: it pulls relayed
// messages, hands them to a downstream processor, and requeues or
// dead-letters failures with a bounded delivery count.
package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/SteelMorgan/license-log-archiver/internal/domain"
	"github.com/SteelMorgan/license-log-archiver/internal/queue"
	"github.com/rs/zerolog/log"
)

// Processor is the downstream collaborator applied to each consumed
// message (export, alerting). Opaque to the consumer: any error is a
// processing failure and drives redelivery accounting.
type Processor interface {
	Process(ctx context.Context, msg domain.QueueMessage) error
}

// Config holds consumer service settings
type Config struct {
	QueueName      string
	DeadLetterName string
	Workers        int           // Concurrent message processors
	MaxAttempts    int           // Deliveries before dead-lettering
	PopTimeout     time.Duration // Blocking-pop bound, also the shutdown latency
	ProcessTimeout time.Duration // Per-message processing bound
}

// Service consumes the relay queue until its context is cancelled
type Service struct {
	queue     queue.Queue
	processor Processor
	cfg       Config
}

// New creates a consumer service
func New(q queue.Queue, processor Processor, cfg Config) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 30 * time.Second
	}
	return &Service{queue: q, processor: processor, cfg: cfg}
}

// Run starts the worker pool and blocks until ctx is cancelled. Each
// worker runs its own pop loop, so a slow or failing message only
// occupies one worker and never stalls the others. In-flight messages
// are finished before workers exit.
func (s *Service) Run(ctx context.Context) error {
	log.Info().
		Str("queue", s.cfg.QueueName).
		Str("dead_letter", s.cfg.DeadLetterName).
		Int("workers", s.cfg.Workers).
		Int("max_attempts", s.cfg.MaxAttempts).
		Msg("Consumer service starting")

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.workerLoop(ctx, worker)
		}(i)
	}

	wg.Wait()
	log.Info().Msg("Consumer service stopped")
	return ctx.Err()
}

// workerLoop pops and processes messages until cancellation. The pop
// timeout bounds how long shutdown waits for an idle worker.
func (s *Service) workerLoop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := s.queue.PopBlocking(ctx, s.cfg.QueueName, s.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().
				Err(err).
				Int("worker", worker).
				Msg("Queue pop failed, backing off")
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if payload == nil {
			continue // Timed out with an empty queue
		}

		s.handle(ctx, worker, payload)
	}
}

// handle processes one delivery: success retires the message, failure
// requeues it with an incremented attempt count or moves it to the
// dead-letter queue once the maximum is reached
func (s *Service) handle(ctx context.Context, worker int, payload []byte) {
	var msg domain.QueueMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		// An undecodable payload can never succeed; dead-letter it raw
		log.Error().
			Err(err).
			Int("worker", worker).
			Msg("Undecodable message, moving to dead-letter")
		s.deadLetter(ctx, payload)
		return
	}

	msg.Attempts++

	procCtx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
	err := s.processor.Process(procCtx, msg)
	cancel()

	if err == nil {
		log.Debug().
			Str("message_id", msg.ID).
			Int("attempts", msg.Attempts).
			Msg("Message processed")
		return
	}

	log.Warn().
		Err(err).
		Str("message_id", msg.ID).
		Int("attempts", msg.Attempts).
		Int("max_attempts", s.cfg.MaxAttempts).
		Msg("Message processing failed")

	if msg.Attempts >= s.cfg.MaxAttempts {
		data, mErr := json.Marshal(msg)
		if mErr != nil {
			data = payload
		}
		log.Error().
			Str("message_id", msg.ID).
			Int("attempts", msg.Attempts).
			Msg("Max delivery attempts reached, moving to dead-letter")
		s.deadLetter(ctx, data)
		return
	}

	data, mErr := json.Marshal(msg)
	if mErr != nil {
		log.Error().Err(mErr).Str("message_id", msg.ID).Msg("Failed to re-marshal message, dead-lettering")
		s.deadLetter(ctx, payload)
		return
	}
	if err := s.queue.Push(ctx, s.cfg.QueueName, data); err != nil {
		log.Error().
			Err(err).
			Str("message_id", msg.ID).
			Msg("Failed to requeue message")
	}
}

func (s *Service) deadLetter(ctx context.Context, payload []byte) {
	if err := s.queue.Push(ctx, s.cfg.DeadLetterName, payload); err != nil {
		log.Error().Err(err).Msg("Failed to push to dead-letter queue")
	}
}

// LogProcessor is the fallback downstream processor: it only logs the
// consumed event. Used when no export sink is configured.
type LogProcessor struct{}

// Process logs the event
func (LogProcessor) Process(ctx context.Context, msg domain.QueueMessage) error {
	log.Info().
		Str("feature", msg.Record.Feature).
		Str("user", msg.Record.User).
		Str("kind", string(msg.Record.Kind)).
		Time("timestamp", msg.Record.Timestamp).
		Msg("Processing license event")
	return nil
}

var _ Processor = LogProcessor{}
