package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SteelMorgan/license-log-archiver/internal/config"
	"github.com/SteelMorgan/license-log-archiver/internal/consumer"
	"github.com/SteelMorgan/license-log-archiver/internal/observability"
	"github.com/SteelMorgan/license-log-archiver/internal/queue"
	"github.com/SteelMorgan/license-log-archiver/internal/retry"
	"github.com/SteelMorgan/license-log-archiver/internal/sink"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("queue", cfg.QueueName).
		Msg("Starting license log consumer")

	shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "license-log-consumer",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer shutdownTracer(context.Background())
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.RetryMaxAttempts
	retryCfg.InitialDelay = cfg.RetryInitialDelay
	retryCfg.MaxDelay = cfg.RetryMaxDelay

	redisQueue := queue.NewRedisQueue(cfg.RedisAddr, cfg.RedisDB)
	defer redisQueue.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := redisQueue.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Redis unavailable")
	}

	// ClickHouse export when configured, otherwise log-only processing
	var processor consumer.Processor = consumer.LogProcessor{}
	if cfg.ClickHouseHost != "" {
		chSink, err := sink.NewClickHouseSink(cfg.ClickHouseHost, cfg.ClickHousePort, cfg.ClickHouseDB, retryCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to ClickHouse sink")
		}
		defer chSink.Close()
		processor = chSink
	}

	svc := consumer.New(redisQueue, processor, consumer.Config{
		QueueName:      cfg.QueueName,
		DeadLetterName: cfg.DeadLetterQueue,
		Workers:        cfg.ConsumerWorkers,
		MaxAttempts:    cfg.MaxDeliveryAttempts,
		PopTimeout:     cfg.PopTimeout,
		ProcessTimeout: cfg.ProcessTimeout,
	})

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Consumer service error")
		os.Exit(1)
	}

	log.Info().Msg("Consumer stopped")
}
