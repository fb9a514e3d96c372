package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SteelMorgan/license-log-archiver/internal/archiver"
	"github.com/SteelMorgan/license-log-archiver/internal/config"
	"github.com/SteelMorgan/license-log-archiver/internal/extract"
	"github.com/SteelMorgan/license-log-archiver/internal/observability"
	"github.com/SteelMorgan/license-log-archiver/internal/progress"
	"github.com/SteelMorgan/license-log-archiver/internal/queue"
	"github.com/SteelMorgan/license-log-archiver/internal/relay"
	"github.com/SteelMorgan/license-log-archiver/internal/retry"
	"github.com/SteelMorgan/license-log-archiver/internal/store"
	"github.com/rs/zerolog/log"
)

// Exit codes: 0 success (including lock-held no-op), 1 partial failure
// (some files or records failed), 2 fatal (core resources unavailable)
const (
	exitOK      = 0
	exitPartial = 1
	exitFatal   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	force := flag.Bool("force", false, "Ignore stored progress and reprocess every file (archive stays deduplicated)")
	stats := flag.Bool("stats", false, "Print archive totals and exit (read-only, does not take the run lock)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitFatal
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	if *stats {
		return printStats(cfg)
	}

	if err := cfg.ValidateArchiver(); err != nil {
		log.Error().Err(err).Msg("Invalid archiver configuration")
		return exitFatal
	}

	shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "license-log-archiver",
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

	lock, err := archiver.AcquireRunLock(cfg.LockPath)
	if errors.Is(err, archiver.ErrLockHeld) {
		log.Info().Str("lock", cfg.LockPath).Msg("Another run is in progress, nothing to do")
		return exitOK
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to acquire run lock")
		return exitFatal
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Error().Err(err).Msg("Failed to release run lock")
		}
	}()

	tracker, err := progress.Open(cfg.ProgressPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open progress tracker")
		return exitFatal
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.RetryMaxAttempts
	retryCfg.InitialDelay = cfg.RetryInitialDelay
	retryCfg.MaxDelay = cfg.RetryMaxDelay

	st, err := store.Open(cfg.ArchiveDBPath, retryCfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open archival store")
		return exitFatal
	}
	defer st.Close()

	pending, err := relay.OpenPendingStore(cfg.PendingDBPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open pending-relay store")
		return exitFatal
	}
	defer pending.Close()

	patterns := extract.DefaultPatternSet()
	if cfg.PatternsPath != "" {
		patterns, err = extract.LoadPatternSet(cfg.PatternsPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load pattern set")
			return exitFatal
		}
		log.Info().
			Str("path", cfg.PatternsPath).
			Str("version", patterns.Version).
			Msg("Pattern set loaded")
	}

	redisQueue := queue.NewRedisQueue(cfg.RedisAddr, cfg.RedisDB)
	defer redisQueue.Close()

	relayer := relay.NewRelayer(pending, redisQueue, cfg.QueueName, retryCfg, cfg.RelayDeadline)
	coord := archiver.NewCoordinator(
		extract.NewExtractor(patterns),
		tracker,
		st,
		pending,
		relayer,
		cfg.LogDirs,
		cfg.MaxWorkers,
		*force,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Strs("log_dirs", cfg.LogDirs).
		Bool("force", *force).
		Msg("Starting archiver run")

	report, err := coord.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Run failed")
		return exitPartial
	}
	if report.PartialFailure() {
		return exitPartial
	}
	return exitOK
}

func printStats(cfg *config.Config) int {
	st, err := store.OpenReadOnly(cfg.ArchiveDBPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open archival store")
		return exitFatal
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := st.Stats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read archive stats")
		return exitFatal
	}

	fmt.Printf("Archived records: %d\n", stats.TotalRecords)
	fmt.Printf("Source files:     %d\n", stats.SourceFiles)
	for kind, count := range stats.ByKind {
		fmt.Printf("  %-9s %d\n", kind, count)
	}
	return exitOK
}
