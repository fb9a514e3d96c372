// Package archiver orchestrates one end-to-end archival run: discover
// log files, extract new records, archive them, relay to the queue and
// advance per-file progress. Runs are serialized by an exclusive lock
// and are idempotent: re-running over unchanged files archives nothing.
package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SteelMorgan/license-log-archiver/internal/domain"
	"github.com/SteelMorgan/license-log-archiver/internal/extract"
	"github.com/SteelMorgan/license-log-archiver/internal/progress"
	"github.com/SteelMorgan/license-log-archiver/internal/relay"
	"github.com/SteelMorgan/license-log-archiver/internal/store"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// phase names follow the run state machine:
// idle → discovering → extracting/archiving (per file) → relaying →
// updating-progress → idle, with failures isolated per file
const (
	phaseDiscovering      = "discovering"
	phaseProcessing       = "processing"
	phaseRelaying         = "relaying"
	phaseUpdatingProgress = "updating-progress"
)

// Coordinator runs one archival pass over the configured directories
type Coordinator struct {
	extractor  *extract.Extractor
	tracker    *progress.Tracker
	store      *store.Store
	pending    *relay.PendingStore
	relayer    *relay.Relayer
	logDirs    []string
	maxWorkers int
	force      bool
}

// NewCoordinator wires a coordinator from its collaborators
func NewCoordinator(
	extractor *extract.Extractor,
	tracker *progress.Tracker,
	st *store.Store,
	pending *relay.PendingStore,
	relayer *relay.Relayer,
	logDirs []string,
	maxWorkers int,
	force bool,
) *Coordinator {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Coordinator{
		extractor:  extractor,
		tracker:    tracker,
		store:      st,
		pending:    pending,
		relayer:    relayer,
		logDirs:    logDirs,
		maxWorkers: maxWorkers,
		force:      force,
	}
}

// Run executes a single archival pass. Per-file failures are isolated
// and collected into the report; the returned error covers only
// run-level failures (progress flush). Relay unavailability is not an
// error: undelivered messages stay pending for the next run.
func (c *Coordinator) Run(ctx context.Context) (*domain.RunReport, error) {
	tracer := otel.Tracer("archiver")
	ctx, span := tracer.Start(ctx, "archiver.run")
	defer span.End()

	report := &domain.RunReport{StartTime: time.Now().UTC()}

	c.setPhase(phaseDiscovering)
	files, err := c.discoverFiles()
	if err != nil {
		report.EndTime = time.Now().UTC()
		return report, fmt.Errorf("file discovery failed: %w", err)
	}
	report.FilesSeen = len(files)
	span.SetAttributes(attribute.Int("files.seen", len(files)))

	c.setPhase(phaseProcessing)
	results := c.processFiles(ctx, files)

	for _, res := range results {
		report.FileResults = append(report.FileResults, res)
		report.RecordsArchived += res.RecordsArchived
		report.LinesSkipped += res.LinesSkipped
		if res.Err != nil {
			report.FilesFailed++
			log.Error().
				Err(res.Err).
				Str("file", res.Path).
				Msg("File processing failed, will retry next run")
		}
	}

	c.setPhase(phaseRelaying)
	relayed, remaining, relayErr := c.relayer.RelayPending(ctx)
	report.RecordsRelayed = relayed
	report.RelayPending = remaining
	if relayErr != nil {
		log.Warn().
			Err(relayErr).
			Int("pending", remaining).
			Msg("Relay incomplete, archived records remain pending")
	}

	c.setPhase(phaseUpdatingProgress)
	if err := c.tracker.Flush(); err != nil {
		report.EndTime = time.Now().UTC()
		return report, fmt.Errorf("failed to persist progress: %w", err)
	}

	report.EndTime = time.Now().UTC()
	log.Info().
		Int("files_seen", report.FilesSeen).
		Int("files_failed", report.FilesFailed).
		Int("records_archived", report.RecordsArchived).
		Int("records_relayed", report.RecordsRelayed).
		Int("relay_pending", report.RelayPending).
		Int("lines_skipped", report.LinesSkipped).
		Dur("duration", report.Duration()).
		Msg("Run complete")

	return report, nil
}

func (c *Coordinator) setPhase(phase string) {
	log.Debug().Str("phase", phase).Msg("Run phase")
}

// discoverFiles lists .log files across the configured directories,
// sorted by path for deterministic processing order
func (c *Coordinator) discoverFiles() ([]string, error) {
	var files []string

	for _, dir := range c.logDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read log directory %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
				continue
			}
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}

	sort.Strings(files)
	return files, nil
}

// processFiles runs per-file processing with bounded parallelism.
// Files are independent: each has its own progress entry and its own
// archival transaction, so one failure never blocks the others.
func (c *Coordinator) processFiles(ctx context.Context, files []string) []domain.FileResult {
	results := make([]domain.FileResult, len(files))

	sem := make(chan struct{}, c.maxWorkers)
	var wg sync.WaitGroup

	for i, path := range files {
		if ctx.Err() != nil {
			results[i] = domain.FileResult{Path: path, Err: ctx.Err()}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = c.processFile(ctx, path)
		}(i, path)
	}

	wg.Wait()
	return results
}

// processFile extracts, archives and marks pending one file's new
// records, then records fresh progress in memory. Progress is not
// advanced on any error so the byte range is retried next run; the
// dedup key absorbs the re-parse.
func (c *Coordinator) processFile(ctx context.Context, path string) domain.FileResult {
	tracer := otel.Tracer("archiver")
	ctx, span := tracer.Start(ctx, "archiver.file")
	span.SetAttributes(attribute.String("file.path", path))
	defer span.End()

	result := domain.FileResult{Path: path}

	stored := c.tracker.Load(path)
	fromOffset := stored.Offset

	switch {
	case c.force:
		fromOffset = 0
	case progress.ShouldResetOffset(stored):
		fromOffset = 0
		result.OffsetReset = true
	}

	var records []domain.LogRecord
	res, err := c.extractor.ExtractFrom(ctx, path, fromOffset, func(r domain.LogRecord) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		result.Err = fmt.Errorf("extraction failed: %w", err)
		return result
	}

	result.RecordsExtracted = len(records)
	result.LinesSkipped = res.Skipped

	inserted, err := c.store.Append(ctx, records)
	if err != nil {
		result.Err = fmt.Errorf("archival failed: %w", err)
		return result
	}
	result.RecordsArchived = len(inserted)

	// Only newly archived records are queued for relay; a forced
	// reprocess or crash-recovery re-parse therefore never relays a
	// record twice
	if err := c.pending.MarkBatch(inserted); err != nil {
		result.Err = fmt.Errorf("failed to mark pending relay: %w", err)
		return result
	}

	c.tracker.Save(domain.FileProgress{
		Path:        path,
		Offset:      res.NewOffset,
		Fingerprint: res.Fingerprint,
	})

	log.Info().
		Str("file", path).
		Int64("from_offset", fromOffset).
		Int64("new_offset", res.NewOffset).
		Int("extracted", result.RecordsExtracted).
		Int("archived", len(inserted)).
		Int("skipped", res.Skipped).
		Bool("offset_reset", result.OffsetReset).
		Msg("File processed")

	return result
}
