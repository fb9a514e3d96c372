package archiver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SteelMorgan/license-log-archiver/internal/domain"
	"github.com/SteelMorgan/license-log-archiver/internal/extract"
	"github.com/SteelMorgan/license-log-archiver/internal/progress"
	"github.com/SteelMorgan/license-log-archiver/internal/queue"
	"github.com/SteelMorgan/license-log-archiver/internal/relay"
	"github.com/SteelMorgan/license-log-archiver/internal/retry"
	"github.com/SteelMorgan/license-log-archiver/internal/store"
)

const (
	checkoutLine = "2024-01-01T10:00:00 CHECKOUT feature=CAD user=alice host=h1\n"
	checkinLine  = "2024-01-01T10:05:00 CHECKIN feature=CAD user=alice host=h1 duration=300\n"
)

// testEnv holds the state directories shared by successive runs, the
// way successive archiver invocations share them on disk
type testEnv struct {
	logDir   string
	stateDir string
	queue    *queue.MemoryQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		logDir:   t.TempDir(),
		stateDir: t.TempDir(),
		queue:    queue.NewMemoryQueue(),
	}
}

func (e *testEnv) writeLog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.logDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}
	return path
}

// run builds fresh components over the shared state, executes one
// archival pass and tears the components down, like a real invocation
func (e *testEnv) run(t *testing.T, force bool) *domain.RunReport {
	t.Helper()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 2
	retryCfg.InitialDelay = time.Millisecond

	tracker, err := progress.Open(filepath.Join(e.stateDir, "progress.json"))
	if err != nil {
		t.Fatalf("progress.Open() error = %v", err)
	}

	st, err := store.Open(filepath.Join(e.stateDir, "archive.db"), retryCfg)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()

	pending, err := relay.OpenPendingStore(filepath.Join(e.stateDir, "pending.db"))
	if err != nil {
		t.Fatalf("relay.OpenPendingStore() error = %v", err)
	}
	defer pending.Close()

	relayer := relay.NewRelayer(pending, e.queue, "q", retryCfg, 5*time.Second)
	coord := NewCoordinator(extract.NewExtractor(nil), tracker, st, pending, relayer, []string{e.logDir}, 2, force)

	report, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return report
}

func (e *testEnv) queueLen(t *testing.T) int64 {
	t.Helper()
	n, err := e.queue.Len(context.Background(), "q")
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	return n
}

func TestRun_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeLog(t, "vendor.log", checkoutLine+checkinLine)

	report := env.run(t, false)

	if report.FilesSeen != 1 || report.FilesFailed != 0 {
		t.Fatalf("unexpected file counts: seen=%d failed=%d", report.FilesSeen, report.FilesFailed)
	}
	if report.RecordsArchived != 2 {
		t.Errorf("expected 2 archived, got %d", report.RecordsArchived)
	}
	if report.RecordsRelayed != 2 {
		t.Errorf("expected 2 relayed, got %d", report.RecordsRelayed)
	}
	if report.PartialFailure() {
		t.Errorf("unexpected partial failure")
	}
	if n := env.queueLen(t); n != 2 {
		t.Errorf("expected 2 messages on queue, got %d", n)
	}

	// Progress advanced to end of file
	tracker, err := progress.Open(filepath.Join(env.stateDir, "progress.json"))
	if err != nil {
		t.Fatalf("progress.Open() error = %v", err)
	}
	p := tracker.Load(path)
	if p.Offset != int64(len(checkoutLine)+len(checkinLine)) {
		t.Errorf("expected progress at end of file, got %d", p.Offset)
	}
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.writeLog(t, "vendor.log", checkoutLine+checkinLine)

	env.run(t, false)
	report := env.run(t, false)

	if report.RecordsArchived != 0 {
		t.Errorf("expected 0 archived on second run, got %d", report.RecordsArchived)
	}
	if report.RecordsRelayed != 0 {
		t.Errorf("expected 0 relayed on second run, got %d", report.RecordsRelayed)
	}
	if n := env.queueLen(t); n != 2 {
		t.Errorf("expected still 2 messages on queue, got %d", n)
	}
}

func TestRun_IncrementalAppend(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeLog(t, "vendor.log", checkoutLine)

	env.run(t, false)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("failed to open for append: %v", err)
	}
	if _, err := f.WriteString(checkinLine); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	f.Close()

	report := env.run(t, false)

	if report.RecordsArchived != 1 {
		t.Errorf("expected 1 newly archived after append, got %d", report.RecordsArchived)
	}
	if n := env.queueLen(t); n != 2 {
		t.Errorf("expected 2 messages total, got %d", n)
	}
}

func TestRun_CrashRecoveryReparsesWithoutDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.writeLog(t, "vendor.log", checkoutLine+checkinLine)

	env.run(t, false)

	// Simulate a crash after archival but before the progress update:
	// the progress file never made it to disk
	if err := os.Remove(filepath.Join(env.stateDir, "progress.json")); err != nil {
		t.Fatalf("failed to remove progress file: %v", err)
	}

	report := env.run(t, false)

	if report.RecordsArchived != 0 {
		t.Errorf("expected re-parse to insert 0 duplicates, got %d", report.RecordsArchived)
	}
	if n := env.queueLen(t); n != 2 {
		t.Errorf("expected no duplicate relay after re-parse, got %d messages", n)
	}
}

func TestRun_ForceReprocessNoDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.writeLog(t, "vendor.log", checkoutLine+checkinLine)

	env.run(t, false)
	report := env.run(t, true)

	if report.RecordsArchived != 0 {
		t.Errorf("expected force mode to archive 0 duplicates, got %d", report.RecordsArchived)
	}

	st, err := store.OpenReadOnly(filepath.Join(env.stateDir, "archive.db"))
	if err != nil {
		t.Fatalf("store.OpenReadOnly() error = %v", err)
	}
	defer st.Close()
	stats, err := st.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalRecords != 2 {
		t.Errorf("expected 2 records after forced reprocess, got %d", stats.TotalRecords)
	}
}

func TestRun_RotationResetsOffset(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeLog(t, "vendor.log", checkoutLine+checkinLine)

	env.run(t, false)

	// Rotate: truncate to a smaller size, then new content
	rotated := "2024-02-01T09:00:00 CHECKOUT feature=SIM user=bob host=h2\n"
	if err := os.WriteFile(path, []byte(rotated), 0644); err != nil {
		t.Fatalf("failed to rotate file: %v", err)
	}

	report := env.run(t, false)

	if len(report.FileResults) != 1 {
		t.Fatalf("expected 1 file result, got %d", len(report.FileResults))
	}
	if !report.FileResults[0].OffsetReset {
		t.Errorf("expected offset reset after rotation")
	}
	if report.FileResults[0].RecordsExtracted != 1 {
		t.Errorf("expected rotated content re-parsed from zero, got %d records", report.FileResults[0].RecordsExtracted)
	}

	tracker, err := progress.Open(filepath.Join(env.stateDir, "progress.json"))
	if err != nil {
		t.Fatalf("progress.Open() error = %v", err)
	}
	if p := tracker.Load(path); p.Offset != int64(len(rotated)) {
		t.Errorf("expected progress at end of rotated file, got %d", p.Offset)
	}
}

func TestRun_QueueOutageKeepsRecordsPending(t *testing.T) {
	env := newTestEnv(t)
	env.writeLog(t, "vendor.log", checkoutLine+checkinLine)

	env.queue.SetPushError(errors.New("connection refused"))
	report := env.run(t, false)

	if report.RecordsArchived != 2 {
		t.Errorf("expected archival to succeed despite queue outage, got %d", report.RecordsArchived)
	}
	if report.RecordsRelayed != 0 || report.RelayPending != 2 {
		t.Errorf("expected 0 relayed / 2 pending, got %d/%d", report.RecordsRelayed, report.RelayPending)
	}
	if report.PartialFailure() {
		t.Errorf("queue outage must not be a file failure")
	}

	// Queue restored: the next run relays exactly once without
	// re-archiving anything
	env.queue.SetPushError(nil)
	report = env.run(t, false)

	if report.RecordsArchived != 0 {
		t.Errorf("expected 0 archived on recovery run, got %d", report.RecordsArchived)
	}
	if report.RecordsRelayed != 2 {
		t.Errorf("expected 2 relayed on recovery run, got %d", report.RecordsRelayed)
	}
	if n := env.queueLen(t); n != 2 {
		t.Errorf("expected exactly 2 messages after recovery, got %d", n)
	}
}

func TestRun_MultipleFiles(t *testing.T) {
	env := newTestEnv(t)
	env.writeLog(t, "a.log", checkoutLine)
	env.writeLog(t, "b.log", checkinLine)
	env.writeLog(t, "notes.txt", "not a log file\n")

	report := env.run(t, false)

	if report.FilesSeen != 2 {
		t.Errorf("expected 2 log files discovered, got %d", report.FilesSeen)
	}
	if report.RecordsArchived != 2 {
		t.Errorf("expected 2 records across files, got %d", report.RecordsArchived)
	}
}
