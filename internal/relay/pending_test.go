package relay

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/SteelMorgan/license-log-archiver/internal/domain"
)

func openTestPending(t *testing.T) *PendingStore {
	t.Helper()
	s, err := OpenPendingStore(filepath.Join(t.TempDir(), "pending.db"))
	if err != nil {
		t.Fatalf("OpenPendingStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func pendingRecord(offset int64) domain.LogRecord {
	return domain.LogRecord{
		Timestamp:  time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Feature:    "CAD",
		User:       "alice",
		Host:       "h1",
		Kind:       domain.KindCheckout,
		SourceFile: "/logs/vendor.log",
		ByteOffset: offset,
	}
}

func TestMarkBatchListRemove(t *testing.T) {
	s := openTestPending(t)

	records := []domain.LogRecord{pendingRecord(0), pendingRecord(100)}
	if err := s.MarkBatch(records); err != nil {
		t.Fatalf("MarkBatch() error = %v", err)
	}

	msgs, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 pending messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.ID == "" {
			t.Errorf("expected message ID to be set")
		}
		if m.EnqueuedAt.IsZero() {
			t.Errorf("expected EnqueuedAt to be set")
		}
	}

	if err := s.Remove(records[0].Key()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 pending after remove, got %d", count)
	}
}

func TestMarkBatch_IdempotentKeepsMessageID(t *testing.T) {
	s := openTestPending(t)
	records := []domain.LogRecord{pendingRecord(0)}

	if err := s.MarkBatch(records); err != nil {
		t.Fatalf("MarkBatch() error = %v", err)
	}
	first, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	// Re-marking after an interrupted run must not mint a new message
	if err := s.MarkBatch(records); err != nil {
		t.Fatalf("second MarkBatch() error = %v", err)
	}
	second, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(second) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(second))
	}
	if second[0].ID != first[0].ID {
		t.Errorf("message ID changed on re-mark: %s != %s", second[0].ID, first[0].ID)
	}
}
