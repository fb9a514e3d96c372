package progress

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/SteelMorgan/license-log-archiver/internal/domain"
	"github.com/SteelMorgan/license-log-archiver/internal/extract"
)

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")

	tr, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	p := tr.Load("/logs/a.log")
	if p.Offset != 0 || p.Fingerprint != "" {
		t.Errorf("expected zero-value progress, got %+v", p)
	}
}

func TestOpen_CorruptFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if _, err := Open(path); err == nil {
		t.Errorf("expected error for corrupt progress file")
	}
}

func TestSaveFlushReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")

	tr, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	tr.Save(domain.FileProgress{
		Path:        "/logs/a.log",
		Offset:      1234,
		Fingerprint: "abcd",
	})
	if err := tr.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	// No leftover temp files after the atomic replace
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly the progress file, found %d entries", len(entries))
	}

	tr2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	p := tr2.Load("/logs/a.log")
	if p.Offset != 1234 || p.Fingerprint != "abcd" {
		t.Errorf("unexpected reloaded progress: %+v", p)
	}
	if p.UpdatedAt.IsZero() {
		t.Errorf("expected UpdatedAt to be set")
	}
}

func extractAll(t *testing.T, path string) (int64, string) {
	t.Helper()
	e := extract.NewExtractor(nil)
	res, err := e.ExtractFrom(context.Background(), path, 0, func(domain.LogRecord) error { return nil })
	if err != nil {
		t.Fatalf("ExtractFrom() error = %v", err)
	}
	return res.NewOffset, res.Fingerprint
}

func TestShouldResetOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vendor.log")
	line := "2024-01-01T10:00:00 CHECKOUT feature=CAD user=alice host=h1\n"
	if err := os.WriteFile(path, []byte(line+line), 0644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}

	offset, fp := extractAll(t, path)
	stored := domain.FileProgress{Path: path, Offset: offset, Fingerprint: fp}

	t.Run("unchanged file does not reset", func(t *testing.T) {
		if ShouldResetOffset(stored) {
			t.Errorf("expected no reset for unchanged file")
		}
	})

	t.Run("appended content does not reset", func(t *testing.T) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			t.Fatalf("failed to open for append: %v", err)
		}
		if _, err := f.WriteString(line); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
		f.Close()

		if ShouldResetOffset(stored) {
			t.Errorf("expected no reset after append")
		}
	})

	t.Run("truncation below offset resets", func(t *testing.T) {
		if err := os.WriteFile(path, []byte(line), 0644); err != nil {
			t.Fatalf("failed to truncate: %v", err)
		}
		if !ShouldResetOffset(stored) {
			t.Errorf("expected reset after truncation")
		}
	})

	t.Run("rotation with same size resets on fingerprint", func(t *testing.T) {
		// Same length as the processed prefix, different content
		other := "2024-02-02T11:11:11 CHECKOUT feature=SIM user=carol host=h9\n"
		if err := os.WriteFile(path, []byte(other+other), 0644); err != nil {
			t.Fatalf("failed to rewrite: %v", err)
		}
		if !ShouldResetOffset(stored) {
			t.Errorf("expected reset after in-place rewrite")
		}
	})

	t.Run("zero offset never resets", func(t *testing.T) {
		if ShouldResetOffset(domain.FileProgress{Path: path}) {
			t.Errorf("expected no reset for zero offset")
		}
	})
}
