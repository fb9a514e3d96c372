// Package progress persists per-file read positions so runs are
// incremental and crash-safe. The whole map is written as one JSON
// document and replaced atomically, so a crash mid-save never leaves a
// corrupt tracker behind.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/SteelMorgan/license-log-archiver/internal/domain"
	"github.com/SteelMorgan/license-log-archiver/internal/extract"
	"github.com/rs/zerolog/log"
)

// Tracker stores FileProgress entries keyed by source file path
type Tracker struct {
	path    string
	mu      sync.Mutex
	entries map[string]domain.FileProgress
}

// Open loads the tracker from path. A missing file yields an empty
// tracker; an unreadable or corrupt file is an error (the caller
// treats it as fatal rather than silently reprocessing everything).
func Open(path string) (*Tracker, error) {
	t := &Tracker{
		path:    path,
		entries: make(map[string]domain.FileProgress),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", path).Msg("No progress file found, starting fresh")
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}

	if err := json.Unmarshal(data, &t.entries); err != nil {
		return nil, fmt.Errorf("progress file corrupted: %w", err)
	}

	log.Info().
		Str("path", path).
		Int("files", len(t.entries)).
		Msg("Progress tracker loaded")

	return t, nil
}

// Load returns the stored progress for a file, or a zero-offset
// default if the file has not been seen before
func (t *Tracker) Load(filePath string) domain.FileProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.entries[filePath]; ok {
		return p
	}
	return domain.FileProgress{Path: filePath}
}

// Save records progress for a file in memory. Flush persists it.
func (t *Tracker) Save(p domain.FileProgress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p.UpdatedAt = time.Now().UTC()
	t.entries[p.Path] = p
}

// Flush writes the tracker to a temporary file and atomically replaces
// the progress file
func (t *Tracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.MarshalIndent(t.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create progress dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".progress-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp progress file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp progress file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp progress file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp progress file: %w", err)
	}

	if err := os.Rename(tmpPath, t.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace progress file: %w", err)
	}

	log.Debug().
		Str("path", t.path).
		Int("files", len(t.entries)).
		Msg("Progress flushed")

	return nil
}

// ShouldResetOffset reports whether a file must be re-read from offset
// zero. True when the file shrank below the stored offset or when the
// fingerprint of its first Offset bytes no longer matches (rotation,
// truncation or in-place rewrite).
func ShouldResetOffset(stored domain.FileProgress) bool {
	if stored.Offset == 0 {
		return false
	}

	info, err := os.Stat(stored.Path)
	if err != nil {
		log.Warn().Err(err).Str("file", stored.Path).Msg("Failed to stat file, resetting offset")
		return true
	}
	if info.Size() < stored.Offset {
		log.Info().
			Str("file", stored.Path).
			Int64("stored_offset", stored.Offset).
			Int64("file_size", info.Size()).
			Msg("File shrank below stored offset, resetting")
		return true
	}

	fp, err := extract.FingerprintPrefix(stored.Path, stored.Offset)
	if err != nil {
		log.Warn().Err(err).Str("file", stored.Path).Msg("Failed to fingerprint prefix, resetting offset")
		return true
	}
	if fp != stored.Fingerprint {
		log.Info().
			Str("file", stored.Path).
			Msg("Fingerprint mismatch, file was rotated or rewritten, resetting")
		return true
	}

	return false
}
