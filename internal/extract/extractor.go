package extract

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/SteelMorgan/license-log-archiver/internal/domain"
	"github.com/rs/zerolog/log"
)

// Result summarizes one extraction pass over a file
type Result struct {
	NewOffset   int64
	Fingerprint string // Hex SHA-256 of bytes [0, NewOffset)
	Records     int
	Skipped     int // Lines matching no pattern
}

// Extractor parses raw log lines into LogRecords using a pattern set.
// Stateless; safe for concurrent use across files.
type Extractor struct {
	patterns *PatternSet
}

// NewExtractor creates an extractor over the given pattern set
func NewExtractor(ps *PatternSet) *Extractor {
	if ps == nil {
		ps = DefaultPatternSet()
	}
	return &Extractor{patterns: ps}
}

// ExtractFrom reads complete lines from fromOffset to end of file,
// invoking handler for every line that matches a pattern variant.
// The source file is only ever read, never modified. A trailing line
// without a newline is left unconsumed so a half-written line is not
// parsed until complete. The returned fingerprint covers every byte
// from the start of the file through NewOffset.
func (e *Extractor) ExtractFrom(ctx context.Context, path string, fromOffset int64, handler func(domain.LogRecord) error) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	hasher := sha256.New()

	// Re-hash the already-processed prefix so the fingerprint always
	// covers bytes [0, NewOffset)
	if fromOffset > 0 {
		if _, err := io.CopyN(hasher, f, fromOffset); err != nil {
			return nil, fmt.Errorf("failed to hash prefix of %s: %w", path, err)
		}
	}

	reader := bufio.NewReader(f)
	res := &Result{NewOffset: fromOffset}

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extraction cancelled: %w", err)
		}

		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if !strings.HasSuffix(line, "\n") {
			// Incomplete trailing line: leave it for a later run
			break
		}

		lineStart := res.NewOffset
		hasher.Write([]byte(line))
		res.NewOffset += int64(len(line))

		text := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(text) == "" {
			continue
		}

		record, ok := e.parseLine(text)
		if !ok {
			res.Skipped++
			continue
		}

		record.SourceFile = path
		record.ByteOffset = lineStart
		res.Records++

		if err := handler(*record); err != nil {
			return nil, fmt.Errorf("handler failed at %s:%d: %w", path, lineStart, err)
		}
	}

	res.Fingerprint = hex.EncodeToString(hasher.Sum(nil))
	return res, nil
}

// FingerprintPrefix hashes the first n bytes of a file.
// Returns an error if the file is shorter than n bytes.
func FingerprintPrefix(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return hashPrefix(f, n)
}

func hashPrefix(r io.Reader, n int64) (string, error) {
	hasher := sha256.New()
	if _, err := io.CopyN(hasher, r, n); err != nil {
		return "", fmt.Errorf("failed to hash prefix: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// parseLine dispatches a line against the pattern set.
// Returns false for lines matching no variant.
func (e *Extractor) parseLine(line string) (*domain.LogRecord, bool) {
	for _, v := range e.patterns.Variants {
		m := v.Pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		groups := make(map[string]string)
		for i, name := range v.Pattern.SubexpNames() {
			if name != "" && i < len(m) {
				groups[name] = m[i]
			}
		}

		ts, err := parseTimestamp(groups["ts"])
		if err != nil {
			log.Debug().
				Str("variant", v.Name).
				Str("timestamp", groups["ts"]).
				Msg("Unparseable timestamp, skipping line")
			return nil, false
		}

		record := &domain.LogRecord{
			Timestamp: ts,
			Feature:   groups["feature"],
			User:      groups["user"],
			Host:      groups["host"],
			Kind:      v.Kind,
			RawLine:   line,
		}

		// A malformed duration is recorded as absent, not fatal
		if d, ok := groups["duration"]; ok && d != "" {
			if secs, err := strconv.ParseInt(d, 10, 64); err == nil {
				record.DurationSecs = &secs
			}
		}

		return record, true
	}

	return nil, false
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05:000",
	"2006/01/02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
