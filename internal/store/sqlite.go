// Package store is the archival store: an embedded SQLite database
// holding every record ever extracted. The UNIQUE(source_file,
// byte_offset) constraint makes re-archival of any byte range a no-op.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/SteelMorgan/license-log-archiver/internal/domain"
	"github.com/SteelMorgan/license-log-archiver/internal/retry"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1.0"

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	schema_version TEXT
);

CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_time TEXT NOT NULL,
	feature TEXT NOT NULL,
	user_name TEXT NOT NULL,
	host TEXT NOT NULL,
	kind TEXT NOT NULL,
	duration_secs INTEGER,
	raw_line TEXT NOT NULL,
	source_file TEXT NOT NULL,
	byte_offset INTEGER NOT NULL,
	UNIQUE(source_file, byte_offset)
);

CREATE INDEX IF NOT EXISTS idx_records_event_time ON records(event_time);
`

// Store wraps the SQLite archival database
type Store struct {
	db       *sql.DB
	retryCfg retry.Config
}

// Open opens (creating if needed) the archival store at path
func Open(path string, retryCfg retry.Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archival store: %w", err)
	}

	// The store has a single writer (guarded by the run lock); ad hoc
	// readers open their own read-only connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := ensureSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("Archival store opened")

	return &Store{db: db, retryCfg: retryCfg}, nil
}

// OpenReadOnly opens the store for ad hoc inspection. Never takes the
// run lock and never blocks a concurrent archiver run.
func OpenReadOnly(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archival store read-only: %w", err)
	}
	return &Store{db: db, retryCfg: retry.DefaultConfig()}, nil
}

func ensureSchemaVersion(db *sql.DB) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM meta").Scan(&count); err != nil {
		return fmt.Errorf("failed to read meta: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec("INSERT INTO meta (schema_version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("failed to write schema version: %w", err)
		}
	}
	return nil
}

// Append inserts records in a single transaction, skipping rows whose
// (source_file, byte_offset) key is already archived. Returns the
// records actually inserted, so the caller can relay only genuinely
// new records. On error the whole batch rolls back, progress for the
// file is not advanced, and the batch is retried on the next run.
func (s *Store) Append(ctx context.Context, records []domain.LogRecord) ([]domain.LogRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	return retry.DoWithResult(ctx, s.retryCfg, func() ([]domain.LogRecord, error) {
		return s.appendTx(ctx, records)
	})
}

func (s *Store) appendTx(ctx context.Context, records []domain.LogRecord) ([]domain.LogRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO records
		(event_time, feature, user_name, host, kind, duration_secs, raw_line, source_file, byte_offset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted []domain.LogRecord
	for _, r := range records {
		var duration sql.NullInt64
		if r.DurationSecs != nil {
			duration = sql.NullInt64{Int64: *r.DurationSecs, Valid: true}
		}

		res, err := stmt.ExecContext(ctx,
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Feature,
			r.User,
			r.Host,
			string(r.Kind),
			duration,
			r.RawLine,
			r.SourceFile,
			r.ByteOffset,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert record %s:%d: %w", r.SourceFile, r.ByteOffset, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n > 0 {
			inserted = append(inserted, r)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	log.Debug().
		Int("records", len(records)).
		Int("inserted", len(inserted)).
		Msg("Batch archived")

	return inserted, nil
}

// Stats holds archive-level counters for inspection
type Stats struct {
	TotalRecords int64
	ByKind       map[domain.EventKind]int64
	SourceFiles  int64
}

// Stats returns archive totals
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByKind: make(map[domain.EventKind]int64)}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&st.TotalRecords); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT source_file) FROM records").Scan(&st.SourceFiles); err != nil {
		return nil, fmt.Errorf("failed to count source files: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM records GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("failed to count by kind: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan kind count: %w", err)
		}
		st.ByKind[domain.EventKind(kind)] = count
	}

	return st, rows.Err()
}

// Recent returns the most recently archived records, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.LogRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_time, feature, user_name, host, kind, duration_secs, raw_line, source_file, byte_offset
		FROM records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent records: %w", err)
	}
	defer rows.Close()

	var records []domain.LogRecord
	for rows.Next() {
		var r domain.LogRecord
		var ts string
		var kind string
		var duration sql.NullInt64

		if err := rows.Scan(&ts, &r.Feature, &r.User, &r.Host, &kind, &duration, &r.RawLine, &r.SourceFile, &r.ByteOffset); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("invalid event_time %q: %w", ts, err)
		}
		r.Timestamp = parsed
		r.Kind = domain.EventKind(kind)
		if duration.Valid {
			d := duration.Int64
			r.DurationSecs = &d
		}

		records = append(records, r)
	}

	return records, rows.Err()
}

// Close closes the database
func (s *Store) Close() error {
	log.Info().Msg("Closing archival store")
	return s.db.Close()
}
