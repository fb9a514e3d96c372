// Package sink provides the shipped downstream processor for the
// consumer service: a ClickHouse exporter feeding the analytics stack.
package sink

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/SteelMorgan/license-log-archiver/internal/domain"
	"github.com/SteelMorgan/license-log-archiver/internal/retry"
	"github.com/rs/zerolog/log"
)

const createTable = `
CREATE TABLE IF NOT EXISTS license_events (
	event_time    DateTime64(3, 'UTC'),
	feature       LowCardinality(String),
	user_name     String,
	host          String,
	kind          LowCardinality(String),
	duration_secs Nullable(Int64),
	raw_line      String,
	source_file   String,
	byte_offset   Int64,
	message_id    String,
	enqueued_at   DateTime64(3, 'UTC'),
	attempts      UInt8
) ENGINE = MergeTree()
ORDER BY (event_time, feature)
`

// ClickHouseSink writes consumed license events to ClickHouse
type ClickHouseSink struct {
	conn     clickhouse.Conn
	retryCfg retry.Config
}

// NewClickHouseSink connects to ClickHouse and ensures the events
// table exists
func NewClickHouseSink(host string, port int, database string, retryCfg retry.Config) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", host, port)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: "default",
			Password: "",
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	ctx := context.Background()
	if err := retry.Do(ctx, retryCfg, func() error {
		return conn.Ping(ctx)
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	if err := conn.Exec(ctx, createTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create license_events table: %w", err)
	}

	log.Info().
		Str("host", host).
		Int("port", port).
		Str("database", database).
		Msg("Connected to ClickHouse sink")

	return &ClickHouseSink{conn: conn, retryCfg: retryCfg}, nil
}

// Process exports one consumed message. Errors propagate to the
// consumer's redelivery accounting.
func (s *ClickHouseSink) Process(ctx context.Context, msg domain.QueueMessage) error {
	return retry.Do(ctx, s.retryCfg, func() error {
		batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO license_events")
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}

		var duration *int64
		if msg.Record.DurationSecs != nil {
			d := *msg.Record.DurationSecs
			duration = &d
		}

		if err := batch.Append(
			msg.Record.Timestamp,
			msg.Record.Feature,
			msg.Record.User,
			msg.Record.Host,
			string(msg.Record.Kind),
			duration,
			msg.Record.RawLine,
			msg.Record.SourceFile,
			msg.Record.ByteOffset,
			msg.ID,
			msg.EnqueuedAt,
			uint8(msg.Attempts),
		); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}

		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
		return nil
	})
}

// Close closes the connection
func (s *ClickHouseSink) Close() error {
	log.Info().Msg("Closing ClickHouse sink")
	return s.conn.Close()
}
