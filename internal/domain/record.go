package domain

import "time"

// EventKind classifies a license event
type EventKind string

const (
	KindCheckout EventKind = "checkout"
	KindCheckin  EventKind = "checkin"
	KindDenial   EventKind = "denial"
	KindOther    EventKind = "other"
)

// LogRecord represents a single license event extracted from a usage log.
// (SourceFile, ByteOffset) uniquely identifies a record and is the
// archival deduplication key. Records are never mutated after archival.
type LogRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Feature      string    `json:"feature"`
	User         string    `json:"user"`
	Host         string    `json:"host"`
	Kind         EventKind `json:"kind"`
	DurationSecs *int64    `json:"duration_secs,omitempty"` // Present only for checkin events
	RawLine      string    `json:"raw_line"`
	SourceFile   string    `json:"source_file"`
	ByteOffset   int64     `json:"byte_offset"` // Offset of the line start within SourceFile
}

// Key returns the archival deduplication key for the record
func (r *LogRecord) Key() RecordKey {
	return RecordKey{SourceFile: r.SourceFile, ByteOffset: r.ByteOffset}
}

// RecordKey identifies an archived record
type RecordKey struct {
	SourceFile string
	ByteOffset int64
}
