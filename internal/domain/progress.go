package domain

import "time"

// FileProgress represents the processed position within one source log file.
// Fingerprint is the hex SHA-256 of the first Offset bytes of the file;
// a mismatch on a later run signals rotation or truncation and forces a
// re-read from offset zero. Offset never decreases across runs except on
// such a reset or a forced full reprocess.
type FileProgress struct {
	Path        string    `json:"path"`
	Offset      int64     `json:"offset"`
	Fingerprint string    `json:"fingerprint"`
	UpdatedAt   time.Time `json:"updated_at"`
}
