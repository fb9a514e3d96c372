package domain

import "time"

// FileResult summarizes processing of a single source file during a run
type FileResult struct {
	Path             string
	RecordsExtracted int
	RecordsArchived  int
	LinesSkipped     int
	OffsetReset      bool // File was rotated/truncated and re-read from zero
	Err              error
}

// RunReport aggregates the outcome of one archiver run
type RunReport struct {
	StartTime       time.Time
	EndTime         time.Time
	FilesSeen       int
	FilesFailed     int
	RecordsArchived int
	RecordsRelayed  int
	RelayPending    int // Archived but not yet relayed (queue unavailable)
	LinesSkipped    int
	FileResults     []FileResult
}

// PartialFailure reports whether any file failed during the run
func (r *RunReport) PartialFailure() bool {
	return r.FilesFailed > 0
}

// Duration returns the wall-clock duration of the run
func (r *RunReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
