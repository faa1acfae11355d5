package types

import "time"

// Checkpoint is the durable indexing progress marker for one folder.
// It is only trustworthy while ScanGeneration matches the generation of the
// current enumeration.
type Checkpoint struct {
	FolderPath             string
	LastCompletedFileIndex int // -1 when no file has completed
	LastCompletedPath      string
	TotalFilesAtScanStart  int
	ScanGeneration         int64
	Fingerprint            string // sha256 of the sorted file list the generation was computed from
	Model                  string
	UpdatedAt              time.Time
}

// NextIndex returns the enumeration offset indexing should resume from
func (c *Checkpoint) NextIndex() int {
	if c == nil || c.LastCompletedFileIndex < 0 {
		return 0
	}
	return c.LastCompletedFileIndex + 1
}

// Complete reports whether the checkpoint covers the whole enumeration
func (c *Checkpoint) Complete() bool {
	return c != nil && c.NextIndex() >= c.TotalFilesAtScanStart
}
