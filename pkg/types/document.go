package types

import "time"

// Document is the parsed text of one file inside a folder
type Document struct {
	Path        string // Relative to the folder root
	AbsPath     string
	Title       string
	Content     string
	Lines       []string
	ContentHash [32]byte
	SizeBytes   int64
	ModTime     time.Time
}

// LineCount returns the number of lines in the document
func (d *Document) LineCount() int {
	return len(d.Lines)
}
