package indexer

import (
	"errors"
	"fmt"
)

// Stages a systemic failure can originate from
const (
	StageModel  = "model"
	StageEmbed  = "embed"
	StageStore  = "store"
	StageFolder = "folder"
)

// ErrFolderUnavailable is returned when the folder root cannot be enumerated
var ErrFolderUnavailable = errors.New("folder unavailable")

// SystemicError means the folder cannot make progress: the store or the
// embedding backend kept failing after retries, or the folder vanished. It
// moves the folder to error status and is not retried automatically.
type SystemicError struct {
	Folder   string
	Stage    string
	Path     string // file being processed, if any
	Attempts int
	Err      error
}

func (e *SystemicError) Error() string {
	switch e.Stage {
	case StageEmbed:
		return fmt.Sprintf("embedding backend unreachable after %d attempts: %v", e.Attempts, e.Err)
	case StageStore:
		return fmt.Sprintf("store unavailable after %d attempts: %v", e.Attempts, e.Err)
	case StageModel:
		return fmt.Sprintf("embedding model could not be prepared: %v", e.Err)
	case StageFolder:
		return fmt.Sprintf("folder cannot be read: %v", e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *SystemicError) Unwrap() error { return e.Err }

// IsSystemic reports whether err (or anything it wraps) is a SystemicError
func IsSystemic(err error) bool {
	var se *SystemicError
	return errors.As(err, &se)
}
