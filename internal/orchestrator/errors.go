package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned by commands issued before Start or after Shutdown
	ErrNotStarted = errors.New("orchestrator not started")
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("orchestrator already started")
	// ErrSystemBusy means the operation queue is full; try again later.
	// It is never reported as a folder error.
	ErrSystemBusy = errors.New("system busy, try later")
	// ErrFolderNotFound means the path is not a configured folder
	ErrFolderNotFound = errors.New("folder not configured")
)

// ValidationError rejects a folder path before any state is created
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid folder %q: %s", e.Path, e.Reason)
}

// IsValidation reports whether err is a folder validation failure
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
