package types

import "errors"

var (
	// Folder configuration
	ErrEmptyPath  = errors.New("folder path cannot be empty")
	ErrEmptyModel = errors.New("embedding model cannot be empty")

	// Chunks and search results
	ErrEmptyContent          = errors.New("content cannot be empty")
	ErrInvalidLineRange      = errors.New("line range must be positive and ordered")
	ErrInvalidChunkID        = errors.New("invalid chunk ID")
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrMissingFileInfo       = errors.New("folder and document path are required")
)
