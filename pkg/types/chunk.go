package types

import (
	"crypto/sha256"
	"strings"
)

// Chunk is a contiguous section of a document sized for one embedding
type Chunk struct {
	// Identification
	ID         int64
	DocumentID int64
	Ordinal    int // Position within the document (0-based)

	// Content
	Content     string
	ContentHash [32]byte // SHA-256 hash for deduplication
	TokenCount  int
	Heading     string // Nearest preceding heading, if the document has one

	// Location
	StartLine int
	EndLine   int
}

// ValidateContent checks if the chunk content is valid
func (c *Chunk) ValidateContent() error {
	if strings.TrimSpace(c.Content) == "" {
		return ErrEmptyContent
	}

	if c.StartLine <= 0 || c.EndLine <= 0 {
		return ErrInvalidLineRange
	}

	if c.StartLine > c.EndLine {
		return ErrInvalidLineRange
	}

	return nil
}

// ComputeTokenCount estimates the number of tokens in the chunk
// Uses a simple heuristic: characters / 4
func (c *Chunk) ComputeTokenCount() int {
	totalChars := len(c.Content) + len(c.Heading)
	c.TokenCount = totalChars / 4
	return c.TokenCount
}

// ComputeContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// EmbeddingText returns the text sent to the embedding backend
func (c *Chunk) EmbeddingText() string {
	if c.Heading == "" || strings.HasPrefix(c.Content, c.Heading) {
		return c.Content
	}
	return c.Heading + "\n\n" + c.Content
}
