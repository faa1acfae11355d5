package storage

import (
	"context"
	"time"

	"github.com/dshills/docindex-mcp/pkg/types"
)

// Storage defines the interface for persisting and querying indexed documents
type Storage interface {
	// Folder operations
	EnsureFolder(ctx context.Context, path, model string) (*Folder, error)
	GetFolder(ctx context.Context, path string) (*Folder, error)
	ListFolders(ctx context.Context) ([]*Folder, error)
	MarkFolderIndexed(ctx context.Context, path string, at time.Time) error
	DeleteFolder(ctx context.Context, path string) error
	FolderStats(ctx context.Context, path string) (*FolderStats, error)

	// Document operations
	GetDocument(ctx context.Context, folderPath, relPath string) (*Document, error)
	ListDocumentPaths(ctx context.Context, folderPath string) ([]string, error)
	UpsertDocument(ctx context.Context, folderPath string, doc *Document, chunks []*types.Chunk, vectors [][]float32) error
	DeleteDocument(ctx context.Context, folderPath, relPath string) error

	// Search operations
	Search(ctx context.Context, folderPath string, vector []float32, limit int, filters *SearchFilters) ([]types.SearchResult, error)
	SearchText(ctx context.Context, folderPath string, query string, limit int, filters *SearchFilters) ([]types.SearchResult, error)

	// Integrity operations
	CheckIntegrity(ctx context.Context, folderPath string) (types.Integrity, error)
	Repair(ctx context.Context, folderPath string) (*RepairReport, error)

	// Checkpoint operations
	SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	LoadCheckpoint(ctx context.Context, folderPath string) (*types.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, folderPath string) error
	ListCheckpoints(ctx context.Context) ([]string, error)

	// Database operations
	Close() error
}

// Folder is the store's record of an indexed folder
type Folder struct {
	ID            int64
	Path          string
	Model         string
	LastIndexedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Document is a tracked file inside a folder
type Document struct {
	ID          int64
	FolderID    int64
	RelPath     string // Relative to the folder root
	Title       string
	ContentHash [32]byte
	Model       string // Embedding model the chunks were embedded with
	SizeBytes   int64
	ModTime     time.Time
	ChunkCount  int
	IndexedAt   time.Time
}

// FolderStats summarizes what is stored for one folder
type FolderStats struct {
	FolderPath     string
	DocumentCount  int
	ChunkCount     int
	EmbeddingCount int
	TotalBytes     int64
	LastIndexedAt  time.Time
}

// SearchFilters narrows search results
type SearchFilters struct {
	PathPattern  string  // Glob over document paths relative to the folder
	MinRelevance float64 // Minimum relevance score
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	ChunkID         int64
	SimilarityScore float64
}

// TextResult represents a result from full-text search
type TextResult struct {
	ChunkID   int64
	BM25Score float64
}

// RepairReport lists what Repair removed
type RepairReport struct {
	OrphanChunks        int
	OrphanEmbeddings    int
	IncompleteDocuments int // documents dropped so they are re-indexed
}

// Removed returns the total number of rows removed
func (r *RepairReport) Removed() int {
	return r.OrphanChunks + r.OrphanEmbeddings + r.IncompleteDocuments
}
