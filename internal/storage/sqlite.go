package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/docindex-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrVectorMismatch is returned when chunks and vectors do not line up
	ErrVectorMismatch = errors.New("chunk and vector counts differ")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Workers and the searcher share the single connection
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn inside a transaction, rolling back on error
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Folder operations

func (s *SQLiteStorage) EnsureFolder(ctx context.Context, path, model string) (*Folder, error) {
	query := `
		INSERT INTO folders (path, model, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			model = excluded.model,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query, path, model, now, now); err != nil {
		return nil, fmt.Errorf("failed to ensure folder: %w", err)
	}
	return s.getFolderWithQuerier(ctx, s.db, path)
}

// getFolderWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getFolderWithQuerier(ctx context.Context, q querier, path string) (*Folder, error) {
	query := `
		SELECT id, path, model, last_indexed_at, created_at, updated_at
		FROM folders
		WHERE path = ?
	`
	var folder Folder
	var lastIndexedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, path).Scan(
		&folder.ID, &folder.Path, &folder.Model, &lastIndexedAt,
		&folder.CreatedAt, &folder.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastIndexedAt.Valid {
		folder.LastIndexedAt = lastIndexedAt.Time
	}
	return &folder, nil
}

func (s *SQLiteStorage) GetFolder(ctx context.Context, path string) (*Folder, error) {
	return s.getFolderWithQuerier(ctx, s.db, path)
}

func (s *SQLiteStorage) ListFolders(ctx context.Context) ([]*Folder, error) {
	query := `
		SELECT id, path, model, last_indexed_at, created_at, updated_at
		FROM folders
		ORDER BY path
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	folders := make([]*Folder, 0)
	for rows.Next() {
		var folder Folder
		var lastIndexedAt sql.NullTime
		if err := rows.Scan(&folder.ID, &folder.Path, &folder.Model, &lastIndexedAt,
			&folder.CreatedAt, &folder.UpdatedAt); err != nil {
			return nil, err
		}
		if lastIndexedAt.Valid {
			folder.LastIndexedAt = lastIndexedAt.Time
		}
		folders = append(folders, &folder)
	}
	return folders, rows.Err()
}

func (s *SQLiteStorage) MarkFolderIndexed(ctx context.Context, path string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE folders SET last_indexed_at = ?, updated_at = ? WHERE path = ?`, at, time.Now(), path)
	if err != nil {
		return fmt.Errorf("failed to mark folder indexed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFolder removes a folder and, through cascading keys, all of its
// documents, chunks and embeddings. Deleting an unknown folder is not an error.
func (s *SQLiteStorage) DeleteFolder(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM folders WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) FolderStats(ctx context.Context, path string) (*FolderStats, error) {
	folder, err := s.GetFolder(ctx, path)
	if err != nil {
		return nil, err
	}

	stats := &FolderStats{FolderPath: path, LastIndexedAt: folder.LastIndexedAt}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM documents WHERE folder_id = ?
	`, folder.ID).Scan(&stats.DocumentCount, &stats.TotalBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(c.id), COUNT(e.id)
		FROM chunks c
		JOIN documents d ON c.document_id = d.id
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE d.folder_id = ?
	`, folder.ID).Scan(&stats.ChunkCount, &stats.EmbeddingCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	return stats, nil
}

// Document operations

const documentColumns = `
	d.id, d.folder_id, d.rel_path, d.title, d.content_hash, d.model,
	d.size_bytes, d.mod_time, d.chunk_count, d.indexed_at
`

func scanDocument(scan func(dest ...interface{}) error) (*Document, error) {
	var doc Document
	var hash []byte
	var title sql.NullString
	var modTime, indexedAt sql.NullTime
	if err := scan(&doc.ID, &doc.FolderID, &doc.RelPath, &title, &hash, &doc.Model,
		&doc.SizeBytes, &modTime, &doc.ChunkCount, &indexedAt); err != nil {
		return nil, err
	}
	copy(doc.ContentHash[:], hash)
	doc.Title = title.String
	if modTime.Valid {
		doc.ModTime = modTime.Time
	}
	if indexedAt.Valid {
		doc.IndexedAt = indexedAt.Time
	}
	return &doc, nil
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, folderPath, relPath string) (*Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents d
		JOIN folders f ON d.folder_id = f.id
		WHERE f.path = ? AND d.rel_path = ?
	`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, folderPath, relPath).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *SQLiteStorage) ListDocumentPaths(ctx context.Context, folderPath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.rel_path
		FROM documents d
		JOIN folders f ON d.folder_id = f.id
		WHERE f.path = ?
		ORDER BY d.rel_path
	`, folderPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	paths := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// UpsertDocument replaces a document's chunks and embeddings in one
// transaction. Either the whole document is visible afterwards or none of
// the new data is.
func (s *SQLiteStorage) UpsertDocument(ctx context.Context, folderPath string, doc *Document, chunks []*types.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrVectorMismatch, len(chunks), len(vectors))
	}

	return s.withTx(ctx, func(q querier) error {
		folder, err := s.getFolderWithQuerier(ctx, q, folderPath)
		if err != nil {
			return fmt.Errorf("folder %s: %w", folderPath, err)
		}
		doc.FolderID = folder.ID
		doc.ChunkCount = len(chunks)
		doc.IndexedAt = time.Now()

		if err := s.upsertDocumentRowWithQuerier(ctx, q, doc); err != nil {
			return err
		}
		// Cascades to embeddings and keeps the FTS index in sync via triggers
		if _, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
			return fmt.Errorf("failed to clear chunks: %w", err)
		}

		for i, chunk := range chunks {
			chunk.DocumentID = doc.ID
			if err := s.insertChunkWithQuerier(ctx, q, chunk); err != nil {
				return err
			}
			if err := s.insertEmbeddingWithQuerier(ctx, q, chunk.ID, vectors[i], doc.Model); err != nil {
				return err
			}
		}
		return nil
	})
}

// upsertDocumentRowWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertDocumentRowWithQuerier(ctx context.Context, q querier, doc *Document) error {
	query := `
		INSERT INTO documents (folder_id, rel_path, title, content_hash, model, size_bytes, mod_time, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(folder_id, rel_path) DO UPDATE SET
			title = excluded.title,
			content_hash = excluded.content_hash,
			model = excluded.model,
			size_bytes = excluded.size_bytes,
			mod_time = excluded.mod_time,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		doc.FolderID, doc.RelPath, doc.Title, doc.ContentHash[:], doc.Model,
		doc.SizeBytes, doc.ModTime, doc.ChunkCount, doc.IndexedAt).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// insertChunkWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertChunkWithQuerier(ctx context.Context, q querier, chunk *types.Chunk) error {
	query := `
		INSERT INTO chunks (document_id, ordinal, content, content_hash, token_count, heading, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		chunk.DocumentID, chunk.Ordinal, chunk.Content, chunk.ContentHash[:],
		chunk.TokenCount, chunk.Heading, chunk.StartLine, chunk.EndLine).Scan(&chunk.ID)
	if err != nil {
		return fmt.Errorf("failed to insert chunk %d: %w", chunk.Ordinal, err)
	}
	return nil
}

// insertEmbeddingWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertEmbeddingWithQuerier(ctx context.Context, q querier, chunkID int64, vector []float32, model string) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for chunk %d", chunkID)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO embeddings (chunk_id, vector, dimension, model, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, chunkID, serializeVector(vector), len(vector), model, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

// DeleteDocument removes one document. Deleting an unknown document is not an error.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, folderPath, relPath string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE rel_path = ? AND folder_id = (SELECT id FROM folders WHERE path = ?)
	`, relPath, folderPath)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// Search operations

// Search returns the chunks most similar to vector. An empty folderPath
// searches every folder.
func (s *SQLiteStorage) Search(ctx context.Context, folderPath string, vector []float32, limit int, filters *SearchFilters) ([]types.SearchResult, error) {
	scored, err := searchVector(ctx, s.db, folderPath, vector, limit, filters)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(scored))
	scores := make([]float64, len(scored))
	for i, r := range scored {
		ids[i] = r.ChunkID
		scores[i] = r.SimilarityScore
	}
	return hydrateResults(ctx, s.db, ids, scores)
}

// SearchText runs a BM25 full-text query over chunk content
func (s *SQLiteStorage) SearchText(ctx context.Context, folderPath string, query string, limit int, filters *SearchFilters) ([]types.SearchResult, error) {
	scored, err := searchText(ctx, s.db, folderPath, query, limit, filters)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(scored))
	scores := make([]float64, len(scored))
	for i, r := range scored {
		ids[i] = r.ChunkID
		scores[i] = r.BM25Score
	}
	return hydrateResults(ctx, s.db, ids, scores)
}

// Checkpoint operations

func (s *SQLiteStorage) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (folder_path, last_completed_index, last_completed_path, total_files,
		                         scan_generation, fingerprint, model, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(folder_path) DO UPDATE SET
			last_completed_index = excluded.last_completed_index,
			last_completed_path = excluded.last_completed_path,
			total_files = excluded.total_files,
			scan_generation = excluded.scan_generation,
			fingerprint = excluded.fingerprint,
			model = excluded.model,
			updated_at = excluded.updated_at
	`, cp.FolderPath, cp.LastCompletedFileIndex, cp.LastCompletedPath, cp.TotalFilesAtScanStart,
		cp.ScanGeneration, cp.Fingerprint, cp.Model, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) LoadCheckpoint(ctx context.Context, folderPath string) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	var lastPath sql.NullString
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT folder_path, last_completed_index, last_completed_path, total_files,
		       scan_generation, fingerprint, model, updated_at
		FROM checkpoints
		WHERE folder_path = ?
	`, folderPath).Scan(&cp.FolderPath, &cp.LastCompletedFileIndex, &lastPath, &cp.TotalFilesAtScanStart,
		&cp.ScanGeneration, &cp.Fingerprint, &cp.Model, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cp.LastCompletedPath = lastPath.String
	if updatedAt.Valid {
		cp.UpdatedAt = updatedAt.Time
	}
	return &cp, nil
}

func (s *SQLiteStorage) DeleteCheckpoint(ctx context.Context, folderPath string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE folder_path = ?`, folderPath); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints returns the folder paths that have a stored checkpoint
func (s *SQLiteStorage) ListCheckpoints(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT folder_path FROM checkpoints ORDER BY folder_path`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	paths := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
