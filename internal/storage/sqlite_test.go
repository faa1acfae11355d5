package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docindex-mcp/pkg/types"
)

const testFolder = "/data/notes"

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func makeChunks(texts ...string) []*types.Chunk {
	chunks := make([]*types.Chunk, len(texts))
	for i, text := range texts {
		c := &types.Chunk{Ordinal: i, Content: text, StartLine: i*10 + 1, EndLine: i*10 + 5}
		c.ComputeContentHash()
		c.ComputeTokenCount()
		chunks[i] = c
	}
	return chunks
}

func unitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1
	return v
}

func upsertDoc(t *testing.T, s *SQLiteStorage, folder, relPath string, texts ...string) *Document {
	t.Helper()
	doc := &Document{
		RelPath:     relPath,
		Title:       relPath,
		ContentHash: sha256.Sum256([]byte(relPath)),
		Model:       "test-model",
		SizeBytes:   int64(len(relPath) * 10),
		ModTime:     time.Now(),
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = unitVector(4, i)
	}
	require.NoError(t, s.UpsertDocument(context.Background(), folder, doc, makeChunks(texts...), vectors))
	return doc
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)

	version, err := SchemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestNewSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	s1, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	_, err = s1.EnsureFolder(ctx, testFolder, "m")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Migrations are not re-applied and data survives
	s2, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer s2.Close()
	folder, err := s2.GetFolder(ctx, testFolder)
	require.NoError(t, err)
	assert.Equal(t, "m", folder.Model)
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	version, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	_, err = storage.LoadCheckpoint(ctx, testFolder)
	assert.Error(t, err, "checkpoints table is gone")

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	version, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestEnsureFolder(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	f1, err := storage.EnsureFolder(ctx, testFolder, "model-a")
	require.NoError(t, err)
	assert.Greater(t, f1.ID, int64(0))

	f2, err := storage.EnsureFolder(ctx, testFolder, "model-b")
	require.NoError(t, err)
	assert.Equal(t, f1.ID, f2.ID)
	assert.Equal(t, "model-b", f2.Model)

	_, err = storage.GetFolder(ctx, "/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	folders, err := storage.ListFolders(ctx)
	require.NoError(t, err)
	assert.Len(t, folders, 1)
}

func TestMarkFolderIndexed(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.EnsureFolder(ctx, testFolder, "m")
	require.NoError(t, err)

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, storage.MarkFolderIndexed(ctx, testFolder, at))
	folder, err := storage.GetFolder(ctx, testFolder)
	require.NoError(t, err)
	assert.True(t, at.Equal(folder.LastIndexedAt))

	assert.ErrorIs(t, storage.MarkFolderIndexed(ctx, "/missing", at), ErrNotFound)
}

func TestUpsertDocument(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	_, err := storage.EnsureFolder(ctx, testFolder, "test-model")
	require.NoError(t, err)

	doc := upsertDoc(t, storage, testFolder, "a.md", "first paragraph", "second paragraph")
	assert.Greater(t, doc.ID, int64(0))

	got, err := storage.GetDocument(ctx, testFolder, "a.md")
	require.NoError(t, err)
	assert.Equal(t, doc.ContentHash, got.ContentHash)
	assert.Equal(t, 2, got.ChunkCount)
	assert.Equal(t, "test-model", got.Model)

	// Re-upsert replaces chunks rather than appending
	upsertDoc(t, storage, testFolder, "a.md", "only paragraph")
	stats, err := storage.FolderStats(ctx, testFolder)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, 1, stats.ChunkCount)
	assert.Equal(t, 1, stats.EmbeddingCount)
}

func TestUpsertDocument_Atomic(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	_, err := storage.EnsureFolder(ctx, testFolder, "test-model")
	require.NoError(t, err)

	upsertDoc(t, storage, testFolder, "a.md", "original")

	// An empty vector fails mid-transaction; the original content must survive
	doc := &Document{RelPath: "a.md", Model: "test-model"}
	err = storage.UpsertDocument(ctx, testFolder, doc, makeChunks("new one", "new two"),
		[][]float32{unitVector(4, 0), {}})
	require.Error(t, err)

	stats, err := storage.FolderStats(ctx, testFolder)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChunkCount)

	results, err := storage.SearchText(ctx, testFolder, "original", 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestUpsertDocument_Errors(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	err := storage.UpsertDocument(ctx, testFolder, &Document{RelPath: "a.md"}, makeChunks("x"), nil)
	assert.ErrorIs(t, err, ErrVectorMismatch)

	err = storage.UpsertDocument(ctx, "/unknown", &Document{RelPath: "a.md"}, makeChunks("x"), [][]float32{{1}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDocumentAndFolder(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	_, err := storage.EnsureFolder(ctx, testFolder, "test-model")
	require.NoError(t, err)

	upsertDoc(t, storage, testFolder, "a.md", "alpha")
	upsertDoc(t, storage, testFolder, "b.md", "beta")

	paths, err := storage.ListDocumentPaths(ctx, testFolder)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md"}, paths)

	require.NoError(t, storage.DeleteDocument(ctx, testFolder, "a.md"))
	require.NoError(t, storage.DeleteDocument(ctx, testFolder, "never-existed.md"))
	_, err = storage.GetDocument(ctx, testFolder, "a.md")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.DeleteFolder(ctx, testFolder))
	_, err = storage.FolderStats(ctx, testFolder)
	assert.ErrorIs(t, err, ErrNotFound)

	var chunks, embeddings int
	require.NoError(t, storage.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&chunks))
	require.NoError(t, storage.db.QueryRow("SELECT COUNT(*) FROM embeddings").Scan(&embeddings))
	assert.Zero(t, chunks)
	assert.Zero(t, embeddings)
}

func TestSearch(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	other := "/data/other"
	for _, f := range []string{testFolder, other} {
		_, err := storage.EnsureFolder(ctx, f, "test-model")
		require.NoError(t, err)
	}

	upsertDoc(t, storage, testFolder, "a.md", "zero", "one", "two")
	upsertDoc(t, storage, other, "b.md", "zero elsewhere")

	// Matches ordinal 1 of a.md exactly
	results, err := storage.Search(ctx, testFolder, unitVector(4, 1), 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "one", results[0].Content)
	assert.Equal(t, 1, results[0].Rank)
	assert.InDelta(t, 1.0, results[0].RelevanceScore, 0.0001)
	assert.Equal(t, testFolder, results[0].FolderPath)
	assert.Equal(t, "a.md", results[0].DocumentPath)
	assert.NoError(t, results[0].Validate())

	// Empty folder path searches everywhere
	results, err = storage.Search(ctx, "", unitVector(4, 0), 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 4)

	results, err = storage.Search(ctx, "", unitVector(4, 0), 10, &SearchFilters{MinRelevance: 0.5})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = storage.Search(ctx, "", unitVector(4, 0), 10, &SearchFilters{PathPattern: "b.*"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, other, results[0].FolderPath)

	// Different dimension never matches
	results, err = storage.Search(ctx, "", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = storage.Search(ctx, "", nil, 10, nil)
	assert.Error(t, err)
}

func TestSearchText(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	_, err := storage.EnsureFolder(ctx, testFolder, "test-model")
	require.NoError(t, err)

	upsertDoc(t, storage, testFolder, "garden.md", "tomatoes need full sun", "basil grows near tomatoes")
	upsertDoc(t, storage, testFolder, "cars.md", "the engine needs oil")

	results, err := storage.SearchText(ctx, testFolder, "tomatoes", 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "garden.md", r.DocumentPath)
		assert.Greater(t, r.RelevanceScore, 0.0)
	}

	// Operators and punctuation are matched literally, not parsed
	results, err = storage.SearchText(ctx, testFolder, `oil OR "(engine*`, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = storage.SearchText(ctx, testFolder, "  ", 10, nil)
	assert.Error(t, err)
}

func TestCheckpoints(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.LoadCheckpoint(ctx, testFolder)
	assert.ErrorIs(t, err, ErrNotFound)

	cp := &types.Checkpoint{
		FolderPath:             testFolder,
		LastCompletedFileIndex: 41,
		LastCompletedPath:      "docs/41.md",
		TotalFilesAtScanStart:  100,
		ScanGeneration:         3,
		Fingerprint:            "abc",
		Model:                  "test-model",
	}
	require.NoError(t, storage.SaveCheckpoint(ctx, cp))

	cp.LastCompletedFileIndex = 60
	cp.LastCompletedPath = "docs/60.md"
	require.NoError(t, storage.SaveCheckpoint(ctx, cp))

	got, err := storage.LoadCheckpoint(ctx, testFolder)
	require.NoError(t, err)
	assert.Equal(t, 60, got.LastCompletedFileIndex)
	assert.Equal(t, "docs/60.md", got.LastCompletedPath)
	assert.Equal(t, int64(3), got.ScanGeneration)
	assert.Equal(t, 61, got.NextIndex())
	assert.False(t, got.Complete())

	paths, err := storage.ListCheckpoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testFolder}, paths)

	require.NoError(t, storage.DeleteCheckpoint(ctx, testFolder))
	_, err = storage.LoadCheckpoint(ctx, testFolder)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIntegrity_Healthy(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	_, err := storage.EnsureFolder(ctx, testFolder, "test-model")
	require.NoError(t, err)
	upsertDoc(t, storage, testFolder, "a.md", "alpha", "beta")

	status, err := storage.CheckIntegrity(ctx, testFolder)
	require.NoError(t, err)
	assert.Equal(t, types.IntegrityHealthy, status)

	// Unknown folders have nothing to repair
	status, err = storage.CheckIntegrity(ctx, "/unknown")
	require.NoError(t, err)
	assert.Equal(t, types.IntegrityHealthy, status)
}

func TestIntegrity_RepairIncompleteDocument(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	_, err := storage.EnsureFolder(ctx, testFolder, "test-model")
	require.NoError(t, err)
	upsertDoc(t, storage, testFolder, "a.md", "alpha", "beta")
	upsertDoc(t, storage, testFolder, "b.md", "gamma")

	// Simulate a torn write: one embedding missing
	_, err = storage.db.Exec(`
		DELETE FROM embeddings WHERE chunk_id = (
			SELECT c.id FROM chunks c JOIN documents d ON c.document_id = d.id
			WHERE d.rel_path = 'a.md' AND c.ordinal = 1)`)
	require.NoError(t, err)

	status, err := storage.CheckIntegrity(ctx, testFolder)
	require.NoError(t, err)
	assert.Equal(t, types.IntegrityNeedsRepair, status)

	report, err := storage.Repair(ctx, testFolder)
	require.NoError(t, err)
	assert.Equal(t, 1, report.IncompleteDocuments)
	assert.Equal(t, 1, report.Removed())

	_, err = storage.GetDocument(ctx, testFolder, "a.md")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = storage.GetDocument(ctx, testFolder, "b.md")
	assert.NoError(t, err)

	status, err = storage.CheckIntegrity(ctx, testFolder)
	require.NoError(t, err)
	assert.Equal(t, types.IntegrityHealthy, status)

	results, err := storage.SearchText(ctx, testFolder, "gamma", 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestIntegrity_RepairOrphans(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	_, err := storage.EnsureFolder(ctx, testFolder, "test-model")
	require.NoError(t, err)
	upsertDoc(t, storage, testFolder, "a.md", "alpha")

	// Orphans can only appear with foreign keys disabled
	_, err = storage.db.Exec("PRAGMA foreign_keys=OFF")
	require.NoError(t, err)
	_, err = storage.db.Exec(`INSERT INTO embeddings (chunk_id, vector, dimension, model) VALUES (9999, ?, 4, 'm')`,
		serializeVector(unitVector(4, 0)))
	require.NoError(t, err)
	_, err = storage.db.Exec(`INSERT INTO chunks (document_id, ordinal, content, content_hash, start_line, end_line)
		VALUES (8888, 0, 'lost', x'00', 1, 1)`)
	require.NoError(t, err)
	_, err = storage.db.Exec("PRAGMA foreign_keys=ON")
	require.NoError(t, err)

	status, err := storage.CheckIntegrity(ctx, testFolder)
	require.NoError(t, err)
	assert.Equal(t, types.IntegrityNeedsRepair, status)

	report, err := storage.Repair(ctx, testFolder)
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphanEmbeddings)
	assert.Equal(t, 1, report.OrphanChunks)
	assert.Equal(t, 0, report.IncompleteDocuments)

	status, err = storage.CheckIntegrity(ctx, testFolder)
	require.NoError(t, err)
	assert.Equal(t, types.IntegrityHealthy, status)
}

func TestVectorSerialization(t *testing.T) {
	original := []float32{0.1, -0.5, 3.25, 0}
	assert.Equal(t, original, DeserializeVector(SerializeVector(original)))
	assert.Len(t, SerializeVector(original), 16)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{0, 0}, []float32{1, 0}, 0},
		{[]float32{1}, []float32{1, 0}, 0},
	}
	for i, tt := range tests {
		assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9, fmt.Sprintf("case %d", i))
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	assert.Equal(t, `"hello" "world"`, sanitizeFTSQuery("hello, world!"))
	assert.Equal(t, `"a" "OR" "b"`, sanitizeFTSQuery("a OR b"))
	assert.Equal(t, "", sanitizeFTSQuery(`"()*`))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, clampScore(-0.3))
	assert.Equal(t, 1.0, clampScore(1.0000001))
	assert.Equal(t, 0.5, clampScore(0.5))
}
