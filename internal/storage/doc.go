// Package storage provides SQLite-based persistence for indexed documents.
//
// The storage layer manages:
//   - Folders and the embedding model they were indexed with
//   - Documents with SHA-256 content hashes for change detection
//   - Chunks and their vector embeddings
//   - An FTS5 index over chunk content
//   - Per-folder indexing checkpoints
//
// # Database Schema
//
// Tables:
//   - folders: indexed folder roots
//   - documents: one row per file, relative to its folder
//   - chunks: document sections sized for one embedding
//   - embeddings: little-endian float32 vectors, one per chunk
//   - chunks_fts: FTS5 full-text index kept in sync by triggers
//   - checkpoints: resume markers keyed by folder path
//
// Schema changes are applied with semver-ordered migrations on open.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.docindex/index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if _, err := db.EnsureFolder(ctx, "/home/me/notes", "local-embeddings"); err != nil {
//	    return err
//	}
//	err = db.UpsertDocument(ctx, "/home/me/notes", &storage.Document{
//	    RelPath:     "todo.md",
//	    ContentHash: hash,
//	    Model:       "local-embeddings",
//	}, chunks, vectors)
//
// UpsertDocument writes the document, its chunks and its embeddings in a
// single transaction, so a crash never leaves a half-written document.
//
// # Integrity
//
// CheckIntegrity runs PRAGMA quick_check and looks for orphaned or incomplete
// rows. Repair removes them; incomplete documents are dropped so the next
// scan re-indexes them.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite and computes cosine similarity in
// Go. Building with the sqlite_vec tag switches to github.com/mattn/go-sqlite3
// and pushes the distance computation into SQL:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
package storage
