package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/docindex-mcp/pkg/types"
)

// Orphan queries. Foreign keys prevent these rows in normal operation; they
// appear after a crash with foreign_keys disabled or an external edit.
const (
	orphanEmbeddingsQuery = `
		SELECT COUNT(*) FROM embeddings e
		WHERE NOT EXISTS (SELECT 1 FROM chunks c WHERE c.id = e.chunk_id)`
	orphanChunksQuery = `
		SELECT COUNT(*) FROM chunks c
		WHERE NOT EXISTS (SELECT 1 FROM documents d WHERE d.id = c.document_id)`
	// Documents whose stored chunks do not all carry an embedding, or whose
	// chunk count disagrees with what was recorded at upsert time.
	incompleteDocumentsQuery = `
		SELECT d.id FROM documents d
		JOIN folders f ON d.folder_id = f.id
		WHERE f.path = ?
		AND (
			d.chunk_count != (SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id)
			OR EXISTS (
				SELECT 1 FROM chunks c
				LEFT JOIN embeddings e ON e.chunk_id = c.id
				WHERE c.document_id = d.id AND e.id IS NULL
			)
		)`
)

// CheckIntegrity reports the store's health for one folder. A failed
// quick_check is corrupt; orphaned or incomplete rows need repair.
func (s *SQLiteStorage) CheckIntegrity(ctx context.Context, folderPath string) (types.Integrity, error) {
	ok, detail, err := s.quickCheck(ctx)
	if err != nil {
		return types.IntegrityCorrupt, err
	}
	if !ok {
		return types.IntegrityCorrupt, fmt.Errorf("quick_check: %s", detail)
	}

	var orphanEmbeddings, orphanChunks int
	if err := s.db.QueryRowContext(ctx, orphanEmbeddingsQuery).Scan(&orphanEmbeddings); err != nil {
		return types.IntegrityCorrupt, fmt.Errorf("count orphan embeddings: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, orphanChunksQuery).Scan(&orphanChunks); err != nil {
		return types.IntegrityCorrupt, fmt.Errorf("count orphan chunks: %w", err)
	}
	incomplete, err := s.incompleteDocuments(ctx, folderPath)
	if err != nil {
		return types.IntegrityCorrupt, err
	}

	if orphanEmbeddings+orphanChunks+len(incomplete) > 0 {
		return types.IntegrityNeedsRepair, nil
	}
	return types.IntegrityHealthy, nil
}

// Repair removes orphaned rows and drops incomplete documents of folderPath
// so they are re-indexed, then rebuilds the full-text index.
func (s *SQLiteStorage) Repair(ctx context.Context, folderPath string) (*RepairReport, error) {
	incomplete, err := s.incompleteDocuments(ctx, folderPath)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{}
	err = s.withTx(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			DELETE FROM embeddings
			WHERE NOT EXISTS (SELECT 1 FROM chunks c WHERE c.id = embeddings.chunk_id)`)
		if err != nil {
			return fmt.Errorf("delete orphan embeddings: %w", err)
		}
		n, _ := res.RowsAffected()
		report.OrphanEmbeddings = int(n)

		res, err = q.ExecContext(ctx, `
			DELETE FROM chunks
			WHERE NOT EXISTS (SELECT 1 FROM documents d WHERE d.id = chunks.document_id)`)
		if err != nil {
			return fmt.Errorf("delete orphan chunks: %w", err)
		}
		n, _ = res.RowsAffected()
		report.OrphanChunks = int(n)

		for _, id := range incomplete {
			if _, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
				return fmt.Errorf("delete chunks of document %d: %w", id, err)
			}
			if _, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
				return fmt.Errorf("delete document %d: %w", id, err)
			}
		}
		report.IncompleteDocuments = len(incomplete)

		if _, err := q.ExecContext(ctx, `INSERT INTO chunks_fts(chunks_fts) VALUES('rebuild')`); err != nil {
			return fmt.Errorf("rebuild fts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *SQLiteStorage) incompleteDocuments(ctx context.Context, folderPath string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, incompleteDocumentsQuery, folderPath)
	if err != nil {
		return nil, fmt.Errorf("find incomplete documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStorage) quickCheck(ctx context.Context) (bool, string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA quick_check")
	if err != nil {
		return false, "", fmt.Errorf("quick_check: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return false, "", err
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return false, "", err
	}
	return len(problems) == 0, strings.Join(problems, "; "), nil
}
