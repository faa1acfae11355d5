package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/docindex-mcp/internal/chunker"
	"github.com/dshills/docindex-mcp/internal/config"
	"github.com/dshills/docindex-mcp/internal/embedder"
	"github.com/dshills/docindex-mcp/internal/parser"
	"github.com/dshills/docindex-mcp/internal/recovery"
	"github.com/dshills/docindex-mcp/internal/storage"
	"github.com/dshills/docindex-mcp/pkg/types"
)

// Store is the subset of storage.Storage the worker writes through
type Store interface {
	EnsureFolder(ctx context.Context, path, model string) (*storage.Folder, error)
	GetDocument(ctx context.Context, folderPath, relPath string) (*storage.Document, error)
	ListDocumentPaths(ctx context.Context, folderPath string) ([]string, error)
	UpsertDocument(ctx context.Context, folderPath string, doc *storage.Document, chunks []*types.Chunk, vectors [][]float32) error
	DeleteDocument(ctx context.Context, folderPath, relPath string) error
	MarkFolderIndexed(ctx context.Context, path string, at time.Time) error
	FolderStats(ctx context.Context, path string) (*storage.FolderStats, error)
}

// Gate lets interactive work pause batch workers between files
type Gate interface {
	Wait(ctx context.Context, priority types.Priority) error
}

type openGate struct{}

func (openGate) Wait(context.Context, types.Priority) error { return nil }

// Config tunes a Worker
type Config struct {
	Filter             Filter
	ChunkTokens        int
	CheckpointEvery    int
	CheckpointInterval time.Duration
	ProgressInterval   time.Duration
	ProgressEvery      int
	Retry              RetryConfig
}

// ConfigFrom maps the daemon's indexing settings onto a worker Config
func ConfigFrom(ix config.IndexingConfig) Config {
	retry := DefaultRetryConfig()
	if ix.RetryAttempts > 0 {
		retry.MaxAttempts = ix.RetryAttempts
	}
	if ix.RetryBaseDelay > 0 {
		retry.BaseDelay = ix.RetryBaseDelay
	}
	return Config{
		Filter: Filter{
			IgnorePatterns: ix.IgnorePatterns,
			Extensions:     ix.Extensions,
			MaxFileBytes:   int64(ix.MaxFileSizeMB) * 1024 * 1024,
		},
		ChunkTokens:        ix.ChunkTokens,
		CheckpointEvery:    ix.CheckpointEvery,
		CheckpointInterval: ix.CheckpointInterval,
		ProgressInterval:   ix.ProgressInterval,
		ProgressEvery:      ix.ProgressEvery,
		Retry:              retry,
	}
}

// Job is one unit of work for a folder. An empty Files and Deletes list
// means a full scan; otherwise only the listed relative paths are touched.
type Job struct {
	OperationID string
	Folder      string
	Model       string
	Priority    types.Priority
	Plan        *recovery.Plan
	Files       []string
	Deletes     []string
}

// Targeted reports whether the job only touches specific files
func (j Job) Targeted() bool {
	return len(j.Files) > 0 || len(j.Deletes) > 0
}

// Result summarizes a finished (or cancelled) run
type Result struct {
	Total         int
	Indexed       int
	Skipped       int
	Failed        int
	Deleted       int
	DocumentCount int
	TotalBytes    int64
	Offset        int
	Generation    int64
	Resumed       bool
	Cancelled     bool
	FileErrors    []string
	Duration      time.Duration
}

type fileOutcome int

const (
	fileIndexed fileOutcome = iota
	fileSkipped
	fileFailed
)

// Worker runs the per-folder pipeline: enumerate, hash, parse, chunk,
// embed, upsert. One Worker may serve many folders; each Run is independent.
type Worker struct {
	store    Store
	embedder embedder.Embedder
	parser   *parser.Parser
	chunker  *chunker.Chunker
	recovery *recovery.Coordinator
	gate     Gate
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewWorker creates a worker. A nil gate never pauses.
func NewWorker(store Store, emb embedder.Embedder, coord *recovery.Coordinator, gate Gate, cfg Config, logger zerolog.Logger) *Worker {
	if gate == nil {
		gate = openGate{}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Worker{
		store:    store,
		embedder: emb,
		parser:   parser.New(cfg.Filter.MaxFileBytes),
		chunker:  chunker.New(cfg.ChunkTokens),
		recovery: coord,
		gate:     gate,
		cfg:      cfg,
		logger:   logger.With().Str("component", "indexer").Logger(),
		now:      time.Now,
	}
}

// Run executes job. Cancellation of ctx is honoured only between files; a
// file that has started is always finished or abandoned without a partial
// write. On cancellation the returned error is ctx.Err() and the result
// reflects the files completed so far.
func (w *Worker) Run(ctx context.Context, job Job, report Reporter) (*Result, error) {
	start := w.now()
	tr := newThrottle(report, w.cfg.ProgressInterval, w.cfg.ProgressEvery, w.now)
	logger := w.logger.With().Str("folder", job.Folder).Str("operation", job.OperationID).Logger()

	var res *Result
	var err error
	if job.Targeted() {
		res, err = w.runTargeted(ctx, job, tr, logger)
	} else {
		res, err = w.runFull(ctx, job, tr, logger)
	}
	if res != nil {
		res.Duration = w.now().Sub(start)
	}
	return res, err
}

func (w *Worker) runFull(ctx context.Context, job Job, tr *throttle, logger zerolog.Logger) (*Result, error) {
	res := &Result{}

	if err := w.prepareModel(ctx, job, tr); err != nil {
		return res, err
	}

	tr.force(Progress{Status: types.StatusScanning})
	if _, _, err := retryWithBackoff(context.WithoutCancel(ctx), w.cfg.Retry, func(c context.Context) (*storage.Folder, error) {
		return w.store.EnsureFolder(c, job.Folder, job.Model)
	}); err != nil {
		return res, &SystemicError{Folder: job.Folder, Stage: StageStore, Attempts: w.cfg.Retry.MaxAttempts, Err: err}
	}

	files, err := Enumerate(job.Folder, w.cfg.Filter)
	if err != nil {
		return res, &SystemicError{Folder: job.Folder, Stage: StageFolder, Err: err}
	}
	res.Total = len(files)
	fingerprint := Fingerprint(files)

	plan := job.Plan
	if plan == nil && w.recovery != nil {
		plan = w.recovery.PlanFor(ctx, job.Folder, job.Model)
	}
	rp := recovery.Resume(plan, fingerprint, len(files))
	res.Offset, res.Generation, res.Resumed = rp.Offset, rp.Generation, rp.Resumed

	logger.Info().
		Int("files", len(files)).
		Int("offset", rp.Offset).
		Int64("generation", rp.Generation).
		Bool("resumed", rp.Resumed).
		Msg("scan started")

	// Stale documents are removed before indexing so counts converge
	if err := w.removeStale(ctx, job, files, res); err != nil {
		return res, err
	}
	w.refreshCounts(ctx, job.Folder, res)

	var cpw *recovery.Checkpointer
	if w.recovery != nil {
		cpw = w.recovery.NewCheckpointer(job.Folder, job.Model, fingerprint, len(files), rp.Generation, w.cfg.CheckpointEvery, w.cfg.CheckpointInterval)
		if err := cpw.Start(context.WithoutCancel(ctx), rp.Offset); err != nil {
			logger.Warn().Err(err).Msg("initial checkpoint not written")
		}
	}
	flush := func() {
		if cpw == nil {
			return
		}
		if err := cpw.Flush(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("final checkpoint not written")
		}
	}

	tr.force(w.progress(types.StatusIndexing, rp.Offset, len(files), res))

	for i := rp.Offset; i < len(files); i++ {
		if ctx.Err() == nil {
			// Crawl pause: interactive work may hold batch scans here
			if err := w.gate.Wait(ctx, job.Priority); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("gate wait failed")
			}
		}
		if ctx.Err() != nil {
			flush()
			res.Cancelled = true
			logger.Info().Int("completed", i).Msg("scan cancelled at file boundary")
			return res, ctx.Err()
		}

		rel := files[i]
		if err := w.indexOne(ctx, job, rel, res, logger); err != nil {
			flush()
			return res, err
		}

		if cpw != nil {
			_ = cpw.Advance(context.WithoutCancel(ctx), i, rel)
		}
		tr.file(w.progress(types.StatusIndexing, i+1, len(files), res))
	}

	flush()
	w.finish(ctx, job, res, logger)
	tr.force(w.progress(types.StatusIndexing, len(files), len(files), res))
	return res, nil
}

func (w *Worker) runTargeted(ctx context.Context, job Job, tr *throttle, logger zerolog.Logger) (*Result, error) {
	res := &Result{Total: len(job.Files) + len(job.Deletes)}

	if err := w.prepareModel(ctx, job, tr); err != nil {
		return res, err
	}
	if _, _, err := retryWithBackoff(context.WithoutCancel(ctx), w.cfg.Retry, func(c context.Context) (*storage.Folder, error) {
		return w.store.EnsureFolder(c, job.Folder, job.Model)
	}); err != nil {
		return res, &SystemicError{Folder: job.Folder, Stage: StageStore, Attempts: w.cfg.Retry.MaxAttempts, Err: err}
	}
	w.refreshCounts(ctx, job.Folder, res)
	tr.force(w.progress(types.StatusIndexing, 0, res.Total, res))

	done := 0
	for _, rel := range job.Deletes {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res, ctx.Err()
		}
		if err := w.deleteDoc(ctx, job.Folder, rel, res); err != nil {
			return res, err
		}
		done++
		tr.file(w.progress(types.StatusIndexing, done, res.Total, res))
	}

	for _, rel := range job.Files {
		if ctx.Err() == nil {
			if err := w.gate.Wait(ctx, job.Priority); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("gate wait failed")
			}
		}
		if ctx.Err() != nil {
			res.Cancelled = true
			return res, ctx.Err()
		}

		// Vanished files are deletions
		if _, err := os.Stat(filepath.Join(job.Folder, filepath.FromSlash(rel))); errors.Is(err, os.ErrNotExist) {
			if err := w.deleteDoc(ctx, job.Folder, rel, res); err != nil {
				return res, err
			}
		} else if err := w.indexOne(ctx, job, rel, res, logger); err != nil {
			return res, err
		}
		done++
		tr.file(w.progress(types.StatusIndexing, done, res.Total, res))
	}

	w.finish(ctx, job, res, logger)
	tr.force(w.progress(types.StatusIndexing, res.Total, res.Total, res))
	return res, nil
}

// prepareModel loads the embedding model when the embedder needs it
func (w *Worker) prepareModel(ctx context.Context, job Job, tr *throttle) error {
	prep, ok := w.embedder.(embedder.ModelPreparer)
	if !ok || prep.Ready(job.Model) {
		return nil
	}
	tr.force(Progress{Status: types.StatusDownloadingModel})
	err := prep.Prepare(ctx, job.Model, func(f float64) {
		tr.file(Progress{Status: types.StatusDownloadingModel, Progress: f * 100})
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SystemicError{Folder: job.Folder, Stage: StageModel, Err: err}
	}
	return nil
}

// indexOne processes a single file, updating res. Only systemic failures
// are returned; per-file failures are recorded and skipped.
func (w *Worker) indexOne(ctx context.Context, job Job, rel string, res *Result, logger zerolog.Logger) error {
	outcome, err := w.processFile(context.WithoutCancel(ctx), job, rel, res)
	switch {
	case err != nil && IsSystemic(err):
		logger.Error().Err(err).Str("file", rel).Msg("systemic failure")
		return err
	case outcome == fileFailed:
		res.Failed++
		res.FileErrors = append(res.FileErrors, fmt.Sprintf("%s: %v", rel, err))
		logger.Warn().Err(err).Str("file", rel).Msg("file skipped")
	case outcome == fileSkipped:
		res.Skipped++
	default:
		res.Indexed++
	}
	return nil
}

// processFile runs on a context detached from cancellation so a started
// file is never torn.
func (w *Worker) processFile(ctx context.Context, job Job, rel string, res *Result) (fileOutcome, error) {
	absPath := filepath.Join(job.Folder, filepath.FromSlash(rel))

	hash, _, size, err := computeFileHash(absPath)
	if err != nil {
		return fileFailed, err
	}

	existing, attempts, err := retryWithBackoff(ctx, w.cfg.Retry, func(c context.Context) (*storage.Document, error) {
		doc, err := w.store.GetDocument(c, job.Folder, rel)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return doc, err
	})
	if err != nil {
		return fileFailed, &SystemicError{Folder: job.Folder, Stage: StageStore, Path: rel, Attempts: attempts, Err: err}
	}
	if existing != nil && existing.ContentHash == hash && existing.Model == job.Model {
		return fileSkipped, nil
	}

	doc, err := w.parser.ParseFile(job.Folder, rel)
	if err != nil {
		return fileFailed, err
	}
	chunks := w.chunker.ChunkDocument(doc)

	var vectors [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.EmbeddingText()
		}
		vectors, attempts, err = retryWithBackoff(ctx, w.cfg.Retry, func(c context.Context) ([][]float32, error) {
			return w.embedder.Embed(c, texts, job.Model)
		})
		if err != nil {
			if errors.Is(err, embedder.ErrInvalidInput) {
				return fileFailed, err
			}
			return fileFailed, &SystemicError{Folder: job.Folder, Stage: StageEmbed, Path: rel, Attempts: attempts, Err: err}
		}
	}

	record := &storage.Document{
		RelPath:     rel,
		Title:       doc.Title,
		ContentHash: hash,
		Model:       job.Model,
		SizeBytes:   size,
		ModTime:     doc.ModTime,
	}
	_, attempts, err = retryWithBackoff(ctx, w.cfg.Retry, func(c context.Context) (struct{}, error) {
		return struct{}{}, w.store.UpsertDocument(c, job.Folder, record, chunks, vectors)
	})
	if err != nil {
		return fileFailed, &SystemicError{Folder: job.Folder, Stage: StageStore, Path: rel, Attempts: attempts, Err: err}
	}

	if existing == nil {
		res.DocumentCount++
		res.TotalBytes += size
	} else {
		res.TotalBytes += size - existing.SizeBytes
	}
	return fileIndexed, nil
}

// removeStale deletes stored documents whose files are no longer enumerated
func (w *Worker) removeStale(ctx context.Context, job Job, files []string, res *Result) error {
	stored, attempts, err := retryWithBackoff(context.WithoutCancel(ctx), w.cfg.Retry, func(c context.Context) ([]string, error) {
		return w.store.ListDocumentPaths(c, job.Folder)
	})
	if err != nil {
		return &SystemicError{Folder: job.Folder, Stage: StageStore, Attempts: attempts, Err: err}
	}
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
	}
	for _, rel := range stored {
		if present[rel] {
			continue
		}
		if err := w.deleteDoc(ctx, job.Folder, rel, res); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) deleteDoc(ctx context.Context, folder, rel string, res *Result) error {
	existing, _ := w.store.GetDocument(context.WithoutCancel(ctx), folder, rel)
	_, attempts, err := retryWithBackoff(context.WithoutCancel(ctx), w.cfg.Retry, func(c context.Context) (struct{}, error) {
		return struct{}{}, w.store.DeleteDocument(c, folder, rel)
	})
	if err != nil {
		return &SystemicError{Folder: folder, Stage: StageStore, Path: rel, Attempts: attempts, Err: err}
	}
	if existing != nil {
		res.Deleted++
		res.DocumentCount--
		res.TotalBytes -= existing.SizeBytes
	}
	return nil
}

// refreshCounts seeds the running totals from the store
func (w *Worker) refreshCounts(ctx context.Context, folder string, res *Result) {
	stats, err := w.store.FolderStats(context.WithoutCancel(ctx), folder)
	if err != nil {
		return
	}
	res.DocumentCount = stats.DocumentCount
	res.TotalBytes = stats.TotalBytes
}

func (w *Worker) finish(ctx context.Context, job Job, res *Result, logger zerolog.Logger) {
	dctx := context.WithoutCancel(ctx)
	if err := w.store.MarkFolderIndexed(dctx, job.Folder, w.now()); err != nil {
		logger.Warn().Err(err).Msg("failed to record index time")
	}
	w.refreshCounts(dctx, job.Folder, res)
	logger.Info().
		Int("indexed", res.Indexed).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Int("deleted", res.Deleted).
		Int("documents", res.DocumentCount).
		Msg("run complete")
}

func (w *Worker) progress(status types.FolderStatus, done, total int, res *Result) Progress {
	return Progress{
		Status:        status,
		Progress:      percent(done, total),
		DocumentCount: res.DocumentCount,
		TotalBytes:    res.TotalBytes,
		Processed:     done,
		Total:         total,
	}
}
