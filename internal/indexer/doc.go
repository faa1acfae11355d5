// Package indexer runs the per-folder indexing pipeline.
//
// A Worker enumerates a folder, then for each file hashes it, skips it when
// the stored copy has the same hash and embedding model, and otherwise
// parses, chunks, embeds and upserts it in one store transaction.
//
// # Basic Usage
//
//	w := indexer.NewWorker(store, emb, coord, manager.Gate(), indexer.ConfigFrom(cfg.Indexing), logger)
//	res, err := w.Run(ctx, indexer.Job{
//	    Folder:   "/home/me/notes",
//	    Model:    "text-embedding-3-small",
//	    Priority: types.PriorityBatch,
//	    Plan:     plans["/home/me/notes"],
//	}, func(p indexer.Progress) { ... })
//
// # Enumeration
//
// Files are listed with filepath.WalkDir in lexical order, skipping hidden
// entries, ignore patterns and extensions outside the allow-list. The sorted
// list is fingerprinted; recovery uses the fingerprint to decide whether a
// checkpoint offset still points at the same file.
//
// # Failure Handling
//
// Parse failures (binary or unreadable files) are logged and skipped; the
// folder carries on. Embed and store calls are retried with exponential
// backoff (3 attempts from 500ms by default). When retries run out the run
// stops with a SystemicError and the folder is expected to move to error.
//
// # Cancellation
//
// The context is checked only between files. Work on a file runs on a
// context detached from cancellation so nothing is half-written, and a
// final checkpoint is flushed before Run returns ctx.Err().
//
// # Crawl Pause
//
// Before each file the worker calls Gate.Wait with the job priority. The
// resource manager holds batch jobs there while an interactive search is
// being served.
package indexer
