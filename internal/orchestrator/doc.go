// Package orchestrator coordinates indexing across every configured folder.
//
// The Orchestrator keeps one runtime entry per folder and turns commands
// (add, remove, pause, resume, model change) and file-change events into
// operations for the resource manager. Admitted operations run on an
// indexer worker; their progress becomes the folder's published state.
//
// # Basic Usage
//
//	orch := orchestrator.New(cfgStore, store, manager, worker, coord,
//	    orchestrator.OptionsFrom(cfg), logger)
//	if err := orch.Start(ctx); err != nil {
//	    return err
//	}
//	defer orch.Shutdown(context.Background())
//
//	updates, cancel, _ := orch.Subscribe("")
//	defer cancel()
//	state, err := orch.AddFolder(ctx, "/home/me/notes", "")
//
// # One Operation per Folder
//
// A folder owns at most one operation, queued or running. Work that arrives
// while an operation is queued is merged into it; work that arrives while it
// runs is held and submitted when it finishes. A full scan absorbs any
// pending file changes.
//
// # Errors
//
// Overlapping or invalid paths fail with a ValidationError before any state
// is created. A full queue returns ErrSystemBusy and flags the folder Busy;
// the maintenance sweep resubmits it. A worker failure moves the folder to
// error, and only ResumeFolder or ChangeModel retries it.
//
// # Maintenance
//
// A cron schedule retries busy folders every busy_retry_interval and, when
// rescan_interval is set, rescans idle folders so edits made without a file
// watcher are picked up.
package orchestrator
