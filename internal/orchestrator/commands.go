package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/docindex-mcp/internal/storage"
	"github.com/dshills/docindex-mcp/pkg/types"
)

// AddFolder validates path, persists it and submits a batch full scan. The
// folder is rejected, before any state exists, when it is not an absolute
// existing directory or overlaps a configured folder. ErrSystemBusy means
// the folder was added but its scan waits for the maintenance sweep.
func (o *Orchestrator) AddFolder(ctx context.Context, path, model string) (types.FolderState, error) {
	o.mu.Lock()
	if err := o.checkStarted(); err != nil {
		o.mu.Unlock()
		return types.FolderState{}, err
	}
	o.mu.Unlock()

	abs, err := validateDir(path)
	if err != nil {
		return types.FolderState{}, err
	}
	if model == "" {
		model = o.opts.DefaultModel
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkStarted(); err != nil {
		return types.FolderState{}, err
	}
	if err := o.overlapLocked(abs); err != nil {
		return types.FolderState{}, err
	}

	cfg := types.FolderConfig{Path: abs, EmbeddingModel: model, Enabled: true}
	if err := o.cfgStore.UpsertFolder(cfg); err != nil {
		return types.FolderState{}, fmt.Errorf("save folder config: %w", err)
	}
	f := newFolder(cfg)
	o.folders[abs] = f
	o.publishLocked(f)

	o.logger.Info().Str("folder", abs).Str("model", model).Msg("Folder added")
	err = o.submitLocked(f, true, nil, types.PriorityBatch)
	return f.state, err
}

// RemoveFolder cancels the folder's queued and running work, waits for a
// running worker to reach a file boundary, then drops its configuration,
// checkpoint and indexed data.
func (o *Orchestrator) RemoveFolder(ctx context.Context, path string) error {
	o.mu.Lock()
	if err := o.checkStarted(); err != nil {
		o.mu.Unlock()
		return err
	}
	key, ok := o.keyLocked(path)
	if !ok {
		o.mu.Unlock()
		return ErrFolderNotFound
	}
	f := o.folders[key]
	f.removed = true
	delete(o.folders, key)
	o.cancelOpLocked(f)
	f.busy, f.pending, f.rerun = nil, nil, false
	done := f.done
	o.closeSubscribersLocked(key)
	o.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			o.logger.Warn().Str("folder", key).Msg("Worker still running, purging folder anyway")
		}
	}

	purgeCtx := context.WithoutCancel(ctx)
	var errs []error
	if err := o.cfgStore.RemoveFolder(key); err != nil {
		errs = append(errs, fmt.Errorf("remove folder config: %w", err))
	}
	if o.recovery != nil {
		if err := o.recovery.Discard(purgeCtx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if err := o.store.DeleteFolder(purgeCtx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete index for %s: %w", key, err))
	}
	o.locks.Forget(key)

	o.logger.Info().Str("folder", key).Msg("Folder removed")
	return errors.Join(errs...)
}

// PauseFolder cancels the folder's work and keeps it idle until resumed.
// The paused flag is persisted as enabled=false.
func (o *Orchestrator) PauseFolder(ctx context.Context, path string) (types.FolderState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, err := o.lookupLocked(path)
	if err != nil {
		return types.FolderState{}, err
	}
	if !f.cfg.Enabled {
		return f.state, nil
	}

	f.cfg.Enabled = false
	if err := o.cfgStore.UpsertFolder(f.cfg); err != nil {
		f.cfg.Enabled = true
		return f.state, fmt.Errorf("save folder config: %w", err)
	}
	running := f.op != nil && f.op.running
	o.cancelOpLocked(f)
	f.busy, f.pending, f.rerun = nil, nil, false
	f.state.Paused = true
	f.state.Busy = false
	f.state.Retryable = false
	if !running && f.state.Status != types.StatusError {
		f.state.Status = f.idleStatus()
	}
	o.publishLocked(f)

	o.logger.Info().Str("folder", f.cfg.Path).Bool("was_running", running).Msg("Folder paused")
	return f.state, nil
}

// ResumeFolder re-enables a paused folder, or retries one in error, by
// submitting a full scan. The scan resumes from the last checkpoint when the
// file set is unchanged.
func (o *Orchestrator) ResumeFolder(ctx context.Context, path string) (types.FolderState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, err := o.lookupLocked(path)
	if err != nil {
		return types.FolderState{}, err
	}
	if f.op != nil {
		return f.state, nil
	}

	if !f.cfg.Enabled {
		f.cfg.Enabled = true
		if err := o.cfgStore.UpsertFolder(f.cfg); err != nil {
			f.cfg.Enabled = false
			return f.state, fmt.Errorf("save folder config: %w", err)
		}
	}
	f.state.Paused = false
	if f.state.Status == types.StatusError {
		f.state.Status = f.idleStatus()
		f.state.ErrorMessage = ""
		f.state.Retryable = false
	}
	o.publishLocked(f)

	o.logger.Info().Str("folder", f.cfg.Path).Msg("Folder resumed")
	err = o.scheduleLocked(f, true, nil, types.PriorityBatch)
	return f.state, err
}

// ChangeModel switches the folder's embedding model and re-indexes it. A
// running scan is cancelled at the next file boundary and restarted; files
// embedded with the old model are re-embedded.
func (o *Orchestrator) ChangeModel(ctx context.Context, path, model string) (types.FolderState, error) {
	if model == "" {
		return types.FolderState{}, &ValidationError{Path: path, Reason: "embedding model is empty"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	f, err := o.lookupLocked(path)
	if err != nil {
		return types.FolderState{}, err
	}
	if f.cfg.EmbeddingModel == model {
		return f.state, nil
	}

	prev := f.cfg.EmbeddingModel
	f.cfg.EmbeddingModel = model
	if err := o.cfgStore.UpsertFolder(f.cfg); err != nil {
		f.cfg.EmbeddingModel = prev
		return f.state, fmt.Errorf("save folder config: %w", err)
	}
	f.state.Model = model
	if f.state.Status == types.StatusError {
		f.state.Status = f.idleStatus()
		f.state.ErrorMessage = ""
	}
	o.publishLocked(f)

	o.logger.Info().Str("folder", f.cfg.Path).Str("from", prev).Str("to", model).Msg("Embedding model changed")
	if !f.cfg.Enabled {
		return f.state, nil
	}
	if f.op != nil && f.op.running {
		f.op.cancel()
		f.deferLocked(true, nil, types.PriorityBatch)
		return f.state, nil
	}
	err = o.scheduleLocked(f, true, nil, types.PriorityBatch)
	return f.state, err
}

// HandleFileChange schedules a targeted re-index of one file. Changes a
// user made get interactive priority, the rest batch. Changes to paused or
// failed folders and to filtered files are ignored.
func (o *Orchestrator) HandleFileChange(path string, change types.ChangeType, userTriggered bool) error {
	switch change {
	case types.ChangeCreated, types.ChangeModified, types.ChangeDeleted, types.ChangeRenamed:
	default:
		return fmt.Errorf("unknown change type %q", change)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkStarted(); err != nil {
		return err
	}

	abs := filepath.Clean(path)
	f, rel := o.ownerLocked(abs)
	if f == nil {
		if f, rel = o.ownerLocked(canonical(abs)); f == nil {
			return ErrFolderNotFound
		}
	}
	if !f.cfg.Enabled || f.state.Status == types.StatusError {
		return nil
	}

	priority := types.PriorityBatch
	if userTriggered {
		priority = types.PriorityInteractive
	}

	// The folder root itself changed: rescan everything
	if rel == "" {
		return o.scheduleLocked(f, true, nil, priority)
	}
	if !o.opts.Filter.Allowed(rel) {
		o.logger.Debug().Str("folder", f.cfg.Path).Str("path", rel).Msg("Change ignored by filter")
		return nil
	}
	// A rename arrives for both paths; the worker deletes whichever vanished
	if change == types.ChangeRenamed {
		change = types.ChangeModified
	}
	return o.scheduleLocked(f, false, map[string]types.ChangeType{rel: change}, priority)
}

// HandleSearchRequest starts a crawl pause: batch work yields at its next
// file boundary and queued batch operations wait until the window ends.
// Queued or deferred interactive work is promoted to immediate so the user's
// own edits land ahead of everything else. Running work is never touched.
func (o *Orchestrator) HandleSearchRequest() {
	until := o.manager.PauseBatch(0)

	o.mu.Lock()
	promoted := 0
	if o.started && !o.stopping {
		for _, f := range o.sortedLocked() {
			if f.pendingPriority == types.PriorityInteractive {
				f.pendingPriority = types.PriorityImmediate
			}
			p := f.op
			if p == nil || p.running || p.op.Priority != types.PriorityInteractive {
				continue
			}
			if err := o.scheduleLocked(f, p.full, nil, types.PriorityImmediate); err != nil {
				o.logger.Warn().Err(err).Str("folder", f.cfg.Path).Msg("Promotion to immediate not submitted")
				continue
			}
			promoted++
		}
	}
	o.mu.Unlock()

	o.logger.Debug().Time("until", until).Int("promoted", promoted).Msg("Crawl pause for interactive search")
}

func (o *Orchestrator) lookupLocked(path string) (*folder, error) {
	if err := o.checkStarted(); err != nil {
		return nil, err
	}
	key, ok := o.keyLocked(path)
	if !ok {
		return nil, ErrFolderNotFound
	}
	return o.folders[key], nil
}

// keyLocked maps a caller's path to a configured folder key. New folders
// are keyed by their resolved path, so a symlink to one finds it too.
func (o *Orchestrator) keyLocked(path string) (string, bool) {
	key := filepath.Clean(path)
	if _, ok := o.folders[key]; ok {
		return key, true
	}
	key = canonical(key)
	_, ok := o.folders[key]
	return key, ok
}

// cancelOpLocked drops a queued operation or signals a running one
func (o *Orchestrator) cancelOpLocked(f *folder) {
	p := f.op
	if p == nil {
		return
	}
	if p.running {
		p.cancel()
		return
	}
	// A false return means the manager admitted it concurrently; dispatch
	// then finds no owner and releases the slot.
	o.manager.Cancel(p.op.ID)
	delete(o.ops, p.op.ID)
	f.op = nil
}

// ownerLocked finds the configured folder containing abs and the slash
// separated path relative to it. rel is empty for the folder root.
func (o *Orchestrator) ownerLocked(abs string) (*folder, string) {
	for root, f := range o.folders {
		if root == abs {
			return f, ""
		}
		if within(root, abs) {
			rel, _ := filepath.Rel(root, abs)
			return f, filepath.ToSlash(rel)
		}
	}
	return nil, ""
}

// overlapLocked rejects duplicates, ancestors and descendants of existing
// folders.
func (o *Orchestrator) overlapLocked(abs string) error {
	roots := make([]string, 0, len(o.folders))
	for root := range o.folders {
		roots = append(roots, canonical(root))
	}
	return overlap(abs, roots)
}

// CheckFolder applies the AddFolder validation to path against a list of
// configured roots and returns the resolved path. It lets callers without a
// running Orchestrator, such as the CLI, edit the folder list safely.
func CheckFolder(path string, configured []string) (string, error) {
	abs, err := validateDir(path)
	if err != nil {
		return "", err
	}
	roots := make([]string, len(configured))
	for i, c := range configured {
		roots[i] = canonical(c)
	}
	if err := overlap(abs, roots); err != nil {
		return "", err
	}
	return abs, nil
}

func overlap(abs string, roots []string) error {
	sort.Strings(roots)
	for _, root := range roots {
		switch {
		case root == abs:
			return &ValidationError{Path: abs, Reason: "folder is already configured"}
		case within(root, abs):
			return &ValidationError{Path: abs, Reason: fmt.Sprintf("folder is inside configured folder %s", root)}
		case within(abs, root):
			return &ValidationError{Path: abs, Reason: fmt.Sprintf("folder contains configured folder %s", root)}
		}
	}
	return nil
}

func validateDir(path string) (string, error) {
	if path == "" {
		return "", &ValidationError{Path: path, Reason: "path is empty"}
	}
	if !filepath.IsAbs(path) {
		return "", &ValidationError{Path: path, Reason: "path must be absolute"}
	}
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", &ValidationError{Path: clean, Reason: "path does not exist"}
	case err != nil:
		return "", &ValidationError{Path: clean, Reason: fmt.Sprintf("path cannot be read: %v", err)}
	case !info.IsDir():
		return "", &ValidationError{Path: clean, Reason: "path is not a directory"}
	}
	resolved, err := filepath.EvalSymlinks(clean)
	if err != nil {
		return "", &ValidationError{Path: clean, Reason: fmt.Sprintf("path cannot be resolved: %v", err)}
	}
	return resolved, nil
}

// canonical resolves symlinks in path, falling back to the cleaned path
// when it cannot be resolved.
func canonical(path string) string {
	clean := filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		return resolved
	}
	return clean
}

// within reports whether child lies strictly below parent
func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
