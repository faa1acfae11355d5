package orchestrator

import (
	"context"
	"sort"

	"github.com/dshills/docindex-mcp/internal/recovery"
	"github.com/dshills/docindex-mcp/internal/resource"
	"github.com/dshills/docindex-mcp/pkg/types"
)

// subscriberBuffer bounds each status channel; slow readers lose the oldest
// update, never the newest.
const subscriberBuffer = 16

// folder is the runtime entry for one configured folder. Every field is
// guarded by Orchestrator.mu.
type folder struct {
	cfg   types.FolderConfig
	state types.FolderState

	op   *pendingOp     // queued or running operation, nil when idle
	plan *recovery.Plan // startup plan for the first full scan
	done chan struct{}  // closed when the running operation finishes
	busy *retryRequest  // work rejected with a full queue

	// Work that arrived while op was running
	rerun           bool
	pending         map[string]types.ChangeType
	pendingPriority types.Priority

	removed bool
}

// pendingOp tracks the folder's single operation. Content may still be
// merged while it is queued; the job is built when it is admitted.
type pendingOp struct {
	op      *resource.Operation
	full    bool
	changes map[string]types.ChangeType
	running bool
	cancel  context.CancelFunc
}

type retryRequest struct {
	full     bool
	changes  map[string]types.ChangeType
	priority types.Priority
}

type subscriber struct {
	path string // empty subscribes to every folder
	ch   chan types.FolderState
}

func newFolder(cfg types.FolderConfig) *folder {
	return &folder{
		cfg: cfg,
		state: types.FolderState{
			Path:   cfg.Path,
			Status: types.StatusPending,
			Paused: !cfg.Enabled,
			Model:  cfg.EmbeddingModel,
		},
	}
}

// idleStatus is the status of a folder with nothing running
func (f *folder) idleStatus() types.FolderStatus {
	if !f.state.LastIndexedAt.IsZero() {
		return types.StatusActive
	}
	return types.StatusPending
}

// deferLocked records work to submit once the running operation finishes
func (f *folder) deferLocked(full bool, changes map[string]types.ChangeType, priority types.Priority) {
	if full {
		f.rerun = true
		f.pending = nil
	} else if !f.rerun {
		f.pending = mergeChanges(f.pending, changes)
	}
	if priority > f.pendingPriority {
		f.pendingPriority = priority
	}
}

// merge folds more work into a queued operation. A full scan covers every
// file change.
func (p *pendingOp) merge(full bool, changes map[string]types.ChangeType) {
	if p.full {
		return
	}
	if full {
		p.full = true
		p.changes = nil
		return
	}
	p.changes = mergeChanges(p.changes, changes)
}

// mergeChanges overlays next onto prev; the latest change to a path wins
func mergeChanges(prev, next map[string]types.ChangeType) map[string]types.ChangeType {
	if prev == nil {
		prev = make(map[string]types.ChangeType, len(next))
	}
	for rel, ct := range next {
		prev[rel] = ct
	}
	return prev
}

// splitChanges turns coalesced changes into sorted index and delete lists
func splitChanges(changes map[string]types.ChangeType) (files, deletes []string) {
	for rel, ct := range changes {
		if ct == types.ChangeDeleted {
			deletes = append(deletes, rel)
		} else {
			files = append(files, rel)
		}
	}
	sort.Strings(files)
	sort.Strings(deletes)
	return files, deletes
}

// publishLocked fans the folder's state out to its subscribers without
// blocking.
func (o *Orchestrator) publishLocked(f *folder) {
	st := f.state
	for _, s := range o.subs {
		if s.path != "" && s.path != f.cfg.Path {
			continue
		}
		select {
		case s.ch <- st:
			continue
		default:
		}
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- st:
		default:
		}
	}
}

// Subscribe streams state changes for path, or for every folder when path
// is empty. The current state is delivered first. The channel is closed by
// the returned cancel func, on folder removal, or on Shutdown.
func (o *Orchestrator) Subscribe(path string) (<-chan types.FolderState, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := ""
	if path != "" {
		var ok bool
		if key, ok = o.keyLocked(path); !ok {
			return nil, nil, ErrFolderNotFound
		}
	}

	ch := make(chan types.FolderState, subscriberBuffer)
	id := o.nextSub
	o.nextSub++
	o.subs[id] = &subscriber{path: key, ch: ch}

	for _, st := range o.snapshotLocked() {
		if key != "" && st.Path != key {
			continue
		}
		select {
		case ch <- st:
		default:
		}
	}

	cancel := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if s, ok := o.subs[id]; ok {
			close(s.ch)
			delete(o.subs, id)
		}
	}
	return ch, cancel, nil
}

// closeSubscribersLocked ends every stream bound to path
func (o *Orchestrator) closeSubscribersLocked(path string) {
	for id, s := range o.subs {
		if s.path == path {
			close(s.ch)
			delete(o.subs, id)
		}
	}
}

// Folders returns a snapshot of every configured folder, sorted by path
func (o *Orchestrator) Folders() []types.FolderState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Folder returns the state of one folder
func (o *Orchestrator) Folder(path string) (types.FolderState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key, ok := o.keyLocked(path)
	if !ok {
		return types.FolderState{}, ErrFolderNotFound
	}
	return o.folders[key].state, nil
}

func (o *Orchestrator) snapshotLocked() []types.FolderState {
	out := make([]types.FolderState, 0, len(o.folders))
	for _, f := range o.folders {
		out = append(out, f.state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
