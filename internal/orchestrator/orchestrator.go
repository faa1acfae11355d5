package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/docindex-mcp/internal/config"
	"github.com/dshills/docindex-mcp/internal/embedder"
	"github.com/dshills/docindex-mcp/internal/indexer"
	"github.com/dshills/docindex-mcp/internal/recovery"
	"github.com/dshills/docindex-mcp/internal/resource"
	"github.com/dshills/docindex-mcp/internal/storage"
	"github.com/dshills/docindex-mcp/pkg/types"
)

const (
	defaultShutdownTimeout   = 10 * time.Second
	defaultBusyRetryInterval = 5 * time.Second
	statsConcurrency         = 4
)

var errLockHeld = errors.New("folder lock held by another worker")

// Runner executes one indexing job; *indexer.Worker satisfies it
type Runner interface {
	Run(ctx context.Context, job indexer.Job, report indexer.Reporter) (*indexer.Result, error)
}

// FolderStore persists the configured folder list; *config.Store satisfies it
type FolderStore interface {
	Folders() []types.FolderConfig
	UpsertFolder(folder types.FolderConfig) error
	RemoveFolder(path string) error
}

// IndexStore is the part of the index the orchestrator touches directly
type IndexStore interface {
	DeleteFolder(ctx context.Context, path string) error
	FolderStats(ctx context.Context, path string) (*storage.FolderStats, error)
}

// Options tunes the orchestrator
type Options struct {
	DefaultModel      string
	Filter            indexer.Filter
	ShutdownTimeout   time.Duration
	BusyRetryInterval time.Duration
	RescanInterval    time.Duration // 0 disables periodic rescans
}

// OptionsFrom maps the daemon configuration onto Options
func OptionsFrom(cfg config.Config) Options {
	return Options{
		DefaultModel:      cfg.Embedding.Model,
		Filter:            indexer.ConfigFrom(cfg.Indexing).Filter,
		ShutdownTimeout:   cfg.Indexing.ShutdownTimeout,
		BusyRetryInterval: cfg.Indexing.BusyRetryInterval,
		RescanInterval:    cfg.Indexing.RescanInterval,
	}
}

// Stats is the aggregate view for dashboards
type Stats struct {
	RunningOperations    int                        `json:"running_operations"`
	QueuedOperations     int                        `json:"queued_operations"`
	ThrottleFactor       float64                    `json:"throttle_factor"`
	PressureLevel        float64                    `json:"pressure_level"`
	EffectiveConcurrency int                        `json:"effective_concurrency"`
	BatchPaused          bool                       `json:"batch_paused"`
	HeapUsedMB           float64                    `json:"heap_used_mb"`
	Folders              int                        `json:"folders"`
	FoldersByStatus      map[types.FolderStatus]int `json:"folders_by_status"`
	Documents            int                        `json:"documents"`
}

// Orchestrator owns the per-folder state map. It turns commands and file
// changes into operations for the resource manager and runs admitted
// operations on workers, one per folder at a time.
type Orchestrator struct {
	mu       sync.Mutex
	started  bool
	stopping bool

	cfgStore FolderStore
	store    IndexStore
	manager  *resource.Manager
	runner   Runner
	recovery *recovery.Coordinator
	locks    *indexer.Registry
	opts     Options

	folders map[string]*folder // keyed by cleaned path
	ops     map[string]*folder // operation id -> owning folder
	subs    map[int]*subscriber
	nextSub int

	runCtx    context.Context
	runCancel context.CancelFunc
	group     *errgroup.Group
	workers   sync.WaitGroup
	cron      *cron.Cron

	now    func() time.Time
	logger zerolog.Logger
}

// New creates an orchestrator. Nothing runs until Start.
func New(cfgStore FolderStore, store IndexStore, manager *resource.Manager, runner Runner, coord *recovery.Coordinator, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.DefaultModel == "" {
		opts.DefaultModel = embedder.DefaultLocalModel
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.BusyRetryInterval <= 0 {
		opts.BusyRetryInterval = defaultBusyRetryInterval
	}
	return &Orchestrator{
		cfgStore: cfgStore,
		store:    store,
		manager:  manager,
		runner:   runner,
		recovery: coord,
		locks:    indexer.NewRegistry(),
		opts:     opts,
		folders:  make(map[string]*folder),
		ops:      make(map[string]*folder),
		subs:     make(map[int]*subscriber),
		now:      time.Now,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Start reconciles persisted state, loads the configured folders and submits
// a scan for every enabled one. The manager loop and maintenance schedule run
// until Shutdown.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.mu.Unlock()

	configured := o.cfgStore.Folders()
	var plans map[string]*recovery.Plan
	if o.recovery != nil {
		plans = o.recovery.Reconcile(ctx, configured)
	}
	stats := o.loadStats(ctx, configured)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return ErrAlreadyStarted
	}

	o.runCtx, o.runCancel = context.WithCancel(context.Background())
	o.manager.OnAdmit(o.dispatch)
	group, gctx := errgroup.WithContext(o.runCtx)
	group.Go(func() error {
		o.manager.Run(gctx)
		return nil
	})
	o.group = group
	o.cron = o.newSchedule()
	o.cron.Start()
	o.started = true
	o.stopping = false
	o.folders = make(map[string]*folder, len(configured))
	o.ops = make(map[string]*folder)

	for _, fc := range configured {
		fc.Path = filepath.Clean(fc.Path)
		if fc.EmbeddingModel == "" {
			fc.EmbeddingModel = o.opts.DefaultModel
		}
		f := newFolder(fc)
		if st := stats[fc.Path]; st != nil {
			f.state.DocumentCount = st.DocumentCount
			f.state.TotalBytes = st.TotalBytes
			f.state.LastIndexedAt = st.LastIndexedAt
		}
		o.folders[fc.Path] = f
		o.publishLocked(f)
	}

	submitted := 0
	for _, fc := range configured {
		f := o.folders[filepath.Clean(fc.Path)]
		if !f.cfg.Enabled {
			continue
		}
		f.plan = plans[fc.Path]
		if err := o.submitLocked(f, true, nil, types.PriorityBatch); err != nil {
			o.logger.Warn().Err(err).Str("folder", f.cfg.Path).Msg("Startup scan not submitted")
			continue
		}
		submitted++
	}

	o.logger.Info().
		Int("folders", len(configured)).
		Int("submitted", submitted).
		Msg("Orchestrator started")
	return nil
}

// loadStats seeds document counts from the store, a few folders at a time
func (o *Orchestrator) loadStats(ctx context.Context, folders []types.FolderConfig) map[string]*storage.FolderStats {
	out := make(map[string]*storage.FolderStats, len(folders))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statsConcurrency)
	for _, fc := range folders {
		g.Go(func() error {
			path := filepath.Clean(fc.Path)
			st, err := o.store.FolderStats(gctx, path)
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					o.logger.Debug().Err(err).Str("folder", path).Msg("Folder stats unavailable")
				}
				return nil
			}
			mu.Lock()
			out[path] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Shutdown cancels queued and running work and waits, bounded by the
// configured shutdown timeout, for workers to reach a file boundary. Workers
// still running after that are abandoned with a warning; what they already
// wrote is complete.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = false
	o.stopping = true
	for _, f := range o.folders {
		o.manager.CancelFolder(f.cfg.Path)
		if f.op != nil && !f.op.running {
			delete(o.ops, f.op.op.ID)
			f.op = nil
		}
	}
	o.runCancel()
	schedule := o.cron
	group := o.group
	o.mu.Unlock()

	<-schedule.Stop().Done()

	done := make(chan struct{})
	go func() {
		o.workers.Wait()
		close(done)
	}()

	timeout := time.NewTimer(o.opts.ShutdownTimeout)
	defer timeout.Stop()

	var err error
	select {
	case <-done:
	case <-timeout.C:
		o.warnAbandoned()
	case <-ctx.Done():
		o.warnAbandoned()
		err = ctx.Err()
	}
	_ = group.Wait()

	o.mu.Lock()
	for id, s := range o.subs {
		close(s.ch)
		delete(o.subs, id)
	}
	o.mu.Unlock()

	o.logger.Info().Msg("Orchestrator stopped")
	return err
}

func (o *Orchestrator) warnAbandoned() {
	o.mu.Lock()
	defer o.mu.Unlock()
	var abandoned []string
	for path, f := range o.folders {
		if f.op != nil && f.op.running {
			abandoned = append(abandoned, path)
		}
	}
	sort.Strings(abandoned)
	o.logger.Warn().
		Strs("folders", abandoned).
		Dur("timeout", o.opts.ShutdownTimeout).
		Msg("Workers did not stop in time, abandoning")
}

// submitLocked creates an operation for f and asks the manager for a slot
func (o *Orchestrator) submitLocked(f *folder, full bool, changes map[string]types.ChangeType, priority types.Priority) error {
	kind := resource.KindFullScan
	if !full {
		kind = resource.KindFileUpdate
	}
	op := resource.NewOperation(f.cfg.Path, kind, priority)
	p := &pendingOp{op: op, full: full, changes: changes}
	f.op = p
	o.ops[op.ID] = f

	res := o.manager.RequestSlot(op)
	switch {
	case res.Admitted:
		o.clearBusyLocked(f)
		o.launchLocked(f, p)
		return nil
	case res.Queued:
		o.clearBusyLocked(f)
		return nil
	}

	delete(o.ops, op.ID)
	f.op = nil
	if res.Reason != resource.ReasonQueueFull {
		return fmt.Errorf("operation for %s rejected: %s", f.cfg.Path, res.Reason)
	}
	// Busy is not a folder error: the folder keeps its status and is
	// resubmitted by the maintenance sweep.
	f.busy = &retryRequest{full: full, changes: changes, priority: priority}
	f.state.Busy = true
	f.state.Retryable = true
	o.publishLocked(f)
	return ErrSystemBusy
}

func (o *Orchestrator) clearBusyLocked(f *folder) {
	if f.busy == nil && !f.state.Busy {
		return
	}
	f.busy = nil
	f.state.Busy = false
	f.state.Retryable = false
	o.publishLocked(f)
}

// scheduleLocked merges work into the folder's existing operation when there
// is one, so a folder never has more than one operation queued or running.
func (o *Orchestrator) scheduleLocked(f *folder, full bool, changes map[string]types.ChangeType, priority types.Priority) error {
	if f.op != nil {
		p := f.op
		if p.running {
			f.deferLocked(full, changes, priority)
			return nil
		}
		if priority <= p.op.Priority || !o.manager.Cancel(p.op.ID) {
			p.merge(full, changes)
			return nil
		}
		// Resubmit queued work at the higher priority
		delete(o.ops, p.op.ID)
		f.op = nil
		full = full || p.full
		if !full {
			changes = mergeChanges(p.changes, changes)
		}
	}
	if f.busy != nil {
		full = full || f.busy.full
		if !full {
			changes = mergeChanges(f.busy.changes, changes)
		}
		if f.busy.priority > priority {
			priority = f.busy.priority
		}
		f.busy = nil
	}
	if full {
		changes = nil
	}
	return o.submitLocked(f, full, changes, priority)
}

// dispatch runs operations the manager admits from its queue
func (o *Orchestrator) dispatch(op *resource.Operation) {
	o.mu.Lock()
	f, ok := o.ops[op.ID]
	if !ok || o.stopping || f.op == nil || f.op.op.ID != op.ID || f.op.running {
		o.mu.Unlock()
		o.manager.ReleaseSlotWithStatus(op.ID, types.OperationCancelled)
		return
	}
	o.launchLocked(f, f.op)
	o.mu.Unlock()
}

func (o *Orchestrator) launchLocked(f *folder, p *pendingOp) {
	ctx, cancel := context.WithCancel(o.runCtx)
	p.running = true
	p.cancel = cancel
	f.done = make(chan struct{})

	job := indexer.Job{
		OperationID: p.op.ID,
		Folder:      f.cfg.Path,
		Model:       f.cfg.EmbeddingModel,
		Priority:    p.op.Priority,
	}
	if p.full {
		job.Plan = f.plan
		f.plan = nil
	} else {
		job.Files, job.Deletes = splitChanges(p.changes)
	}

	o.workers.Add(1)
	go o.execute(ctx, f, p, job)
}

func (o *Orchestrator) execute(ctx context.Context, f *folder, p *pendingOp, job indexer.Job) {
	defer o.workers.Done()
	defer p.cancel()

	logger := o.logger.With().
		Str("folder", job.Folder).
		Str("operation_id", job.OperationID).
		Stringer("priority", job.Priority).
		Logger()

	var res *indexer.Result
	var err error
	if o.locks.TryAcquire(job.Folder) {
		res, err = o.runner.Run(ctx, job, func(pr indexer.Progress) { o.progress(f, p, pr) })
		o.locks.Release(job.Folder)
	} else {
		err = errLockHeld
	}
	o.complete(f, p, res, err, logger)
}

// progress applies a worker update, ignoring stale operations
func (o *Orchestrator) progress(f *folder, p *pendingOp, pr indexer.Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if f.removed || f.op != p {
		return
	}
	f.state.Status = pr.Status
	f.state.Progress = pr.Progress
	if pr.Status == types.StatusIndexing {
		f.state.DocumentCount = pr.DocumentCount
		f.state.TotalBytes = pr.TotalBytes
	}
	f.state.ErrorMessage = ""
	o.publishLocked(f)
}

// complete records the outcome of a run, frees its slot and submits any
// work that arrived while it was running.
func (o *Orchestrator) complete(f *folder, p *pendingOp, res *indexer.Result, err error, logger zerolog.Logger) {
	o.mu.Lock()
	delete(o.ops, p.op.ID)
	if f.op == p {
		f.op = nil
	}
	if f.done != nil {
		close(f.done)
		f.done = nil
	}

	status := types.OperationCompleted
	switch {
	case errors.Is(err, errLockHeld):
		status = types.OperationCancelled
		f.deferLocked(p.full, p.changes, p.op.Priority)
		logger.Error().Msg("Folder lock held by another worker, operation requeued")
	case err == nil:
		f.state.Status = types.StatusActive
		f.state.Progress = 100
		f.state.ErrorMessage = ""
		f.state.Retryable = false
		if res != nil {
			f.state.DocumentCount = res.DocumentCount
			f.state.TotalBytes = res.TotalBytes
		}
		f.state.LastIndexedAt = o.now()
		if !f.removed {
			o.publishLocked(f)
		}
		ev := logger.Info()
		if res != nil {
			ev = ev.Int("indexed", res.Indexed).
				Int("skipped", res.Skipped).
				Int("failed", res.Failed).
				Int("deleted", res.Deleted).
				Int("documents", res.DocumentCount).
				Dur("duration", res.Duration)
		}
		ev.Msg("Indexing finished")
	case errors.Is(err, context.Canceled):
		status = types.OperationCancelled
		if !f.removed && !o.stopping && f.state.Status.IsWorking() {
			f.state.Status = f.idleStatus()
			o.publishLocked(f)
		}
		logger.Info().Msg("Indexing cancelled")
	default:
		status = types.OperationFailed
		f.rerun = false
		f.pending = nil
		if !f.removed && !o.stopping {
			f.state.Status = types.StatusError
			f.state.ErrorMessage = err.Error()
			f.state.Retryable = false
			o.publishLocked(f)
		}
		logger.Error().Err(err).Bool("systemic", indexer.IsSystemic(err)).Msg("Indexing failed")
	}

	full, changes, priority := f.rerun, f.pending, f.pendingPriority
	f.rerun, f.pending, f.pendingPriority = false, nil, types.PriorityBatch
	followUp := (full || len(changes) > 0) && !f.removed && !o.stopping && f.cfg.Enabled
	o.mu.Unlock()

	o.manager.ReleaseSlotWithStatus(p.op.ID, status)

	if !followUp {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if f.removed || o.stopping || !f.cfg.Enabled || f.state.Status == types.StatusError {
		return
	}
	if err := o.scheduleLocked(f, full, changes, priority); err != nil && !errors.Is(err, ErrSystemBusy) {
		logger.Warn().Err(err).Msg("Follow-up operation not submitted")
	}
}

// Stats returns scheduler and folder counters
func (o *Orchestrator) Stats() Stats {
	ms := o.manager.GetStats()

	o.mu.Lock()
	defer o.mu.Unlock()
	st := Stats{
		RunningOperations:    ms.RunningCount,
		QueuedOperations:     ms.QueuedCount,
		ThrottleFactor:       ms.ThrottleFactor,
		PressureLevel:        ms.PressureLevel,
		EffectiveConcurrency: ms.EffectiveConcurrency,
		BatchPaused:          ms.BatchPaused,
		HeapUsedMB:           ms.Sample.HeapUsedMB,
		Folders:              len(o.folders),
		FoldersByStatus:      make(map[types.FolderStatus]int),
	}
	for _, f := range o.folders {
		st.FoldersByStatus[f.state.Status]++
		st.Documents += f.state.DocumentCount
	}
	return st
}

func (o *Orchestrator) checkStarted() error {
	if !o.started {
		return ErrNotStarted
	}
	return nil
}
