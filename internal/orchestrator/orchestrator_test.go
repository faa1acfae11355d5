package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docindex-mcp/internal/config"
	"github.com/dshills/docindex-mcp/internal/embedder"
	"github.com/dshills/docindex-mcp/internal/indexer"
	"github.com/dshills/docindex-mcp/internal/recovery"
	"github.com/dshills/docindex-mcp/internal/resource"
	"github.com/dshills/docindex-mcp/internal/storage"
	"github.com/dshills/docindex-mcp/pkg/types"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeRunner records jobs and lets tests hold runs open
type fakeRunner struct {
	mu        sync.Mutex
	jobs      []indexer.Job
	active    map[string]int
	maxActive map[string]int
	cancelled int
	block     chan struct{} // runs wait for close or cancellation
	stubborn  bool          // ignore cancellation while blocked
	err       error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{active: make(map[string]int), maxActive: make(map[string]int)}
}

func (r *fakeRunner) Run(ctx context.Context, job indexer.Job, report indexer.Reporter) (*indexer.Result, error) {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.active[job.Folder]++
	if r.active[job.Folder] > r.maxActive[job.Folder] {
		r.maxActive[job.Folder] = r.active[job.Folder]
	}
	block, stubborn, err := r.block, r.stubborn, r.err
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active[job.Folder]--
		r.mu.Unlock()
	}()

	report(indexer.Progress{Status: types.StatusIndexing, Progress: 50, DocumentCount: 1})
	if block != nil {
		if stubborn {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				r.mu.Lock()
				r.cancelled++
				r.mu.Unlock()
				return &indexer.Result{Cancelled: true}, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return &indexer.Result{DocumentCount: 3, TotalBytes: 30}, nil
}

func (r *fakeRunner) setBlock(ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.block = ch
}

func (r *fakeRunner) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *fakeRunner) snapshot() []indexer.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]indexer.Job(nil), r.jobs...)
}

func (r *fakeRunner) count() int {
	return len(r.snapshot())
}

func (r *fakeRunner) running(folder string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[folder]
}

type testEnv struct {
	orch     *Orchestrator
	cfgStore *config.Store
	store    *storage.SQLiteStorage
	manager  *resource.Manager
}

func setup(t *testing.T, runner Runner, rc resource.Config, folders ...types.FolderConfig) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.DefaultConfig()
	cfg.Folders = folders
	cfgStore := config.NewMemoryStore(cfg)

	if rc.SampleInterval == 0 {
		rc.SampleInterval = time.Hour
	}
	manager := resource.NewManager(rc, nil, zerolog.Nop())
	opts := Options{
		DefaultModel:    "m1",
		Filter:          indexer.Filter{Extensions: []string{".md"}},
		ShutdownTimeout: time.Second,
	}
	orch := New(cfgStore, store, manager, runner, recovery.NewCoordinator(store, zerolog.Nop()), opts, zerolog.Nop())
	return &testEnv{orch: orch, cfgStore: cfgStore, store: store, manager: manager}
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	require.NoError(t, e.orch.Start(context.Background()))
	t.Cleanup(func() { _ = e.orch.Shutdown(context.Background()) })
}

func (e *testEnv) status(t *testing.T, path string) types.FolderState {
	t.Helper()
	st, err := e.orch.Folder(path)
	require.NoError(t, err)
	return st
}

func (e *testEnv) waitStatus(t *testing.T, path string, want types.FolderStatus) types.FolderState {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := e.orch.Folder(path)
		return err == nil && st.Status == want
	}, waitFor, tick, "folder %s never reached %s", path, want)
	return e.status(t, path)
}

func mkdir(t *testing.T, parts ...string) string {
	t.Helper()
	dir := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func TestCommandsBeforeStart(t *testing.T) {
	env := setup(t, newFakeRunner(), resource.Config{})

	_, err := env.orch.AddFolder(context.Background(), t.TempDir(), "")
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, env.orch.RemoveFolder(context.Background(), "/x"), ErrNotStarted)
	assert.ErrorIs(t, env.orch.HandleFileChange("/x/a.md", types.ChangeModified, false), ErrNotStarted)

	env.start(t)
	assert.ErrorIs(t, env.orch.Start(context.Background()), ErrAlreadyStarted)
}

func TestAddFolder_Validation(t *testing.T) {
	env := setup(t, newFakeRunner(), resource.Config{})
	env.start(t)
	ctx := context.Background()

	root := t.TempDir()
	ab := mkdir(t, root, "a", "b")
	abc := mkdir(t, root, "a", "b", "c")
	file := filepath.Join(root, "file.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := env.orch.AddFolder(ctx, ab, "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		reason string
	}{
		{"relative", "a/b", "absolute"},
		{"missing", filepath.Join(root, "nope"), "does not exist"},
		{"not a directory", file, "not a directory"},
		{"duplicate", ab + string(filepath.Separator), "already configured"},
		{"ancestor", filepath.Join(root, "a"), "contains configured folder"},
		{"descendant", abc, "inside configured folder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.orch.AddFolder(ctx, tt.path, "")
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}

	// Rejected paths never get state or config
	assert.Len(t, env.orch.Folders(), 1)
	assert.Len(t, env.cfgStore.Folders(), 1)

	// A sibling that only shares a name prefix is fine
	_, err = env.orch.AddFolder(ctx, mkdir(t, root, "a", "bc"), "")
	assert.NoError(t, err)
}

func TestCheckFolder(t *testing.T) {
	root := t.TempDir()
	a := mkdir(t, root, "a")
	ab := mkdir(t, root, "a", "b")
	other := mkdir(t, root, "other")

	abs, err := CheckFolder(other+string(filepath.Separator), []string{a})
	require.NoError(t, err)
	assert.Equal(t, canonical(other), abs)

	_, err = CheckFolder(ab, []string{a})
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "inside configured folder")

	_, err = CheckFolder("relative/path", nil)
	assert.True(t, IsValidation(err))

	// Configured roots are compared by their resolved paths
	linkA := filepath.Join(t.TempDir(), "a-link")
	require.NoError(t, os.Symlink(a, linkA))
	_, err = CheckFolder(ab, []string{linkA})
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "inside configured folder")
}

func TestAddFolder_SymlinksCannotOverlap(t *testing.T) {
	env := setup(t, newFakeRunner(), resource.Config{})
	env.start(t)
	ctx := context.Background()

	root := t.TempDir()
	a := mkdir(t, root, "a")
	ab := mkdir(t, root, "a", "b")
	elsewhere := mkdir(t, root, "elsewhere")
	links := t.TempDir()

	_, err := env.orch.AddFolder(ctx, a, "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		reason string
	}{
		{"into descendant", ab, "inside configured folder"},
		{"to same folder", a, "already configured"},
		{"to ancestor", root, "contains configured folder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := filepath.Join(links, tt.name)
			require.NoError(t, os.Symlink(tt.target, link))

			_, err := env.orch.AddFolder(ctx, link, "")
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
	assert.Len(t, env.orch.Folders(), 1)

	// A link to an unrelated folder is stored by its resolved path and can
	// still be addressed through the link
	link := filepath.Join(links, "elsewhere")
	require.NoError(t, os.Symlink(elsewhere, link))
	st, err := env.orch.AddFolder(ctx, link, "")
	require.NoError(t, err)
	assert.Equal(t, canonical(elsewhere), st.Path)

	_, err = env.orch.Folder(link)
	assert.NoError(t, err)
	require.NoError(t, env.orch.RemoveFolder(ctx, link))
	assert.Len(t, env.orch.Folders(), 1)
}

func TestAddFolder_IndexesToActive(t *testing.T) {
	runner := newFakeRunner()
	env := setup(t, runner, resource.Config{})
	env.start(t)

	dir := t.TempDir()
	st, err := env.orch.AddFolder(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, "m1", st.Model)

	st = env.waitStatus(t, dir, types.StatusActive)
	assert.Equal(t, 3, st.DocumentCount)
	assert.Equal(t, int64(30), st.TotalBytes)
	assert.Equal(t, float64(100), st.Progress)
	assert.Empty(t, st.ErrorMessage)
	assert.False(t, st.LastIndexedAt.IsZero())

	jobs := runner.snapshot()
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Targeted())
	assert.Equal(t, types.PriorityBatch, jobs[0].Priority)

	saved := env.cfgStore.Folders()
	require.Len(t, saved, 1)
	assert.Equal(t, types.FolderConfig{Path: dir, EmbeddingModel: "m1", Enabled: true}, saved[0])
}

func TestOneWorkerPerFolder_ChangesCoalesce(t *testing.T) {
	runner := newFakeRunner()
	block := make(chan struct{})
	runner.setBlock(block)
	env := setup(t, runner, resource.Config{MaxConcurrentOperations: 3})
	env.start(t)

	dir := t.TempDir()
	_, err := env.orch.AddFolder(context.Background(), dir, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.running(dir) == 1 }, waitFor, tick)

	for i := 0; i < 20; i++ {
		path := filepath.Join(dir, fmt.Sprintf("note%02d.md", i))
		require.NoError(t, env.orch.HandleFileChange(path, types.ChangeModified, i%2 == 0))
	}
	require.NoError(t, env.orch.HandleFileChange(filepath.Join(dir, "gone.md"), types.ChangeDeleted, false))
	// Filtered out by extension
	require.NoError(t, env.orch.HandleFileChange(filepath.Join(dir, "image.png"), types.ChangeCreated, false))

	assert.Equal(t, 1, runner.count(), "changes wait for the running scan")
	runner.setBlock(nil)
	close(block)

	require.Eventually(t, func() bool { return runner.count() == 2 }, waitFor, tick)
	env.waitStatus(t, dir, types.StatusActive)

	jobs := runner.snapshot()
	assert.Len(t, jobs[1].Files, 20)
	assert.Equal(t, []string{"gone.md"}, jobs[1].Deletes)
	assert.Equal(t, types.PriorityInteractive, jobs[1].Priority)
	assert.Equal(t, 1, runner.maxActive[dir])
}

func TestHandleFileChange_UnknownFolder(t *testing.T) {
	env := setup(t, newFakeRunner(), resource.Config{})
	env.start(t)

	err := env.orch.HandleFileChange("/not/configured/a.md", types.ChangeModified, false)
	assert.ErrorIs(t, err, ErrFolderNotFound)
	err = env.orch.HandleFileChange("/x/a.md", types.ChangeType("moved"), false)
	assert.Error(t, err)
}

func TestQueueFull_ReportsBusy(t *testing.T) {
	runner := newFakeRunner()
	block := make(chan struct{})
	runner.setBlock(block)
	env := setup(t, runner, resource.Config{MaxConcurrentOperations: 1, MaxQueueSize: 1})
	env.start(t)
	ctx := context.Background()

	a, b, c := t.TempDir(), t.TempDir(), t.TempDir()
	_, err := env.orch.AddFolder(ctx, a, "")
	require.NoError(t, err)
	_, err = env.orch.AddFolder(ctx, b, "")
	require.NoError(t, err)

	st, err := env.orch.AddFolder(ctx, c, "")
	require.ErrorIs(t, err, ErrSystemBusy)
	assert.True(t, st.Busy)
	assert.True(t, st.Retryable)
	assert.NotEqual(t, types.StatusError, st.Status, "busy is not a folder error")

	stats := env.orch.Stats()
	assert.Equal(t, 1, stats.QueuedOperations)
	assert.LessOrEqual(t, stats.RunningOperations, 1)

	runner.setBlock(nil)
	close(block)
	env.waitStatus(t, a, types.StatusActive)
	env.waitStatus(t, b, types.StatusActive)

	env.orch.retryBusy()
	st = env.waitStatus(t, c, types.StatusActive)
	assert.False(t, st.Busy)
	assert.False(t, st.Retryable)
}

func TestSystemicError_RequiresExplicitResume(t *testing.T) {
	runner := newFakeRunner()
	runner.setErr(&indexer.SystemicError{Folder: "x", Stage: indexer.StageEmbed, Attempts: 3, Err: errors.New("connection refused")})
	env := setup(t, runner, resource.Config{})
	env.start(t)
	ctx := context.Background()

	dir := t.TempDir()
	_, err := env.orch.AddFolder(ctx, dir, "")
	require.NoError(t, err)

	st := env.waitStatus(t, dir, types.StatusError)
	assert.Contains(t, st.ErrorMessage, "connection refused")
	assert.False(t, st.Retryable)

	// Neither maintenance job nor file changes retry a failed folder
	env.orch.retryBusy()
	env.orch.rescanIdle()
	require.NoError(t, env.orch.HandleFileChange(filepath.Join(dir, "a.md"), types.ChangeModified, true))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, runner.count())

	runner.setErr(nil)
	_, err = env.orch.ResumeFolder(ctx, dir)
	require.NoError(t, err)
	st = env.waitStatus(t, dir, types.StatusActive)
	assert.Empty(t, st.ErrorMessage)
	assert.Equal(t, 2, runner.count())
}

func TestRemoveFolder_CancelsRunningWork(t *testing.T) {
	runner := newFakeRunner()
	runner.setBlock(make(chan struct{}))
	env := setup(t, runner, resource.Config{})
	env.start(t)
	ctx := context.Background()

	dir := t.TempDir()
	_, err := env.orch.AddFolder(ctx, dir, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.running(dir) == 1 }, waitFor, tick)

	ch, cancel, err := env.orch.Subscribe(dir)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, env.orch.RemoveFolder(ctx, dir))
	assert.Equal(t, 0, runner.running(dir), "remove waits for the worker")
	assert.Empty(t, env.orch.Folders())
	assert.Empty(t, env.cfgStore.Folders())
	assert.ErrorIs(t, env.orch.RemoveFolder(ctx, dir), ErrFolderNotFound)

	for range ch {
	}
	require.Eventually(t, func() bool { return env.orch.Stats().RunningOperations == 0 }, waitFor, tick)
}

func TestRemoveFolder_DropsQueuedWork(t *testing.T) {
	runner := newFakeRunner()
	block := make(chan struct{})
	runner.setBlock(block)
	env := setup(t, runner, resource.Config{MaxConcurrentOperations: 1})
	env.start(t)
	ctx := context.Background()

	a, b := t.TempDir(), t.TempDir()
	_, err := env.orch.AddFolder(ctx, a, "")
	require.NoError(t, err)
	_, err = env.orch.AddFolder(ctx, b, "")
	require.NoError(t, err)
	assert.Equal(t, 1, env.orch.Stats().QueuedOperations)

	require.NoError(t, env.orch.RemoveFolder(ctx, b))
	assert.Equal(t, 0, env.orch.Stats().QueuedOperations)

	runner.setBlock(nil)
	close(block)
	env.waitStatus(t, a, types.StatusActive)
	for _, j := range runner.snapshot() {
		assert.NotEqual(t, b, j.Folder)
	}
}

func TestPauseResume(t *testing.T) {
	runner := newFakeRunner()
	block := make(chan struct{})
	runner.setBlock(block)
	env := setup(t, runner, resource.Config{})
	env.start(t)
	ctx := context.Background()

	dir := t.TempDir()
	_, err := env.orch.AddFolder(ctx, dir, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.running(dir) == 1 }, waitFor, tick)

	st, err := env.orch.PauseFolder(ctx, dir)
	require.NoError(t, err)
	assert.True(t, st.Paused)
	require.Eventually(t, func() bool { return runner.running(dir) == 0 }, waitFor, tick)
	env.waitStatus(t, dir, types.StatusPending)
	assert.False(t, env.cfgStore.Folders()[0].Enabled)

	// Paused folders ignore file changes
	require.NoError(t, env.orch.HandleFileChange(filepath.Join(dir, "a.md"), types.ChangeCreated, true))
	assert.Equal(t, 1, runner.count())

	runner.setBlock(nil)
	close(block)
	st, err = env.orch.ResumeFolder(ctx, dir)
	require.NoError(t, err)
	assert.False(t, st.Paused)
	env.waitStatus(t, dir, types.StatusActive)
	assert.True(t, env.cfgStore.Folders()[0].Enabled)
	assert.Equal(t, 2, runner.count())
}

func TestChangeModel_RestartsRunningScan(t *testing.T) {
	runner := newFakeRunner()
	block := make(chan struct{})
	runner.setBlock(block)
	env := setup(t, runner, resource.Config{})
	env.start(t)
	ctx := context.Background()

	dir := t.TempDir()
	_, err := env.orch.AddFolder(ctx, dir, "m1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.running(dir) == 1 }, waitFor, tick)

	st, err := env.orch.ChangeModel(ctx, dir, "m2")
	require.NoError(t, err)
	assert.Equal(t, "m2", st.Model)

	require.Eventually(t, func() bool { return runner.count() == 2 }, waitFor, tick)
	runner.setBlock(nil)
	close(block)
	env.waitStatus(t, dir, types.StatusActive)

	jobs := runner.snapshot()
	assert.Equal(t, "m1", jobs[0].Model)
	assert.Equal(t, "m2", jobs[1].Model)
	assert.False(t, jobs[1].Targeted())
	assert.Equal(t, "m2", env.cfgStore.Folders()[0].EmbeddingModel)

	_, err = env.orch.ChangeModel(ctx, dir, "")
	assert.True(t, IsValidation(err))
}

func TestSubscribe_StreamsTransitions(t *testing.T) {
	env := setup(t, newFakeRunner(), resource.Config{})
	env.start(t)

	_, _, err := env.orch.Subscribe("/nowhere")
	assert.ErrorIs(t, err, ErrFolderNotFound)

	ch, cancel, err := env.orch.Subscribe("")
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = env.orch.AddFolder(context.Background(), dir, "")
	require.NoError(t, err)

	var seen []types.FolderStatus
	timeout := time.After(waitFor)
	for done := false; !done; {
		select {
		case st := <-ch:
			assert.Equal(t, dir, st.Path)
			seen = append(seen, st.Status)
			done = st.Status == types.StatusActive
		case <-timeout:
			t.Fatalf("no active status, saw %v", seen)
		}
	}
	assert.Equal(t, types.StatusPending, seen[0])
	assert.Contains(t, seen, types.StatusIndexing)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestHandleSearchRequest_PausesBatch(t *testing.T) {
	env := setup(t, newFakeRunner(), resource.Config{CrawlPause: time.Minute})
	env.start(t)

	assert.False(t, env.orch.Stats().BatchPaused)
	env.orch.HandleSearchRequest()
	assert.True(t, env.orch.Stats().BatchPaused)
}

func TestHandleSearchRequest_PromotesInteractiveWork(t *testing.T) {
	runner := newFakeRunner()
	block := make(chan struct{})
	runner.setBlock(block)
	env := setup(t, runner, resource.Config{MaxConcurrentOperations: 1, CrawlPause: time.Minute})
	env.start(t)
	ctx := context.Background()

	running, batch, edited := t.TempDir(), t.TempDir(), t.TempDir()
	_, err := env.orch.AddFolder(ctx, running, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.running(canonical(running)) == 1 }, waitFor, tick)

	_, err = env.orch.AddFolder(ctx, batch, "")
	require.NoError(t, err)
	_, err = env.orch.AddFolder(ctx, edited, "")
	require.NoError(t, err)
	require.NoError(t, env.orch.HandleFileChange(filepath.Join(edited, "note.md"), types.ChangeModified, true))

	priorities := func() map[string]types.Priority {
		out := make(map[string]types.Priority)
		for _, op := range env.manager.QueuedOperations() {
			out[op.FolderPath] = op.Priority
		}
		return out
	}
	assert.Equal(t, map[string]types.Priority{
		canonical(batch):  types.PriorityBatch,
		canonical(edited): types.PriorityInteractive,
	}, priorities())

	env.orch.HandleSearchRequest()

	assert.Equal(t, map[string]types.Priority{
		canonical(batch):  types.PriorityBatch,
		canonical(edited): types.PriorityImmediate,
	}, priorities())
	assert.Equal(t, 1, runner.running(canonical(running)), "running work is left alone")
	assert.Equal(t, 1, env.orch.Stats().RunningOperations)

	// The promoted scan takes the freed slot ahead of the queued batch scan
	runner.setBlock(nil)
	close(block)
	require.Eventually(t, func() bool { return runner.count() >= 2 }, waitFor, tick)
	jobs := runner.snapshot()
	assert.Equal(t, canonical(edited), jobs[1].Folder)
	assert.Equal(t, types.PriorityImmediate, jobs[1].Priority)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 0, runner.cancelled)
}

func TestStart_LoadsConfiguredFolders(t *testing.T) {
	enabled, disabled := t.TempDir(), t.TempDir()
	runner := newFakeRunner()
	env := setup(t, runner, resource.Config{},
		types.FolderConfig{Path: enabled, EmbeddingModel: "m1", Enabled: true},
		types.FolderConfig{Path: disabled, EmbeddingModel: "m1", Enabled: false},
	)
	env.start(t)

	env.waitStatus(t, enabled, types.StatusActive)
	st := env.status(t, disabled)
	assert.True(t, st.Paused)
	assert.Equal(t, types.StatusPending, st.Status)

	jobs := runner.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, enabled, jobs[0].Folder)
	require.NotNil(t, jobs[0].Plan, "startup scans carry the recovery plan")
	assert.Equal(t, recovery.ReasonNoCheckpoint, jobs[0].Plan.Reason)
}

func TestShutdown_AbandonsStuckWorkers(t *testing.T) {
	runner := newFakeRunner()
	block := make(chan struct{})
	defer close(block)
	runner.setBlock(block)
	runner.stubborn = true

	env := setup(t, runner, resource.Config{})
	env.orch.opts.ShutdownTimeout = 50 * time.Millisecond
	require.NoError(t, env.orch.Start(context.Background()))

	dir := t.TempDir()
	_, err := env.orch.AddFolder(context.Background(), dir, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.running(dir) == 1 }, waitFor, tick)

	start := time.Now()
	require.NoError(t, env.orch.Shutdown(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = env.orch.AddFolder(context.Background(), t.TempDir(), "")
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.NoError(t, env.orch.Shutdown(context.Background()))
}

// 100 files with #47 corrupt end active with 99 documents and no error
func TestCorruptFileScenario(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	for i := 0; i < 100; i++ {
		content := []byte(fmt.Sprintf("# Note %d\n\nPlain text body for note %d.\n", i, i))
		if i == 46 {
			content = []byte{0x00, 0x01, 0x02, 0xff}
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("note%03d.md", i)), content, 0o644))
	}

	cfg := config.DefaultConfig()
	cfg.Indexing.RetryBaseDelay = time.Millisecond
	manager := resource.NewManager(resource.Config{SampleInterval: time.Hour}, nil, zerolog.Nop())
	coord := recovery.NewCoordinator(store, zerolog.Nop())
	emb := embedder.NewLocalProvider(embedder.DefaultLocalModel)
	worker := indexer.NewWorker(store, emb, coord, manager.Gate(), indexer.ConfigFrom(cfg.Indexing), zerolog.Nop())

	opts := OptionsFrom(*cfg)
	opts.RescanInterval = 0
	orch := New(config.NewMemoryStore(cfg), store, manager, worker, coord, opts, zerolog.Nop())
	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	_, err = orch.AddFolder(context.Background(), dir, embedder.DefaultLocalModel)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := orch.Folder(dir)
		return err == nil && st.Status == types.StatusActive
	}, 10*time.Second, 10*time.Millisecond)

	st, err := orch.Folder(dir)
	require.NoError(t, err)
	assert.Equal(t, 99, st.DocumentCount)
	assert.Empty(t, st.ErrorMessage)
	assert.Equal(t, 99, orch.Stats().Documents)
}
