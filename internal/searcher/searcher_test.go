package searcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docindex-mcp/internal/embedder"
	"github.com/dshills/docindex-mcp/internal/storage"
	"github.com/dshills/docindex-mcp/pkg/types"
)

// fakeScheduler records crawl pause signals
type fakeScheduler struct {
	mu      sync.Mutex
	folders []types.FolderState
	signals int
}

func (f *fakeScheduler) Folders() []types.FolderState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.FolderState(nil), f.folders...)
}

func (f *fakeScheduler) HandleSearchRequest() {
	f.mu.Lock()
	f.signals++
	f.mu.Unlock()
}

func (f *fakeScheduler) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signals
}

// fakeEmbedder maps each model to a one-hot vector and counts calls
type fakeEmbedder struct {
	mu     sync.Mutex
	calls  map[string]int
	failOn string
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{calls: make(map[string]int)}
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string, model string) ([][]float32, error) {
	e.mu.Lock()
	e.calls[model]++
	e.mu.Unlock()
	if model == e.failOn {
		return nil, errors.New("provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(model)), 1}
	}
	return out, nil
}

func (e *fakeEmbedder) Dimension() int   { return 2 }
func (e *fakeEmbedder) Provider() string { return "fake" }
func (e *fakeEmbedder) Model() string    { return "m1" }
func (e *fakeEmbedder) Close() error     { return nil }

func (e *fakeEmbedder) callCount(model string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[model]
}

// fakeStore returns canned results per folder
type fakeStore struct {
	mu          sync.Mutex
	vector      map[string][]types.SearchResult
	text        map[string][]types.SearchResult
	vectorsSeen map[string][]float32
	textErr     error
	searches    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		vector:      make(map[string][]types.SearchResult),
		text:        make(map[string][]types.SearchResult),
		vectorsSeen: make(map[string][]float32),
	}
}

func (s *fakeStore) Search(_ context.Context, folder string, vector []float32, limit int, _ *storage.SearchFilters) ([]types.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++
	s.vectorsSeen[folder] = vector
	return truncate(s.vector[folder], limit), nil
}

func (s *fakeStore) SearchText(_ context.Context, folder string, _ string, limit int, _ *storage.SearchFilters) ([]types.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++
	if s.textErr != nil {
		return nil, s.textErr
	}
	return truncate(s.text[folder], limit), nil
}

func (s *fakeStore) searchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

func truncate(r []types.SearchResult, limit int) []types.SearchResult {
	if len(r) > limit {
		r = r[:limit]
	}
	return append([]types.SearchResult(nil), r...)
}

func hit(id int64, folder, doc string, score float64) types.SearchResult {
	return types.SearchResult{
		ChunkID:        id,
		RelevanceScore: score,
		FolderPath:     folder,
		DocumentPath:   doc,
		StartLine:      1,
		EndLine:        3,
		Content:        "content " + doc,
	}
}

func setupSearcher(folders ...types.FolderState) (*Searcher, *fakeStore, *fakeEmbedder, *fakeScheduler) {
	store := newFakeStore()
	emb := newFakeEmbedder()
	sched := &fakeScheduler{folders: folders}
	return NewSearcher(store, emb, sched, zerolog.Nop()), store, emb, sched
}

func TestSearch_Validation(t *testing.T) {
	s, _, _, _ := setupSearcher(types.FolderState{Path: "/a", Model: "m1"})

	_, err := s.Search(context.Background(), SearchRequest{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = s.Search(context.Background(), SearchRequest{Query: "x", Mode: "fuzzy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported search mode")
}

func TestValidateRequest_Defaults(t *testing.T) {
	s, _, _, _ := setupSearcher()
	req := SearchRequest{Query: " notes ", Limit: 500}
	require.NoError(t, s.validateRequest(&req))
	assert.Equal(t, "notes", req.Query)
	assert.Equal(t, maxLimit, req.Limit)
	assert.Equal(t, SearchModeHybrid, req.Mode)
	assert.Equal(t, float64(defaultRRFConstant), req.RRFConstant)
	assert.Equal(t, defaultCacheTTL, req.CacheTTL)

	req = SearchRequest{Query: "x"}
	require.NoError(t, s.validateRequest(&req))
	assert.Equal(t, defaultLimit, req.Limit)
}

func TestSearch_Targets(t *testing.T) {
	s, _, _, sched := setupSearcher(types.FolderState{Path: "/a", Model: "m1"})

	_, err := s.Search(context.Background(), SearchRequest{Query: "x", Folder: "/missing"})
	assert.ErrorIs(t, err, ErrFolderNotFound)

	sched.folders = nil
	_, err = s.Search(context.Background(), SearchRequest{Query: "x"})
	assert.ErrorIs(t, err, ErrNoFolders)
	assert.Zero(t, sched.signalCount(), "rejected requests must not pause crawling")
}

func TestSearch_SignalsCrawlPause(t *testing.T) {
	s, store, _, sched := setupSearcher(types.FolderState{Path: "/a", Model: "m1"})
	store.vector["/a"] = []types.SearchResult{hit(1, "/a", "one.md", 0.9)}

	_, err := s.Search(context.Background(), SearchRequest{Query: "x", Mode: SearchModeVector})
	require.NoError(t, err)
	assert.Equal(t, 1, sched.signalCount())
}

func TestSearch_EmbedsOncePerModel(t *testing.T) {
	s, store, emb, _ := setupSearcher(
		types.FolderState{Path: "/a", Model: "m1"},
		types.FolderState{Path: "/b", Model: "m1"},
		types.FolderState{Path: "/c", Model: "model-2"},
	)
	store.vector["/a"] = []types.SearchResult{hit(1, "/a", "a.md", 0.5)}
	store.vector["/b"] = []types.SearchResult{hit(2, "/b", "b.md", 0.9)}
	store.vector["/c"] = []types.SearchResult{hit(3, "/c", "c.md", 0.7)}

	resp, err := s.Search(context.Background(), SearchRequest{Query: "x", Mode: SearchModeVector})
	require.NoError(t, err)

	assert.Equal(t, 1, emb.callCount("m1"))
	assert.Equal(t, 1, emb.callCount("model-2"))
	assert.Equal(t, []float32{2, 1}, store.vectorsSeen["/a"])
	assert.Equal(t, []float32{7, 1}, store.vectorsSeen["/c"])

	require.Len(t, resp.Results, 3)
	assert.Equal(t, []int64{2, 3, 1}, chunkIDs(resp.Results))
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
	}
	assert.Equal(t, []string{"/a", "/b", "/c"}, resp.Folders)
	assert.Equal(t, SearchModeVector, resp.SearchMode)
}

func TestSearch_SingleFolder(t *testing.T) {
	s, store, _, _ := setupSearcher(
		types.FolderState{Path: "/a", Model: "m1"},
		types.FolderState{Path: "/b", Model: "m1"},
	)
	store.text["/a"] = []types.SearchResult{hit(1, "/a", "a.md", 0.5)}
	store.text["/b"] = []types.SearchResult{hit(2, "/b", "b.md", 0.9)}

	resp, err := s.Search(context.Background(), SearchRequest{Query: "x", Folder: "/a/", Mode: SearchModeKeyword})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, chunkIDs(resp.Results))
	assert.Equal(t, []string{"/a"}, resp.Folders)
}

func TestSearch_FolderThroughSymlink(t *testing.T) {
	realDir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	link := filepath.Join(t.TempDir(), "notes")
	require.NoError(t, os.Symlink(realDir, link))

	s, store, _, _ := setupSearcher(types.FolderState{Path: realDir, Model: "m1"})
	store.text[realDir] = []types.SearchResult{hit(1, realDir, "a.md", 0.5)}

	resp, err := s.Search(context.Background(), SearchRequest{Query: "x", Folder: link, Mode: SearchModeKeyword})
	require.NoError(t, err)
	assert.Equal(t, []string{realDir}, resp.Folders)
	assert.Equal(t, []int64{1}, chunkIDs(resp.Results))
}

func TestHybridSearch_FusesBothLists(t *testing.T) {
	s, store, _, _ := setupSearcher(types.FolderState{Path: "/a", Model: "m1"})
	store.vector["/a"] = []types.SearchResult{hit(1, "/a", "one.md", 0.9), hit(2, "/a", "two.md", 0.8)}
	store.text["/a"] = []types.SearchResult{hit(2, "/a", "two.md", 0.7), hit(3, "/a", "three.md", 0.6)}

	resp, err := s.Search(context.Background(), SearchRequest{Query: "two"})
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, int64(2), resp.Results[0].ChunkID, "a chunk found by both searches ranks first")
	assert.Equal(t, 2, resp.VectorResults)
	assert.Equal(t, 2, resp.TextResults)
	for _, r := range resp.Results {
		assert.NoError(t, (&r).Validate())
	}
}

func TestHybridSearch_VectorFailureFallsBackToText(t *testing.T) {
	s, store, emb, _ := setupSearcher(types.FolderState{Path: "/a", Model: "m1"})
	emb.failOn = "m1"
	store.text["/a"] = []types.SearchResult{hit(5, "/a", "five.md", 0.4)}

	resp, err := s.Search(context.Background(), SearchRequest{Query: "five"})
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, chunkIDs(resp.Results))
	assert.Zero(t, resp.VectorResults)
}

func TestHybridSearch_BothFail(t *testing.T) {
	s, store, emb, _ := setupSearcher(types.FolderState{Path: "/a", Model: "m1"})
	emb.failOn = "m1"
	store.textErr = errors.New("fts unavailable")

	_, err := s.Search(context.Background(), SearchRequest{Query: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both searches failed")
}

func TestKeywordSearch_WithoutEmbedder(t *testing.T) {
	store := newFakeStore()
	store.text["/a"] = []types.SearchResult{hit(1, "/a", "a.md", 0.5)}
	sched := &fakeScheduler{folders: []types.FolderState{{Path: "/a", Model: "m1"}}}
	s := NewSearcher(store, nil, sched, zerolog.Nop())

	resp, err := s.Search(context.Background(), SearchRequest{Query: "x", Mode: SearchModeKeyword})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)

	_, err = s.Search(context.Background(), SearchRequest{Query: "x", Mode: SearchModeVector})
	assert.Error(t, err)
}

func TestCache_HitSkipsIndexAndPause(t *testing.T) {
	s, store, _, sched := setupSearcher(types.FolderState{Path: "/a", Model: "m1"})
	store.vector["/a"] = []types.SearchResult{hit(1, "/a", "one.md", 0.9)}

	req := SearchRequest{Query: "x", Mode: SearchModeVector, UseCache: true}
	first, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	searches := store.searchCount()

	second, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, searches, store.searchCount())
	assert.Equal(t, 1, sched.signalCount())
	assert.Equal(t, first.Results, second.Results)

	// Mutating a returned response must not leak into the cache
	second.Results[0].Content = "changed"
	third, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "content one.md", third.Results[0].Content)
}

func TestCache_KeyedOnModel(t *testing.T) {
	s, store, _, sched := setupSearcher(types.FolderState{Path: "/a", Model: "m1"})
	store.vector["/a"] = []types.SearchResult{hit(1, "/a", "one.md", 0.9)}
	req := SearchRequest{Query: "x", Mode: SearchModeVector, UseCache: true}

	_, err := s.Search(context.Background(), req)
	require.NoError(t, err)

	sched.folders = []types.FolderState{{Path: "/a", Model: "m2"}}
	resp, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
}

func TestCache_Expires(t *testing.T) {
	s, store, _, _ := setupSearcher(types.FolderState{Path: "/a", Model: "m1"})
	store.vector["/a"] = []types.SearchResult{hit(1, "/a", "one.md", 0.9)}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	req := SearchRequest{Query: "x", Mode: SearchModeVector, UseCache: true, CacheTTL: time.Minute}
	_, err := s.Search(context.Background(), req)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	resp, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
}

func TestInvalidateFolder(t *testing.T) {
	s, store, _, _ := setupSearcher(
		types.FolderState{Path: "/a", Model: "m1"},
		types.FolderState{Path: "/b", Model: "m1"},
	)
	store.vector["/a"] = []types.SearchResult{hit(1, "/a", "a.md", 0.9)}
	store.vector["/b"] = []types.SearchResult{hit(2, "/b", "b.md", 0.9)}

	ctx := context.Background()
	for _, folder := range []string{"", "/a", "/b"} {
		_, err := s.Search(ctx, SearchRequest{Query: "x", Folder: folder, Mode: SearchModeVector, UseCache: true})
		require.NoError(t, err)
	}
	require.Equal(t, 3, s.CacheLen())

	assert.Equal(t, 2, s.InvalidateFolder("/a"))
	assert.Equal(t, 1, s.CacheLen())

	s.InvalidateCache()
	assert.Zero(t, s.CacheLen())
}

func TestWatch_InvalidatesOnStateChange(t *testing.T) {
	s, store, _, _ := setupSearcher(types.FolderState{Path: "/a", Model: "m1"})
	store.vector["/a"] = []types.SearchResult{hit(1, "/a", "a.md", 0.9)}

	_, err := s.Search(context.Background(), SearchRequest{Query: "x", Mode: SearchModeVector, UseCache: true})
	require.NoError(t, err)
	require.Equal(t, 1, s.CacheLen())

	updates := make(chan types.FolderState, 1)
	done := make(chan struct{})
	go func() {
		s.Watch(context.Background(), updates)
		close(done)
	}()

	updates <- types.FolderState{Path: "/a", Status: types.StatusActive}
	require.Eventually(t, func() bool { return s.CacheLen() == 0 }, time.Second, 5*time.Millisecond)

	close(updates)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after the stream closed")
	}
}

func TestApplyRRF(t *testing.T) {
	vector := []types.SearchResult{hit(1, "/a", "a", 0.9), hit(2, "/a", "b", 0.8)}
	text := []types.SearchResult{hit(1, "/a", "a", 0.6)}

	got := applyRRF(vector, text, 60)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ChunkID)
	assert.InDelta(t, 1.0, got[0].RelevanceScore, 1e-9)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, 2, got[1].Rank)
	assert.Less(t, got[1].RelevanceScore, got[0].RelevanceScore)

	assert.Empty(t, applyRRF(nil, nil, 0))
}

// TestSearch_SQLiteStore runs a vector search against a real index built
// with the local provider.
func TestSearch_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := embedder.NewLocalProvider(embedder.DefaultLocalModel)
	_, err = store.EnsureFolder(ctx, "/notes", embedder.DefaultLocalModel)
	require.NoError(t, err)

	docs := map[string]string{
		"garden.md":  "tomatoes need sun and water every morning",
		"finance.md": "quarterly budget review and expense report",
	}
	for rel, text := range docs {
		chunk := &types.Chunk{Content: text, StartLine: 1, EndLine: 1}
		chunk.ComputeContentHash()
		chunk.ComputeTokenCount()
		vectors, err := emb.Embed(ctx, []string{text}, embedder.DefaultLocalModel)
		require.NoError(t, err)
		doc := &storage.Document{RelPath: rel, Model: embedder.DefaultLocalModel, SizeBytes: int64(len(text))}
		require.NoError(t, store.UpsertDocument(ctx, "/notes", doc, []*types.Chunk{chunk}, vectors))
	}

	sched := &fakeScheduler{folders: []types.FolderState{{Path: "/notes", Model: embedder.DefaultLocalModel}}}
	s := NewSearcher(store, emb, sched, zerolog.Nop())

	resp, err := s.Search(ctx, SearchRequest{Query: "budget expense report", Mode: SearchModeKeyword})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "finance.md", resp.Results[0].DocumentPath)

	resp, err = s.Search(ctx, SearchRequest{Query: "tomatoes need sun and water every morning"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "garden.md", resp.Results[0].DocumentPath)
	assert.Equal(t, "/notes", resp.Results[0].FolderPath)
}

func chunkIDs(results []types.SearchResult) []int64 {
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}
