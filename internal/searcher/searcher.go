package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/docindex-mcp/internal/embedder"
	"github.com/dshills/docindex-mcp/internal/storage"
	"github.com/dshills/docindex-mcp/pkg/types"
)

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Vector + BM25 with RRF
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // BM25 text search only
)

const (
	defaultLimit       = 10
	maxLimit           = 100
	defaultRRFConstant = 60
	defaultCacheTTL    = time.Hour
	defaultCacheSize   = 1000
	maxFolderSearches  = 4
)

var (
	ErrEmptyQuery     = errors.New("query cannot be empty")
	ErrFolderNotFound = errors.New("folder not found")
	ErrNoFolders      = errors.New("no folders configured")
)

// Store is the part of the index the searcher reads
type Store interface {
	Search(ctx context.Context, folderPath string, vector []float32, limit int, filters *storage.SearchFilters) ([]types.SearchResult, error)
	SearchText(ctx context.Context, folderPath string, query string, limit int, filters *storage.SearchFilters) ([]types.SearchResult, error)
}

// Scheduler is the orchestrator surface the searcher depends on: the folder
// list with each folder's model, and the crawl pause signal.
type Scheduler interface {
	Folders() []types.FolderState
	HandleSearchRequest()
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query       string
	Folder      string // Empty searches every configured folder
	Limit       int
	Mode        SearchMode
	Filters     *storage.SearchFilters
	UseCache    bool // Whether to use query cache
	CacheTTL    time.Duration
	RRFConstant float64 // k value for Reciprocal Rank Fusion (default 60)
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results       []types.SearchResult `json:"results"`
	TotalResults  int                  `json:"total_results"`
	SearchMode    SearchMode           `json:"search_mode"`
	Duration      time.Duration        `json:"duration"`
	CacheHit      bool                 `json:"cache_hit"`
	VectorResults int                  `json:"vector_results"`
	TextResults   int                  `json:"text_results"`
	Folders       []string             `json:"folders"`
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	folders   []string
	expiresAt time.Time
}

// target is one folder to query and the model its vectors were built with
type target struct {
	path  string
	model string
}

// Searcher embeds queries with each folder's model and fuses vector and
// keyword matches across folders.
type Searcher struct {
	store    Store
	embedder embedder.Embedder
	sched    Scheduler
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.RWMutex
	now      func() time.Time
	logger   zerolog.Logger
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store Store, emb embedder.Embedder, sched Scheduler, logger zerolog.Logger) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](defaultCacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		store:    store,
		embedder: emb,
		sched:    sched,
		cache:    cache,
		now:      time.Now,
		logger:   logger.With().Str("component", "searcher").Logger(),
	}
}

// Search performs a search based on the request parameters. Every search
// that reaches the index starts a crawl pause so batch indexing yields.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := s.now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}
	if req.Mode != SearchModeKeyword && s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}

	targets, err := s.resolveTargets(req.Folder)
	if err != nil {
		return nil, err
	}

	hash := computeQueryHash(req, targets)
	if req.UseCache {
		if cached := s.checkCache(hash); cached != nil {
			cached.CacheHit = true
			cached.Duration = s.now().Sub(startTime)
			return cached, nil
		}
	}

	if s.sched != nil {
		s.sched.HandleSearchRequest()
	}

	var response *SearchResponse
	switch req.Mode {
	case SearchModeHybrid:
		response, err = s.hybridSearch(ctx, req, targets)
	case SearchModeVector:
		response, err = s.vectorSearch(ctx, req, targets)
	case SearchModeKeyword:
		response, err = s.keywordSearch(ctx, req, targets)
	default:
		return nil, fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	response.Duration = s.now().Sub(startTime)
	response.SearchMode = req.Mode
	response.Folders = paths(targets)

	if req.UseCache && len(response.Results) > 0 {
		s.storeInCache(hash, req.CacheTTL, response)
	}

	s.logger.Debug().
		Str("mode", string(req.Mode)).
		Int("folders", len(targets)).
		Int("results", response.TotalResults).
		Dur("duration", response.Duration).
		Msg("Search completed")
	return response, nil
}

// resolveTargets picks the folders to query. A named folder must be
// configured; an empty name means every folder.
func (s *Searcher) resolveTargets(folder string) ([]target, error) {
	var states []types.FolderState
	if s.sched != nil {
		states = s.sched.Folders()
	}

	if folder != "" {
		key := filepath.Clean(folder)
		resolved := key
		if r, err := filepath.EvalSymlinks(key); err == nil {
			resolved = r
		}
		for _, st := range states {
			if st.Path == key || st.Path == resolved {
				return []target{{path: st.Path, model: st.Model}}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, folder)
	}

	if len(states) == 0 {
		return nil, ErrNoFolders
	}
	targets := make([]target, 0, len(states))
	for _, st := range states {
		targets = append(targets, target{path: st.Path, model: st.Model})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].path < targets[j].path })
	return targets, nil
}

// embedQuery embeds the query once per distinct model
func (s *Searcher) embedQuery(ctx context.Context, query string, targets []target) (map[string][]float32, error) {
	vectors := make(map[string][]float32)
	for _, t := range targets {
		if _, ok := vectors[t.model]; ok {
			continue
		}
		out, err := s.embedder.Embed(ctx, []string{query}, t.model)
		if err != nil {
			return nil, fmt.Errorf("failed to generate query embedding for model %s: %w", t.model, err)
		}
		if len(out) != 1 || len(out[0]) == 0 {
			return nil, fmt.Errorf("embedder returned no vector for model %s", t.model)
		}
		vectors[t.model] = out[0]
	}
	return vectors, nil
}

// searchVectors runs the vector query against every target and merges the
// per-folder lists by similarity.
func (s *Searcher) searchVectors(ctx context.Context, req SearchRequest, targets []target, limit int) ([]types.SearchResult, error) {
	vectors, err := s.embedQuery(ctx, req.Query, targets)
	if err != nil {
		return nil, err
	}
	return s.fanOut(ctx, targets, func(ctx context.Context, t target) ([]types.SearchResult, error) {
		return s.store.Search(ctx, t.path, vectors[t.model], limit, req.Filters)
	})
}

// searchText runs the BM25 query against every target
func (s *Searcher) searchText(ctx context.Context, req SearchRequest, targets []target, limit int) ([]types.SearchResult, error) {
	return s.fanOut(ctx, targets, func(ctx context.Context, t target) ([]types.SearchResult, error) {
		return s.store.SearchText(ctx, t.path, req.Query, limit, req.Filters)
	})
}

// fanOut queries targets with bounded concurrency and returns the merged
// results ordered by score. Scores from every folder share the [0,1] scale.
func (s *Searcher) fanOut(ctx context.Context, targets []target, query func(context.Context, target) ([]types.SearchResult, error)) ([]types.SearchResult, error) {
	lists := make([][]types.SearchResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFolderSearches)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			res, err := query(gctx, t)
			if err != nil {
				return fmt.Errorf("search %s: %w", t.path, err)
			}
			lists[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []types.SearchResult
	for _, l := range lists {
		merged = append(merged, l...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].RelevanceScore != merged[j].RelevanceScore {
			return merged[i].RelevanceScore > merged[j].RelevanceScore
		}
		return merged[i].ChunkID < merged[j].ChunkID
	})
	return merged, nil
}

// hybridSearch combines vector and BM25 search using Reciprocal Rank Fusion
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest, targets []target) (*SearchResponse, error) {
	var vectorRes, textRes []types.SearchResult
	var vectorErr, textErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorRes, vectorErr = s.searchVectors(ctx, req, targets, req.Limit*2)
	}()
	go func() {
		defer wg.Done()
		textRes, textErr = s.searchText(ctx, req, targets, req.Limit*2)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Allow one side to fail
	if vectorErr != nil && textErr != nil {
		return nil, fmt.Errorf("both searches failed: vector=%w, text=%v", vectorErr, textErr)
	}
	if vectorErr != nil {
		s.logger.Warn().Err(vectorErr).Msg("Vector search failed, using keyword results only")
	}
	if textErr != nil {
		s.logger.Debug().Err(textErr).Msg("Keyword search failed, using vector results only")
	}

	results := applyRRF(vectorRes, textRes, req.RRFConstant)
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return &SearchResponse{
		Results:       results,
		TotalResults:  len(results),
		VectorResults: len(vectorRes),
		TextResults:   len(textRes),
	}, nil
}

// vectorSearch performs only vector similarity search
func (s *Searcher) vectorSearch(ctx context.Context, req SearchRequest, targets []target) (*SearchResponse, error) {
	res, err := s.searchVectors(ctx, req, targets, req.Limit)
	if err != nil {
		return nil, err
	}
	results := rank(res, req.Limit)
	return &SearchResponse{
		Results:       results,
		TotalResults:  len(results),
		VectorResults: len(res),
	}, nil
}

// keywordSearch performs only BM25 text search
func (s *Searcher) keywordSearch(ctx context.Context, req SearchRequest, targets []target) (*SearchResponse, error) {
	res, err := s.searchText(ctx, req, targets, req.Limit)
	if err != nil {
		return nil, err
	}
	results := rank(res, req.Limit)
	return &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		TextResults:  len(res),
	}, nil
}

// rank truncates an ordered list and assigns 1-based ranks
func rank(results []types.SearchResult, limit int) []types.SearchResult {
	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]types.SearchResult, len(results))
	copy(out, results)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// applyRRF applies Reciprocal Rank Fusion to combine vector and text results.
// RRF formula: RRF(d) = sum 1/(k + rank(d)), scaled so a chunk ranked first
// in both lists scores 1.
func applyRRF(vectorResults, textResults []types.SearchResult, k float64) []types.SearchResult {
	if k == 0 {
		k = defaultRRFConstant
	}

	scores := make(map[int64]float64)
	byID := make(map[int64]types.SearchResult)
	add := func(list []types.SearchResult) {
		for i, r := range list {
			scores[r.ChunkID] += 1.0 / (k + float64(i+1))
			if _, ok := byID[r.ChunkID]; !ok {
				byID[r.ChunkID] = r
			}
		}
	}
	add(vectorResults)
	add(textResults)

	best := 2.0 / (k + 1)
	results := make([]types.SearchResult, 0, len(scores))
	for id, score := range scores {
		r := byID[id]
		r.RelevanceScore = score / best
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}

	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}

	switch req.Mode {
	case "":
		req.Mode = SearchModeHybrid
	case SearchModeHybrid, SearchModeVector, SearchModeKeyword:
	default:
		return fmt.Errorf("unsupported search mode: %s", req.Mode)
	}

	if req.RRFConstant == 0 {
		req.RRFConstant = defaultRRFConstant
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = defaultCacheTTL
	}
	return nil
}

// checkCache looks up cached search results, dropping expired entries
func (s *Searcher) checkCache(hash [32]byte) *SearchResponse {
	now := s.now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	s.cacheMu.RUnlock()
	if !found {
		return nil
	}
	if now.After(entry.expiresAt) {
		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}
	return copySearchResponse(entry.response)
}

// storeInCache saves search results to cache
func (s *Searcher) storeInCache(hash [32]byte, ttl time.Duration, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		folders:   append([]string(nil), response.Folders...),
		expiresAt: s.now().Add(ttl),
	}
	s.cacheMu.Lock()
	s.cache.Add(hash, entry)
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = append([]types.SearchResult(nil), src.Results...)
	dst.Folders = append([]string(nil), src.Folders...)
	return &dst
}

// computeQueryHash keys the cache on the query, its options and the
// folders and models it ran against, so a model change misses.
func computeQueryHash(req SearchRequest, targets []target) [32]byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%g", req.Query, req.Mode, req.Limit, req.RRFConstant)
	if req.Filters != nil {
		fmt.Fprintf(&b, "|%s|%g", req.Filters.PathPattern, req.Filters.MinRelevance)
	}
	for _, t := range targets {
		fmt.Fprintf(&b, "|%s=%s", t.path, t.model)
	}
	return sha256.Sum256([]byte(b.String()))
}

// InvalidateFolder removes cached responses that include folder
func (s *Searcher) InvalidateFolder(folder string) int {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	removed := 0
	for _, key := range s.cache.Keys() {
		entry, ok := s.cache.Peek(key)
		if !ok {
			continue
		}
		for _, f := range entry.folders {
			if f == folder {
				s.cache.Remove(key)
				removed++
				break
			}
		}
	}
	return removed
}

// InvalidateCache purges every cached response
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen reports the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// Watch invalidates cached responses for a folder whenever its state
// changes. It returns when updates is closed or ctx is done.
func (s *Searcher) Watch(ctx context.Context, updates <-chan types.FolderState) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if n := s.InvalidateFolder(st.Path); n > 0 {
				s.logger.Debug().Str("folder", st.Path).Int("entries", n).Msg("Search cache invalidated")
			}
		}
	}
}

func paths(targets []target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.path
	}
	return out
}
