// Package searcher implements hybrid document search across indexed folders,
// combining vector similarity and keyword matching.
//
// The searcher provides three search modes:
//   - Hybrid: Combines vector + BM25 keyword search (default)
//   - Vector: Pure semantic search using embeddings
//   - Keyword: BM25 full-text search only, no embedding required
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, emb, orch, logger)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query: "quarterly budget review",
//	    Limit: 10,
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s:%d (score: %.2f)\n",
//	        r.Rank, r.DocumentPath, r.StartLine, r.RelevanceScore)
//	}
//
// # Folders and Models
//
// Each folder is embedded with its own model, so the query is embedded once
// per distinct model among the searched folders and each folder is queried
// with the matching vector. Per-folder lists are merged by score.
//
// # Crawl Pause
//
// Every search that reaches the index calls HandleSearchRequest on the
// scheduler, which holds back batch indexing for a short window so the
// query is not competing with a crawl. Cache hits do not pause.
//
// # Result Fusion
//
// Hybrid mode fetches twice the requested limit from both searches and fuses
// them with Reciprocal Rank Fusion:
//
//	RRF(d) = sum 1/(k + rank(d))    k = 60 by default
//
// The fused score is scaled so a chunk ranked first by both searches scores
// 1.0. If one of the two searches fails the other's results are returned.
//
// # Caching
//
// Responses are kept in an LRU cache (1000 entries, 1 hour TTL by default)
// keyed on the query, its options and the folder/model set it ran against.
// Watch drops entries for a folder whenever its published state changes:
//
//	updates, cancel, _ := orch.Subscribe("")
//	defer cancel()
//	go s.Watch(ctx, updates)
package searcher
