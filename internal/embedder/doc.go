// Package embedder turns document chunks and search queries into vectors.
//
// Three providers are available: OpenAI (and OpenAI-compatible servers),
// Jina AI, and an offline local provider based on feature hashing. Every
// provider is wrapped in a CachedEmbedder that keeps an LRU of vectors keyed
// by model and content hash, so unchanged chunks are never re-embedded within
// a process lifetime.
//
// # Basic Usage
//
//	emb, err := embedder.New(cfg.Embedding)
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	vecs, err := emb.Embed(ctx, []string{chunk.EmbeddingText()}, folder.EmbeddingModel)
//
// # Provider Selection
//
//  1. embedding.provider in the config file (or DOCINDEX_EMBEDDING_PROVIDER)
//  2. Else if JINA_API_KEY is set → Jina AI
//  3. Else if OPENAI_API_KEY is set → OpenAI
//  4. Else → local provider (offline)
//
// # Model Preparation
//
// Providers that need to load a model implement ModelPreparer. The indexer
// calls Prepare before scanning a folder whose model is not Ready and reports
// the folder as downloading-model meanwhile.
//
// # Errors
//
// Provider failures wrap ErrProviderFailed. Providers do not retry; the
// indexer owns the retry policy so a failing batch is retried once per
// attempt rather than once per layer.
package embedder
