package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedder turns texts into vectors. Implementations must return exactly one
// vector per input text, in input order.
type Embedder interface {
	// Embed generates embeddings for texts with the named model.
	// An empty model selects the provider default.
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)

	// Dimension returns the embedding dimension of the default model
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the default model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// ModelPreparer is implemented by embedders that must load a model before
// the first Embed call. Progress is reported in [0, 1].
type ModelPreparer interface {
	Ready(model string) bool
	Prepare(ctx context.Context, model string, progress func(float64)) error
}

// Cache provides in-memory LRU caching of vectors keyed by model and content hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of the cached vector so callers cannot mutate the cache
func (c *Cache) Get(model, text string) ([]float32, bool) {
	vec, ok := c.cache.Get(cacheKey(model, text))
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Set stores a copy of vec
func (c *Cache) Set(model, text string, vec []float32) {
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.Add(cacheKey(model, text), stored)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

func cacheKey(model, text string) string {
	return model + ":" + ComputeHash(text)
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateTexts rejects empty batches and empty entries
func ValidateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}

// CachedEmbedder serves repeated texts from a Cache and forwards the rest
// to the wrapped provider in a single call.
type CachedEmbedder struct {
	inner Embedder
	cache *Cache
}

// NewCachedEmbedder wraps inner with cache. A nil cache disables caching.
func NewCachedEmbedder(inner Embedder, cache *Cache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if err := ValidateTexts(texts); err != nil {
		return nil, err
	}
	if model == "" {
		model = c.inner.Model()
	}
	if c.cache == nil {
		return c.inner.Embed(ctx, texts, model)
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(model, text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missing, model)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(vecs), len(missing))
	}
	for j, vec := range vecs {
		out[missingIdx[j]] = vec
		c.cache.Set(model, missing[j], vec)
	}
	return out, nil
}

func (c *CachedEmbedder) Dimension() int   { return c.inner.Dimension() }
func (c *CachedEmbedder) Provider() string { return c.inner.Provider() }
func (c *CachedEmbedder) Model() string    { return c.inner.Model() }

// Cache returns the underlying cache, nil when caching is disabled
func (c *CachedEmbedder) Cache() *Cache { return c.cache }

func (c *CachedEmbedder) Close() error {
	if c.cache != nil {
		c.cache.Clear()
	}
	return c.inner.Close()
}

// Ready reports whether model is loaded; providers without a load step are always ready.
func (c *CachedEmbedder) Ready(model string) bool {
	if p, ok := c.inner.(ModelPreparer); ok {
		return p.Ready(model)
	}
	return true
}

// Prepare forwards to the wrapped provider when it has a load step.
func (c *CachedEmbedder) Prepare(ctx context.Context, model string, progress func(float64)) error {
	if p, ok := c.inner.(ModelPreparer); ok {
		return p.Prepare(ctx, model, progress)
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			continue
		}
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	result := make([]float32, len(v))
	for i, val := range v {
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			continue
		}
		result[i] = float32(float64(val) / norm)
	}
	return result
}

// toFloat32 converts and normalizes wire vectors
func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return NormalizeVector(out)
}
