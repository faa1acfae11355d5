package embedder

import (
	"fmt"
	"os"
	"strings"

	"github.com/dshills/docindex-mcp/internal/config"
)

// API key environment variables
const (
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// New creates a cached embedder from configuration. API keys fall back to
// the provider's environment variable when the config leaves them empty.
func New(cfg config.EmbeddingConfig) (*CachedEmbedder, error) {
	provider := DetectProvider(cfg)

	var inner Embedder
	var err error
	switch provider {
	case ProviderJina:
		inner, err = NewJinaProvider(apiKey(cfg.APIKey, EnvJinaAPIKey), cfg.BaseURL, cfg.Model)
	case ProviderOpenAI:
		inner, err = NewOpenAIProvider(apiKey(cfg.APIKey, EnvOpenAIAPIKey), cfg.BaseURL, cfg.Model)
	case ProviderLocal:
		inner = NewLocalProvider(cfg.Model)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}
	return NewCachedEmbedder(inner, cache), nil
}

// DetectProvider returns the provider New would build for cfg.
// Priority:
// 1. cfg.Provider when set
// 2. JINA_API_KEY, then OPENAI_API_KEY
// 3. local
func DetectProvider(cfg config.EmbeddingConfig) string {
	if p := strings.ToLower(strings.TrimSpace(cfg.Provider)); p != "" {
		return p
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

func apiKey(configured, env string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(env)
}
