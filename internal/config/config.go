// Package config persists daemon settings and the configured folder list in a
// YAML file and exposes them as a small key-value store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/docindex-mcp/pkg/types"
)

const (
	// EnvConfigPath overrides the config file location
	EnvConfigPath = "DOCINDEX_CONFIG"
	// EnvDBPath overrides db_path
	EnvDBPath = "DOCINDEX_DB_PATH"
	// EnvEmbeddingProvider overrides embedding.provider
	EnvEmbeddingProvider = "DOCINDEX_EMBEDDING_PROVIDER"
	// EnvLogLevel overrides log_level
	EnvLogLevel = "DOCINDEX_LOG_LEVEL"
)

// Config holds the full daemon configuration.
type Config struct {
	DBPath    string               `yaml:"db_path"`
	LogLevel  string               `yaml:"log_level"`
	Embedding EmbeddingConfig      `yaml:"embedding"`
	Resources ResourceConfig       `yaml:"resources"`
	Indexing  IndexingConfig       `yaml:"indexing"`
	Folders   []types.FolderConfig `yaml:"folders"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // local | openai | jina
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	CacheSize int    `yaml:"cache_size"`
}

// ThrottleBand maps pressure strictly above a threshold to a throttle factor.
type ThrottleBand struct {
	Above  float64 `yaml:"above"`
	Factor float64 `yaml:"factor"`
}

// ResourceConfig bounds how much indexing work runs at once.
type ResourceConfig struct {
	MaxConcurrentOperations  int            `yaml:"max_concurrent_operations"`
	MaxMemoryMB              int            `yaml:"max_memory_mb"`
	MaxCPUPercent            float64        `yaml:"max_cpu_percent"`
	MaxQueueSize             int            `yaml:"max_queue_size"`
	DefaultOperationMemoryMB int            `yaml:"default_operation_memory_mb"`
	SampleInterval           time.Duration  `yaml:"sample_interval"`
	HardCeiling              float64        `yaml:"hard_ceiling"`
	ReclaimThreshold         float64        `yaml:"reclaim_threshold"`
	ReclaimAfter             time.Duration  `yaml:"reclaim_after"`
	CrawlPause               time.Duration  `yaml:"crawl_pause"`
	Bands                    []ThrottleBand `yaml:"bands"`
}

// IndexingConfig tunes the per-folder pipeline.
type IndexingConfig struct {
	IgnorePatterns     []string      `yaml:"ignore_patterns"`
	Extensions         []string      `yaml:"extensions"`
	MaxFileSizeMB      int           `yaml:"max_file_size_mb"`
	ChunkTokens        int           `yaml:"chunk_tokens"`
	CheckpointEvery    int           `yaml:"checkpoint_every"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	ProgressInterval   time.Duration `yaml:"progress_interval"`
	ProgressEvery      int           `yaml:"progress_every"`
	RetryAttempts      int           `yaml:"retry_attempts"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	BusyRetryInterval  time.Duration `yaml:"busy_retry_interval"`
	RescanInterval     time.Duration `yaml:"rescan_interval"` // 0 disables periodic rescans
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		DBPath:   "~/.docindex/index.db",
		LogLevel: "info",
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Model:     "local-embeddings",
			CacheSize: 10000,
		},
		Resources: ResourceConfig{
			MaxConcurrentOperations:  3,
			MaxMemoryMB:              1024,
			MaxCPUPercent:            80,
			MaxQueueSize:             100,
			DefaultOperationMemoryMB: 64,
			SampleInterval:           time.Second,
			HardCeiling:              0.95,
			ReclaimThreshold:         0.8,
			ReclaimAfter:             5 * time.Second,
			CrawlPause:               5 * time.Second,
			Bands: []ThrottleBand{
				{Above: 0.5, Factor: 0.75},
				{Above: 0.7, Factor: 0.5},
				{Above: 0.9, Factor: 0.25},
			},
		},
		Indexing: IndexingConfig{
			IgnorePatterns:     []string{"node_modules", "vendor", "*.tmp", "*.swp", "~*"},
			Extensions:         []string{".txt", ".md", ".markdown", ".rst", ".org", ".adoc", ".csv", ".log", ".json", ".yaml", ".yml", ".toml", ".html"},
			MaxFileSizeMB:      50,
			ChunkTokens:        512,
			CheckpointEvery:    25,
			CheckpointInterval: 5 * time.Second,
			ProgressInterval:   250 * time.Millisecond,
			ProgressEvery:      5,
			RetryAttempts:      3,
			RetryBaseDelay:     500 * time.Millisecond,
			ShutdownTimeout:    10 * time.Second,
			BusyRetryInterval:  5 * time.Second,
			RescanInterval:     30 * time.Minute,
		},
	}
}

// DefaultPath returns the config file location, honouring DOCINDEX_CONFIG.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".docindex", "config.yaml"), nil
}

// ApplyEnv overlays environment overrides onto the configuration.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvEmbeddingProvider); v != "" {
		c.Embedding.Provider = strings.ToLower(v)
	}
}

// ResolvedDBPath expands a leading ~ in db_path.
func (c *Config) ResolvedDBPath() (string, error) {
	if c.DBPath == ":memory:" || !strings.HasPrefix(c.DBPath, "~") {
		return c.DBPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(c.DBPath, "~")), nil
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	errs := c.validationErrors()
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
}

func (c *Config) validationErrors() []string {
	var errs []string
	if c.DBPath == "" {
		errs = append(errs, "db_path is required")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unsupported log_level %q", c.LogLevel))
	}
	switch c.Embedding.Provider {
	case "local", "openai", "jina":
	default:
		errs = append(errs, fmt.Sprintf("unsupported embedding.provider %q (use local, openai or jina)", c.Embedding.Provider))
	}

	r := c.Resources
	if r.MaxConcurrentOperations <= 0 {
		errs = append(errs, "resources.max_concurrent_operations must be > 0")
	}
	if r.MaxMemoryMB <= 0 {
		errs = append(errs, "resources.max_memory_mb must be > 0")
	}
	if r.MaxCPUPercent <= 0 {
		errs = append(errs, "resources.max_cpu_percent must be > 0")
	}
	if r.MaxQueueSize <= 0 {
		errs = append(errs, "resources.max_queue_size must be > 0")
	}
	if r.SampleInterval <= 0 {
		errs = append(errs, "resources.sample_interval must be > 0")
	}
	if r.HardCeiling <= 0 || r.HardCeiling > 1.5 {
		errs = append(errs, "resources.hard_ceiling must be in (0, 1.5]")
	}
	prev := 0.0
	for i, b := range r.Bands {
		if b.Above <= prev {
			errs = append(errs, fmt.Sprintf("resources.bands[%d]: thresholds must be ascending and > 0", i))
		}
		if b.Factor <= 0 || b.Factor > 1 {
			errs = append(errs, fmt.Sprintf("resources.bands[%d]: factor must be in (0, 1]", i))
		}
		prev = b.Above
	}

	ix := c.Indexing
	if ix.RetryAttempts <= 0 {
		errs = append(errs, "indexing.retry_attempts must be > 0")
	}
	if ix.CheckpointEvery <= 0 {
		errs = append(errs, "indexing.checkpoint_every must be > 0")
	}
	if ix.MaxFileSizeMB <= 0 {
		errs = append(errs, "indexing.max_file_size_mb must be > 0")
	}

	seen := make(map[string]bool, len(c.Folders))
	for i, f := range c.Folders {
		if err := f.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("folders[%d]: %v", i, err))
			continue
		}
		if !filepath.IsAbs(f.Path) {
			errs = append(errs, fmt.Sprintf("folders[%d]: path %q must be absolute", i, f.Path))
		}
		clean := filepath.Clean(f.Path)
		if seen[clean] {
			errs = append(errs, fmt.Sprintf("folders[%d]: duplicate path %q", i, f.Path))
		}
		seen[clean] = true
	}
	return errs
}

// MaxFileBytes returns max file size in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.Indexing.MaxFileSizeMB) * 1024 * 1024 }
