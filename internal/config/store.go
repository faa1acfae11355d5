package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dshills/docindex-mcp/pkg/types"
)

var (
	// ErrInvalidConfig is returned when a configuration fails validation
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnknownKey is returned for dotted paths that do not exist in the schema
	ErrUnknownKey = errors.New("unknown configuration key")
)

// ValidationResult reports whether a proposed value is acceptable for a key
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Store is a YAML-backed key-value view over Config. Keys are dotted paths
// such as "resources.max_queue_size" or "folders".
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

// Load reads the config file at path. A missing file yields the defaults.
func Load(path string) (*Store, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{path: path, cfg: cfg}, nil
}

// NewMemoryStore returns a store that never touches disk
func NewMemoryStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Store{cfg: cfg}
}

// Path returns the backing file, empty for memory stores
func (s *Store) Path() string {
	return s.path
}

// Config returns a copy of the current configuration
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := *s.cfg
	c.Folders = append([]types.FolderConfig(nil), s.cfg.Folders...)
	return c
}

// Get returns the value stored at a dotted key
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := toDocument(s.cfg)
	if err != nil {
		return nil, false
	}
	return lookup(doc, splitKey(key))
}

// Validate checks a proposed value without applying it
func (s *Store) Validate(key string, value any) ValidationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, errs := s.apply(key, value)
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Set validates and applies a value, then persists the file
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, errs := s.apply(key, value)
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	prev := s.cfg
	s.cfg = next
	if err := s.saveLocked(); err != nil {
		s.cfg = prev
		return err
	}
	return nil
}

// Folders returns the configured folders
func (s *Store) Folders() []types.FolderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.FolderConfig(nil), s.cfg.Folders...)
}

// SetFolders replaces the folder list
func (s *Store) SetFolders(folders []types.FolderConfig) error {
	if folders == nil {
		folders = []types.FolderConfig{}
	}
	return s.Set("folders", folders)
}

// UpsertFolder adds or replaces the entry with the same path
func (s *Store) UpsertFolder(folder types.FolderConfig) error {
	folders := s.Folders()
	for i := range folders {
		if folders[i].Path == folder.Path {
			folders[i] = folder
			return s.SetFolders(folders)
		}
	}
	return s.SetFolders(append(folders, folder))
}

// RemoveFolder drops the entry with the given path, if present
func (s *Store) RemoveFolder(path string) error {
	folders := s.Folders()
	out := folders[:0]
	for _, f := range folders {
		if f.Path != path {
			out = append(out, f)
		}
	}
	return s.SetFolders(out)
}

// Save writes the current configuration to disk
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s.cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// apply returns a new Config with key set to value, plus any validation errors
func (s *Store) apply(key string, value any) (*Config, []string) {
	parts := splitKey(key)
	if len(parts) == 0 {
		return nil, []string{"key is required"}
	}

	doc, err := toDocument(s.cfg)
	if err != nil {
		return nil, []string{err.Error()}
	}
	if _, ok := lookup(doc, parts); !ok {
		return nil, []string{fmt.Sprintf("%v: %s", ErrUnknownKey, key)}
	}

	encoded, err := toYAMLValue(value)
	if err != nil {
		return nil, []string{fmt.Sprintf("%s: %v", key, err)}
	}
	assign(doc, parts, encoded)

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, []string{err.Error()}
	}
	next := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(next); err != nil {
		return nil, []string{fmt.Sprintf("%s: %v", key, err)}
	}
	return next, next.validationErrors()
}

func splitKey(key string) []string {
	key = strings.Trim(strings.TrimSpace(key), ".")
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}

// toDocument converts a Config into a generic map keyed by YAML names
func toDocument(cfg *Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return doc, nil
}

// toYAMLValue normalises typed values (structs, durations) into generic YAML data
func toYAMLValue(value any) (any, error) {
	raw, err := yaml.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func lookup(doc map[string]any, parts []string) (any, bool) {
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func assign(doc map[string]any, parts []string, value any) {
	m := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}
