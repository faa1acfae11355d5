package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Filter decides which files of a folder are indexed
type Filter struct {
	IgnorePatterns []string // matched against every path component
	Extensions     []string // lower-case, with dot; empty allows all
	MaxFileBytes   int64    // 0 disables the limit
}

// Enumerate lists indexable files under root as slash-separated relative
// paths in lexical order. The order is stable across runs so checkpoint
// offsets stay meaningful.
func Enumerate(root string, f Filter) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFolderUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrFolderUnavailable, root)
	}
	// WalkDir does not follow a symlinked root
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	exts := make(map[string]bool, len(f.Extensions))
	for _, e := range f.Extensions {
		exts[strings.ToLower(e)] = true
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, an unreadable root is not
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") || f.ignored(name) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(exts) > 0 && !exts[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		if f.MaxFileBytes > 0 {
			if fi, err := d.Info(); err != nil || fi.Size() > f.MaxFileBytes {
				return nil
			}
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFolderUnavailable, err)
	}

	sort.Strings(files)
	return files, nil
}

// Allowed applies the filter to a single relative path, for file-change events
func (f Filter) Allowed(relPath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, ".") || f.ignored(part) {
			return false
		}
	}
	if len(f.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(relPath))
	for _, e := range f.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

func (f Filter) ignored(name string) bool {
	for _, pattern := range f.IgnorePatterns {
		if pattern == name {
			return true
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Fingerprint identifies an enumeration: sha256 over the sorted paths
func Fingerprint(files []string) string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, f := range sorted {
		_, _ = io.WriteString(h, f)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// computeFileHash computes SHA-256 hash of a file
func computeFileHash(filePath string) ([32]byte, time.Time, int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return [32]byte{}, time.Time{}, 0, err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return [32]byte{}, time.Time{}, 0, err
	}

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return [32]byte{}, time.Time{}, 0, err
	}

	var result [32]byte
	copy(result[:], hash.Sum(nil))

	return result, info.ModTime(), info.Size(), nil
}
