package parser

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dshills/docindex-mcp/pkg/types"
)

var (
	// ErrUnparseable marks a file that cannot be read as text. It is a
	// deterministic per-file failure and is never retried.
	ErrUnparseable = errors.New("unparseable document")
	// ErrTooLarge is returned for files above the configured size limit
	ErrTooLarge = errors.New("document exceeds size limit")
)

// sniffLen is how much of a file is inspected for NUL bytes
const sniffLen = 8000

// maxTitleLen bounds titles derived from the first line of plain text
const maxTitleLen = 120

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parser reads plain-text documents from disk
type Parser struct {
	maxBytes int64
}

// New creates a parser; maxBytes <= 0 disables the size limit
func New(maxBytes int64) *Parser {
	return &Parser{maxBytes: maxBytes}
}

// ParseFile reads root/relPath into a Document
func (p *Parser) ParseFile(root, relPath string) (*types.Document, error) {
	absPath := filepath.Join(root, relPath)

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", relPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnparseable, relPath)
	}
	if p.maxBytes > 0 && info.Size() > p.maxBytes {
		return nil, fmt.Errorf("%w: %s (%d bytes): %w", ErrUnparseable, relPath, info.Size(), ErrTooLarge)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", relPath, err)
	}

	doc, err := p.Parse(relPath, content)
	if err != nil {
		return nil, err
	}
	doc.AbsPath = absPath
	doc.ModTime = info.ModTime()
	return doc, nil
}

// Parse converts raw bytes into a Document. Binary content (NUL bytes or
// invalid UTF-8) is rejected with ErrUnparseable.
func (p *Parser) Parse(relPath string, content []byte) (*types.Document, error) {
	sniff := content
	if len(sniff) > sniffLen {
		sniff = sniff[:sniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return nil, fmt.Errorf("%w: %s looks binary", ErrUnparseable, relPath)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrUnparseable, relPath)
	}

	text := string(bytes.TrimPrefix(content, utf8BOM))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	// A trailing newline does not start another line
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return &types.Document{
		Path:        filepath.ToSlash(relPath),
		Title:       titleOf(relPath, lines),
		Content:     text,
		Lines:       lines,
		ContentHash: sha256.Sum256(content),
		SizeBytes:   int64(len(content)),
	}, nil
}

// titleOf returns the first markdown heading, else the first non-empty line,
// else the file name.
func titleOf(relPath string, lines []string) string {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#")); heading != "" {
				return truncate(heading)
			}
		}
	}
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return truncate(trimmed)
		}
	}
	return filepath.Base(relPath)
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxTitleLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxTitleLen]) + "…"
}
