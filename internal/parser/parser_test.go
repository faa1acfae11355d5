package parser

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PlainText(t *testing.T) {
	p := New(0)
	content := []byte("# Weekly notes\r\n\r\nShip the release.\r\nCall Sam.\r\n")

	doc, err := p.Parse("notes/week.md", content)
	require.NoError(t, err)

	assert.Equal(t, "notes/week.md", doc.Path)
	assert.Equal(t, "Weekly notes", doc.Title)
	assert.Equal(t, []string{"# Weekly notes", "", "Ship the release.", "Call Sam."}, doc.Lines)
	assert.Equal(t, 4, doc.LineCount())
	assert.NotContains(t, doc.Content, "\r")
	assert.Equal(t, sha256.Sum256(content), doc.ContentHash)
	assert.Equal(t, int64(len(content)), doc.SizeBytes)
}

func TestParse_Title(t *testing.T) {
	p := New(0)
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"heading", "intro\n## Section\n", "Section"},
		{"first line", "\n\n  Plain first line  \nmore", "Plain first line"},
		{"empty", "", "empty.txt"},
		{"long", strings.Repeat("x", 200), strings.Repeat("x", maxTitleLen) + "…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := p.Parse("empty.txt", []byte(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Title)
		})
	}
}

func TestParse_BOM(t *testing.T) {
	doc, err := New(0).Parse("a.txt", append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello")...))
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Content)
}

func TestParse_RejectsBinary(t *testing.T) {
	p := New(0)

	_, err := p.Parse("image.png", []byte{0x89, 'P', 'N', 'G', 0x00, 0x01})
	assert.ErrorIs(t, err, ErrUnparseable)

	_, err = p.Parse("latin1.txt", []byte{'c', 'a', 'f', 0xE9})
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestParseFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "a.txt"), []byte("alpha\nbeta\n"), 0o644))

	doc, err := New(0).ParseFile(root, filepath.Join("sub", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "sub/a.txt", doc.Path)
	assert.Equal(t, filepath.Join(root, "sub", "a.txt"), doc.AbsPath)
	assert.False(t, doc.ModTime.IsZero())

	_, err = New(0).ParseFile(root, "missing.txt")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnparseable)

	_, err = New(0).ParseFile(root, "sub")
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestParseFile_TooLarge(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), []byte(strings.Repeat("a", 100)), 0o644))

	_, err := New(10).ParseFile(root, "big.txt")
	assert.ErrorIs(t, err, ErrUnparseable)
	assert.ErrorIs(t, err, ErrTooLarge)
}
