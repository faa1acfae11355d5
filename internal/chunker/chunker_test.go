package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docindex-mcp/pkg/types"
)

func docFromText(text string) *types.Document {
	lines := strings.Split(text, "\n")
	return &types.Document{Path: "a.md", Content: text, Lines: lines}
}

func TestChunkDocument_PacksParagraphs(t *testing.T) {
	doc := docFromText("first paragraph line one\nline two\n\nsecond paragraph\n\nthird")
	chunks := New(100).ChunkDocument(doc)

	require.Len(t, chunks, 1)
	c := chunks[0]
	assert.Equal(t, 0, c.Ordinal)
	assert.Equal(t, 1, c.StartLine)
	assert.Equal(t, 6, c.EndLine)
	assert.Equal(t, "first paragraph line one\nline two\n\nsecond paragraph\n\nthird", c.Content)
	assert.Equal(t, ComputeChunkHash(c.Content), c.ContentHash)
	assert.Equal(t, EstimateTokenCount(c.Content), c.TokenCount)
	assert.NoError(t, c.ValidateContent())
}

func TestChunkDocument_HeadingsStartChunks(t *testing.T) {
	doc := docFromText("# Intro\nhello\n\n## Setup\ninstall it\n\nthen run it\n#hashtag stays inline")
	chunks := New(100).ChunkDocument(doc)

	require.Len(t, chunks, 2)
	assert.Equal(t, "Intro", chunks[0].Heading)
	assert.Equal(t, "# Intro\nhello", chunks[0].Content)
	assert.Equal(t, "Setup", chunks[1].Heading)
	assert.Equal(t, 4, chunks[1].StartLine)
	assert.Equal(t, 8, chunks[1].EndLine)
	assert.Contains(t, chunks[1].Content, "#hashtag stays inline")
	assert.Equal(t, 1, chunks[1].Ordinal)
}

func TestChunkDocument_RespectsBudget(t *testing.T) {
	var paras []string
	for i := 0; i < 20; i++ {
		paras = append(paras, strings.Repeat("word ", 20)) // 100 chars = 25 tokens
	}
	chunks := New(60).ChunkDocument(docFromText(strings.Join(paras, "\n\n")))

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, 60+2, "chunk %d", i)
		assert.Equal(t, i, c.Ordinal)
		assert.LessOrEqual(t, c.StartLine, c.EndLine)
	}
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].StartLine, chunks[i-1].EndLine)
	}
}

func TestChunkDocument_SplitsOversizedParagraph(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, strings.Repeat("x", 40))
	}
	chunks := New(25).ChunkDocument(docFromText(strings.Join(lines, "\n")))

	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 10, chunks[len(chunks)-1].EndLine)
}

func TestChunkDocument_SplitsLongLineOnRunes(t *testing.T) {
	line := strings.Repeat("é", 300) // 600 bytes
	chunks := New(25).ChunkDocument(docFromText(line))

	require.Greater(t, len(chunks), 1)
	var rebuilt strings.Builder
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Content))
		assert.Equal(t, 1, c.StartLine)
		rebuilt.WriteString(c.Content)
	}
	assert.Equal(t, line, rebuilt.String())
}

func TestChunkDocument_Empty(t *testing.T) {
	assert.Empty(t, New(0).ChunkDocument(&types.Document{}))
	assert.Empty(t, New(0).ChunkDocument(docFromText("\n\n   \n")))
}

func TestIsHeading(t *testing.T) {
	assert.True(t, isHeading("# Title"))
	assert.True(t, isHeading("   ### Deep"))
	assert.True(t, isHeading("#"))
	assert.False(t, isHeading("#hashtag"))
	assert.False(t, isHeading("####### seven"))
	assert.False(t, isHeading("plain"))
}

func TestEstimateTokenCount(t *testing.T) {
	assert.Equal(t, 0, EstimateTokenCount(""))
	assert.Equal(t, 2, EstimateTokenCount("12345678"))
}
