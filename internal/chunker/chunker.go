package chunker

import (
	"crypto/sha256"
	"strings"

	"github.com/dshills/docindex-mcp/pkg/types"
)

const (
	// MaxTokensPerChunk is the default target maximum token count per chunk
	MaxTokensPerChunk = 512

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4
)

// Chunker splits documents into paragraph-aligned chunks
type Chunker struct {
	maxTokens int
}

// New creates a chunker; maxTokens <= 0 uses MaxTokensPerChunk
func New(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = MaxTokensPerChunk
	}
	return &Chunker{maxTokens: maxTokens}
}

// block is a run of lines that should stay together when possible
type block struct {
	lines     []string
	startLine int // 1-based
	heading   string
}

func (b block) text() string { return strings.Join(b.lines, "\n") }

// ChunkDocument splits doc into chunks of at most maxTokens estimated
// tokens. Paragraphs are kept whole unless a single paragraph is too large,
// and a markdown heading always starts a new chunk.
func (c *Chunker) ChunkDocument(doc *types.Document) []*types.Chunk {
	blocks := c.splitBlocks(doc.Lines)

	chunks := make([]*types.Chunk, 0, len(blocks))
	var cur []block
	curTokens := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, c.newChunk(cur, len(chunks)))
		cur = nil
		curTokens = 0
	}

	for _, b := range blocks {
		tokens := EstimateTokenCount(b.text())
		startsSection := isHeading(b.lines[0])
		if len(cur) > 0 && (startsSection || b.heading != cur[0].heading || curTokens+tokens > c.maxTokens) {
			flush()
		}
		cur = append(cur, b)
		curTokens += tokens
	}
	flush()
	return chunks
}

// splitBlocks groups lines into paragraphs, then breaks paragraphs that
// exceed the token budget on line boundaries.
func (c *Chunker) splitBlocks(lines []string) []block {
	var blocks []block
	var cur *block
	heading := ""

	for i, line := range lines {
		lineNo := i + 1
		if strings.TrimSpace(line) == "" {
			cur = nil
			continue
		}
		if isHeading(line) {
			heading = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
			blocks = append(blocks, block{lines: []string{line}, startLine: lineNo, heading: heading})
			cur = &blocks[len(blocks)-1]
			continue
		}
		if cur == nil {
			blocks = append(blocks, block{startLine: lineNo, heading: heading})
			cur = &blocks[len(blocks)-1]
		}
		cur.lines = append(cur.lines, line)
	}

	out := make([]block, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, c.splitOversized(b)...)
	}
	return out
}

// splitOversized breaks one block on line boundaries, and single lines on
// rune boundaries, until every piece fits the budget.
func (c *Chunker) splitOversized(b block) []block {
	if EstimateTokenCount(b.text()) <= c.maxTokens {
		return []block{b}
	}

	maxChars := c.maxTokens * TokensPerChar
	var out []block
	cur := block{startLine: b.startLine, heading: b.heading}
	curChars := 0

	for i, line := range b.lines {
		lineNo := b.startLine + i
		for _, piece := range splitLine(line, maxChars) {
			if len(cur.lines) > 0 && curChars+len(piece)+1 > maxChars {
				out = append(out, cur)
				cur = block{startLine: lineNo, heading: b.heading}
				curChars = 0
			}
			if len(cur.lines) == 0 {
				cur.startLine = lineNo
			}
			cur.lines = append(cur.lines, piece)
			curChars += len(piece) + 1
		}
	}
	if len(cur.lines) > 0 {
		out = append(out, cur)
	}
	return out
}

func (c *Chunker) newChunk(blocks []block, ordinal int) *types.Chunk {
	parts := make([]string, len(blocks))
	lineCount := 0
	for i, b := range blocks {
		parts[i] = b.text()
		lineCount = b.startLine + len(b.lines) - 1
	}

	chunk := &types.Chunk{
		Ordinal:   ordinal,
		Content:   strings.Join(parts, "\n\n"),
		Heading:   blocks[0].heading,
		StartLine: blocks[0].startLine,
		EndLine:   lineCount,
	}
	chunk.ComputeTokenCount()
	chunk.ComputeContentHash()
	return chunk
}

// splitLine cuts a line into pieces of at most maxChars bytes on rune boundaries
func splitLine(line string, maxChars int) []string {
	if len(line) <= maxChars {
		return []string{line}
	}
	var pieces []string
	start := 0
	size := 0
	for i, r := range line {
		w := len(string(r))
		if size+w > maxChars {
			pieces = append(pieces, line[start:i])
			start = i
			size = 0
		}
		size += w
	}
	return append(pieces, line[start:])
}

func isHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	rest := strings.TrimLeft(trimmed, "#")
	level := len(trimmed) - len(rest)
	return level <= 6 && (rest == "" || rest[0] == ' ' || rest[0] == '\t')
}

// ComputeChunkHash computes SHA-256 hash of chunk content
func ComputeChunkHash(content string) [32]byte {
	return sha256.Sum256([]byte(content))
}

// EstimateTokenCount estimates token count using chars/4 heuristic
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}
