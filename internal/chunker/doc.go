// Package chunker splits parsed documents into sections sized for embedding.
//
// Chunks follow paragraph boundaries (runs of non-blank lines). Paragraphs
// are packed together until the estimated token count would exceed the
// budget; a markdown heading always starts a new chunk and is carried on
// every chunk of its section as Heading. Token counts use the chars/4
// heuristic.
//
//	c := chunker.New(512)
//	for _, chunk := range c.ChunkDocument(doc) {
//	    fmt.Println(chunk.Ordinal, chunk.StartLine, chunk.EndLine)
//	}
//
// A paragraph larger than the budget is split on line boundaries, and a
// single oversized line on rune boundaries.
package chunker
