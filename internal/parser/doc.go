// Package parser reads plain-text documents for indexing.
//
// Only text is supported: files containing NUL bytes in their first 8000
// bytes, or that are not valid UTF-8, are rejected with ErrUnparseable.
// Callers treat that as a per-file failure and skip the file.
//
//	p := parser.New(50 << 20)
//	doc, err := p.ParseFile("/home/me/notes", "ideas/today.md")
//	if errors.Is(err, parser.ErrUnparseable) {
//	    // skip, never retry
//	}
//
// Line endings are normalized to "\n" and a leading byte order mark is
// dropped. ContentHash is computed over the raw bytes so it matches what is
// on disk.
package parser
