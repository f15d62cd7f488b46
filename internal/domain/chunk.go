package domain

import "fmt"

// Page is one page-ordered text segment of a loaded document.
type Page struct {
	Number int
	Text   string
}

// RawDocument is the parsed form of a fetched source. It exists only
// between loading and chunking and is never persisted.
type RawDocument struct {
	Source Source
	Pages  []Page
}

// Chunk is a bounded, overlapping segment of document text, the unit of
// embedding and retrieval.
type Chunk struct {
	Content       string
	DocumentKey   string
	DocumentTitle string
	Type          DocumentType
	SourceURL     string
	Language      string
	PageNumber    int
	ChunkIndex    int
	// Overlap reports whether the chunk starts with text repeated from
	// its predecessor.
	Overlap bool
}

// ID returns the stable chunk identity. Re-ingesting the same document
// produces the same ids, which is what makes index upserts idempotent.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s:%d", c.DocumentKey, c.ChunkIndex)
}

// IndexedEntry pairs a chunk with its embedding for index upsert. The
// vector is computed once per chunk identity and never mutated.
type IndexedEntry struct {
	Chunk  Chunk
	Vector []float32
}
