package domain

import "fmt"

// RetrievalResult is a single ranked hit from the knowledge index.
// Ephemeral, produced per query.
type RetrievalResult struct {
	Content       string
	DocumentTitle string
	Type          DocumentType
	PageNumber    int
	ChunkIndex    int
	Score         float64
	Rank          int
}

// Citation references the source document backing a retrieved fact.
// Derived for presentation, never stored.
type Citation struct {
	DocumentTitle string
	Snippet       string
}

// Format renders the user-facing citation marker.
func (c Citation) Format() string {
	return fmt.Sprintf("[Source: %s]", c.DocumentTitle)
}

// snippetLen bounds the citation snippet.
const snippetLen = 160

// NewCitation derives a citation from retrieved chunk content,
// truncating the snippet on a rune boundary.
func NewCitation(title, content string) Citation {
	if runes := []rune(content); len(runes) > snippetLen {
		content = string(runes[:snippetLen])
	}
	return Citation{DocumentTitle: title, Snippet: content}
}
