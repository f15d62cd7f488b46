// Package chunker splits raw documents into overlapping chunks sized
// for embedding.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/veramoney/assistant/internal/domain"
)

// defaultSeparators is the split preference order: paragraph, line,
// sentence, word, then a hard character cut.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// Splitter produces chunks by recursively splitting on the coarsest
// separator that keeps pieces within the chunk size, then merging
// pieces greedily with a tail overlap carried between chunks.
type Splitter struct {
	separators []string
}

// New creates a splitter with the default separator ladder.
func New() *Splitter {
	return &Splitter{separators: defaultSeparators}
}

// Split chunks a raw document page by page. Chunk indexes are strictly
// increasing across the whole document, page numbers follow the source
// page. Chunk size and overlap come from the document source, measured
// in characters.
func (s *Splitter) Split(doc domain.RawDocument) []domain.Chunk {
	size := doc.Source.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	overlap := doc.Source.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
	}

	var chunks []domain.Chunk
	next := 0
	for _, page := range doc.Pages {
		for _, m := range s.chunkText(page.Text, size, overlap) {
			content := strings.TrimSpace(m.text)
			if content == "" {
				continue
			}
			chunks = append(chunks, domain.Chunk{
				Content:       content,
				DocumentKey:   doc.Source.Key,
				DocumentTitle: doc.Source.Title,
				Type:          doc.Source.Type,
				SourceURL:     doc.Source.URL,
				Language:      doc.Source.Language,
				PageNumber:    page.Number,
				ChunkIndex:    next,
				Overlap:       m.carried,
			})
			next++
		}
	}
	return chunks
}

type merged struct {
	text string
	// carried marks chunks that start with text repeated from the
	// previous chunk's tail.
	carried bool
}

func (s *Splitter) chunkText(text string, size, overlap int) []merged {
	return mergePieces(s.pieces(text, s.separators, size), size, overlap)
}

// pieces recursively splits text until every piece fits the chunk size.
// Separators stay attached to the preceding piece, so concatenating
// pieces reconstructs the text.
func (s *Splitter) pieces(text string, separators []string, size int) []string {
	if utf8.RuneCountInString(text) <= size {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	if len(separators) == 0 {
		return hardCut(text, size)
	}

	sep := separators[0]
	rest := separators[1:]
	if sep == "" || !strings.Contains(text, sep) {
		if sep == "" {
			return hardCut(text, size)
		}
		return s.pieces(text, rest, size)
	}

	var out []string
	for _, part := range splitKeep(text, sep) {
		out = append(out, s.pieces(part, rest, size)...)
	}
	return out
}

// mergePieces greedily packs pieces into chunks up to size characters,
// then re-seeds the next chunk with up to overlap characters from the
// tail of the previous one.
func mergePieces(pieces []string, size, overlap int) []merged {
	var chunks []merged
	var window []string
	windowLen := 0
	carried := false

	for _, p := range pieces {
		pLen := utf8.RuneCountInString(p)
		if windowLen > 0 && windowLen+pLen > size {
			chunks = append(chunks, merged{text: strings.Join(window, ""), carried: carried})
			for windowLen > overlap || (windowLen > 0 && windowLen+pLen > size) {
				windowLen -= utf8.RuneCountInString(window[0])
				window = window[1:]
			}
			carried = windowLen > 0
		}
		window = append(window, p)
		windowLen += pLen
	}
	if windowLen > 0 {
		chunks = append(chunks, merged{text: strings.Join(window, ""), carried: carried})
	}
	return chunks
}

// splitKeep splits on sep, keeping sep at the end of each piece except
// the last.
func splitKeep(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// hardCut slices text into size-rune pieces with no separator awareness.
func hardCut(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}
