// Package retriever answers knowledge queries against the vector index.
package retriever

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/veramoney/assistant/internal/domain"
)

// MaxQueryLength bounds accepted query text.
const MaxQueryLength = 1000

// embedder produces the query vector.
type embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// index serves KNN queries.
type index interface {
	Search(ctx context.Context, vector []float32, k int, docType domain.DocumentType) ([]domain.RetrievalResult, error)
}

// Retriever embeds queries and searches the knowledge index.
type Retriever struct {
	embedder embedder
	index    index
	defaultK int
	logger   *zap.Logger
}

// Config wires retriever collaborators.
type Config struct {
	Embedder embedder
	Index    index
	// DefaultK is the result count used when the caller passes k <= 0.
	DefaultK int
	Logger   *zap.Logger
}

// New creates a retriever.
func New(cfg Config) *Retriever {
	k := cfg.DefaultK
	if k <= 0 {
		k = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder: cfg.Embedder,
		index:    cfg.Index,
		defaultK: k,
		logger:   logger,
	}
}

// Retrieve returns the k most similar chunks for a query. When a
// document type filter yields nothing, the search falls back once to an
// unfiltered pass over the whole knowledge base.
func (r *Retriever) Retrieve(ctx context.Context, query string, docType domain.DocumentType, k int) ([]domain.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is empty: %w", domain.ErrValidation)
	}
	if len([]rune(query)) > MaxQueryLength {
		return nil, fmt.Errorf("query exceeds %d characters: %w", MaxQueryLength, domain.ErrValidation)
	}
	if k <= 0 {
		k = r.defaultK
	}

	emb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := r.index.Search(ctx, emb.Embedding, k, docType)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 && docType != "" {
		r.logger.Debug("filtered retrieval empty, retrying unfiltered",
			zap.String("document_type", string(docType)))
		results, err = r.index.Search(ctx, emb.Embedding, k, "")
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Citations builds one citation per distinct source document, in result
// order, snippet taken from that document's best-ranked chunk.
func Citations(results []domain.RetrievalResult) []domain.Citation {
	seen := make(map[string]bool, len(results))
	var citations []domain.Citation
	for _, res := range results {
		if res.DocumentTitle == "" || seen[res.DocumentTitle] {
			continue
		}
		seen[res.DocumentTitle] = true
		citations = append(citations, domain.NewCitation(res.DocumentTitle, res.Content))
	}
	return citations
}
