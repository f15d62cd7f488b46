package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/veramoney/assistant/internal/domain"
	"github.com/veramoney/assistant/internal/rag/retriever"
)

// knowledgeRetriever is the consumer interface over the RAG retriever.
type knowledgeRetriever interface {
	Retrieve(ctx context.Context, query string, docType domain.DocumentType, k int) ([]domain.RetrievalResult, error)
}

// Knowledge searches the company knowledge base. The retriever is
// optional: when the RAG subsystem is disabled the tool stays
// registered but reports itself unconfigured.
type Knowledge struct {
	retriever knowledgeRetriever
	k         int
}

// NewKnowledge creates the knowledge base tool. A nil retriever is
// allowed.
func NewKnowledge(r knowledgeRetriever, k int) *Knowledge {
	if k <= 0 {
		k = 4
	}
	return &Knowledge{retriever: r, k: k}
}

func (k *Knowledge) Name() string { return "search_knowledge" }

func (k *Knowledge) Description() string {
	return "Search Vera's internal knowledge base covering company history and " +
		"financial regulations. Use for questions about the company or regulation."
}

var knowledgeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "Natural language search query, 1 to 1000 characters"
		},
		"document_type": {
			"type": "string",
			"enum": ["history", "fintech_regulation", "banking_regulation"],
			"description": "Optional filter restricting the search to one document"
		}
	},
	"required": ["query"]
}`)

func (k *Knowledge) Parameters() json.RawMessage { return knowledgeSchema }

// knowledgeOutput is the envelope returned to the model.
type knowledgeOutput struct {
	Query        string           `json:"query"`
	Chunks       []knowledgeChunk `json:"chunks"`
	TotalResults int              `json:"total_results"`
}

type knowledgeChunk struct {
	Content        string  `json:"content"`
	DocumentTitle  string  `json:"document_title"`
	DocumentType   string  `json:"document_type"`
	PageNumber     int     `json:"page_number"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Invoke validates arguments, runs retrieval and returns the result
// envelope as JSON.
func (k *Knowledge) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	if k.retriever == nil {
		return "", fmt.Errorf("knowledge base: %w", domain.ErrNotConfigured)
	}

	var in struct {
		Query        string `json:"query"`
		DocumentType string `json:"document_type"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("decode arguments: %w: %w", domain.ErrValidation, err)
	}

	in.Query = strings.TrimSpace(in.Query)
	if in.Query == "" {
		return "", fmt.Errorf("query is required: %w", domain.ErrValidation)
	}
	if utf8.RuneCountInString(in.Query) > retriever.MaxQueryLength {
		return "", fmt.Errorf("query exceeds %d characters: %w",
			retriever.MaxQueryLength, domain.ErrValidation)
	}

	var docType domain.DocumentType
	if in.DocumentType != "" {
		parsed, ok := domain.ParseDocumentType(in.DocumentType)
		if !ok {
			return "", fmt.Errorf("unknown document_type %q: %w", in.DocumentType, domain.ErrValidation)
		}
		docType = parsed
	}

	results, err := k.retriever.Retrieve(ctx, in.Query, docType, k.k)
	if err != nil {
		return "", err
	}

	out := knowledgeOutput{
		Query:        in.Query,
		Chunks:       make([]knowledgeChunk, 0, len(results)),
		TotalResults: len(results),
	}
	for _, res := range results {
		out.Chunks = append(out.Chunks, knowledgeChunk{
			Content:        res.Content,
			DocumentTitle:  res.DocumentTitle,
			DocumentType:   string(res.Type),
			PageNumber:     res.PageNumber,
			RelevanceScore: res.Score,
		})
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	return string(encoded), nil
}
