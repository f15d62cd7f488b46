// Package index persists knowledge base chunks and serves vector
// similarity queries over them.
package index

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/veramoney/assistant/internal/db"
	"github.com/veramoney/assistant/internal/domain"
)

// store is the consumer interface for knowledge index operations (ISP).
type store interface {
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// Repo implements the knowledge index used by the ingestion pipeline
// and the retriever.
type Repo struct {
	store      store
	keyPrefix  string
	vectorDim  int
	hnswM      int
	hnswEFCons int
}

// Config holds index layout settings.
type Config struct {
	// KeyPrefix namespaces all knowledge base keys, e.g. "vera:".
	KeyPrefix string
	// VectorDim is the embedding dimensionality the schema is created with.
	VectorDim int
	// HNSW construction parameters. Zero values fall back to schema defaults.
	HNSWM           int
	HNSWEFConstruct int
}

// New creates a knowledge index repository.
func New(s store, cfg Config) *Repo {
	return &Repo{
		store:      s,
		keyPrefix:  cfg.KeyPrefix,
		vectorDim:  cfg.VectorDim,
		hnswM:      cfg.HNSWM,
		hnswEFCons: cfg.HNSWEFConstruct,
	}
}

// Fields stored per chunk hash.
const (
	fieldContent    = "__content"
	fieldVector     = "vector"
	fieldDocType    = "document_type"
	fieldDocTitle   = "document_title"
	fieldDocKey     = "document_key"
	fieldSourceURL  = "source_url"
	fieldLanguage   = "language"
	fieldPageNumber = "page_number"
	fieldChunkIndex = "chunk_index"
)

// EnsureIndex creates the vector index if it does not exist yet.
// Safe to call concurrently with other writers.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	name := r.indexName()

	exists, err := r.store.IndexExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check index %s: %w: %w", name, domain.ErrIndexUnavailable, err)
	}
	if exists {
		return nil
	}

	def := &db.IndexDefinition{
		Name:     name,
		Prefixes: []string{r.chunkKeyPrefix()},
		Fields: []db.IndexField{
			{Name: fieldDocType, Type: db.IndexFieldTag},
			{Name: fieldContent, Type: db.IndexFieldText},
			{Name: fieldPageNumber, Type: db.IndexFieldNumeric},
			{Name: fieldChunkIndex, Type: db.IndexFieldNumeric},
			{
				Name:              fieldVector,
				Type:              db.IndexFieldVector,
				VectorDim:         r.vectorDim,
				VectorDistance:    db.DistanceCosine,
				VectorM:           r.hnswM,
				VectorEFConstruct: r.hnswEFCons,
			},
		},
	}

	if err := r.store.CreateIndex(ctx, def); err != nil {
		// Lost a create race with another instance.
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index %s: %w: %w", name, domain.ErrIndexUnavailable, err)
	}
	return nil
}

// Upsert writes chunk entries under deterministic keys, so re-ingesting
// the same document overwrites rather than duplicates.
func (r *Repo) Upsert(ctx context.Context, entries []domain.IndexedEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := make([]db.HashSetItem, 0, len(entries))
	for _, e := range entries {
		batch = append(batch, db.HashSetItem{
			Key: r.chunkKey(e.Chunk),
			Fields: map[string]string{
				fieldContent:    e.Chunk.Content,
				fieldVector:     vectorToBytes(e.Vector),
				fieldDocType:    string(e.Chunk.Type),
				fieldDocTitle:   e.Chunk.DocumentTitle,
				fieldDocKey:     e.Chunk.DocumentKey,
				fieldSourceURL:  e.Chunk.SourceURL,
				fieldLanguage:   e.Chunk.Language,
				fieldPageNumber: strconv.Itoa(e.Chunk.PageNumber),
				fieldChunkIndex: strconv.Itoa(e.Chunk.ChunkIndex),
			},
		})
	}

	if err := r.store.HSetMulti(ctx, batch); err != nil {
		return fmt.Errorf("upsert %d chunks: %w: %w", len(entries), domain.ErrIndexUnavailable, err)
	}
	return nil
}

// Search runs a KNN query, optionally pre-filtered by document type.
// Results come back sorted by score descending with chunk index as the
// tie break, ranks assigned from 1.
func (r *Repo) Search(ctx context.Context, vector []float32, k int, docType domain.DocumentType) ([]domain.RetrievalResult, error) {
	q := &db.KNNQuery{
		IndexName: r.indexName(),
		Vector:    vector,
		K:         k,
		ReturnFields: []string{
			fieldContent, fieldDocType, fieldDocTitle,
			fieldPageNumber, fieldChunkIndex, "__vector_score",
		},
	}
	if docType != "" {
		q.Filter = db.TagFilter{Field: fieldDocType, Value: string(docType)}
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w: %w", domain.ErrIndexUnavailable, err)
	}
	if sr == nil || len(sr.Entries) == 0 {
		return nil, nil
	}

	results := make([]domain.RetrievalResult, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		results = append(results, parseEntry(entry))
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// Count returns the number of indexed chunks.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, r.indexName(), "*")
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w: %w", domain.ErrIndexUnavailable, err)
	}
	return n, nil
}

// Exists reports whether the index is present and holds at least one
// chunk. Ingestion skips sources that are already indexed.
func (r *Repo) Exists(ctx context.Context) (bool, error) {
	present, err := r.store.IndexExists(ctx, r.indexName())
	if err != nil {
		return false, fmt.Errorf("check index: %w: %w", domain.ErrIndexUnavailable, err)
	}
	if !present {
		return false, nil
	}
	n, err := r.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Drop removes the index and every stored chunk. Used by rebuild.
func (r *Repo) Drop(ctx context.Context) error {
	err := r.store.DropIndex(ctx, r.indexName())
	if err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return fmt.Errorf("drop index: %w: %w", domain.ErrIndexUnavailable, err)
	}

	// FT.DROPINDEX leaves document hashes behind. Sweep the key prefix
	// so a rebuild starts from an empty namespace.
	keys, err := r.store.Scan(ctx, r.chunkKeyPrefix()+"*")
	if err != nil {
		return fmt.Errorf("scan chunk keys: %w: %w", domain.ErrIndexUnavailable, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("delete %d chunk keys: %w: %w", len(keys), domain.ErrIndexUnavailable, err)
	}
	return nil
}

func (r *Repo) indexName() string {
	return r.keyPrefix + "kb:idx"
}

func (r *Repo) chunkKeyPrefix() string {
	return r.keyPrefix + "kb:"
}

func (r *Repo) chunkKey(c domain.Chunk) string {
	return r.chunkKeyPrefix() + c.ID()
}

func parseEntry(entry db.SearchEntry) domain.RetrievalResult {
	res := domain.RetrievalResult{
		Content:       entry.Fields[fieldContent],
		DocumentTitle: entry.Fields[fieldDocTitle],
		Type:          domain.DocumentType(entry.Fields[fieldDocType]),
		Score:         entry.Score,
	}
	if n, err := strconv.Atoi(entry.Fields[fieldPageNumber]); err == nil {
		res.PageNumber = n
	}
	if n, err := strconv.Atoi(entry.Fields[fieldChunkIndex]); err == nil {
		res.ChunkIndex = n
	}
	return res
}

// vectorToBytes serializes a vector as little-endian float32, the layout
// FT.SEARCH expects for the BLOB parameter.
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
