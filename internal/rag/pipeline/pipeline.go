// Package pipeline ingests the configured knowledge sources into the
// vector index and tracks ingestion state.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veramoney/assistant/internal/domain"
	"github.com/veramoney/assistant/internal/metrics"
)

// loader fetches one source document.
type loader interface {
	Load(ctx context.Context, src domain.Source) (domain.RawDocument, error)
}

// splitter chunks a raw document.
type splitter interface {
	Split(doc domain.RawDocument) []domain.Chunk
}

// embedder produces vectors for chunk batches.
type embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}

// index is the persistence side of ingestion.
type index interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, entries []domain.IndexedEntry) error
	Exists(ctx context.Context) (bool, error)
	Count(ctx context.Context) (int, error)
	Drop(ctx context.Context) error
}

// Pipeline runs ingestion once at a time and serves status snapshots.
type Pipeline struct {
	loader   loader
	splitter splitter
	embedder embedder
	index    index

	sources      []domain.Source
	batchSize    int
	concurrency  int
	embedRetries uint64
	// embedInterval overrides the backoff base interval, tests only.
	embedInterval time.Duration
	logger        *zap.Logger

	mu      sync.Mutex
	running bool
	status  domain.PipelineStatus
}

// Config wires pipeline collaborators and tuning.
type Config struct {
	Loader   loader
	Splitter splitter
	Embedder embedder
	Index    index
	Sources  []domain.Source
	// BatchSize caps chunks per embedding call.
	BatchSize int
	// Concurrency caps sources ingested in parallel.
	Concurrency int
	// EmbedRetries is the number of additional backoff attempts per
	// embedding batch before the source is marked failed.
	EmbedRetries int
	Logger       *zap.Logger
}

// New creates a pipeline in the initializing state.
func New(cfg Config) *Pipeline {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	embedRetries := cfg.EmbedRetries
	if embedRetries <= 0 {
		embedRetries = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		loader:       cfg.Loader,
		splitter:     cfg.Splitter,
		embedder:     cfg.Embedder,
		index:        cfg.Index,
		sources:      cfg.Sources,
		batchSize:    batchSize,
		concurrency:  concurrency,
		embedRetries: uint64(embedRetries),
		logger:       logger,
		status:       domain.PipelineStatus{State: domain.StateInitializing},
	}
}

// Status returns a snapshot of the current pipeline state.
func (p *Pipeline) Status() domain.PipelineStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := p.status
	snapshot.Errors = append([]string(nil), p.status.Errors...)
	return snapshot
}

// Run ingests all configured sources. When the index already holds
// chunks the run is skipped and the pipeline reports ready, so process
// restarts do not re-embed the knowledge base. Returns
// domain.ErrPipelineRunning when a run is already in flight.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.run(ctx, false)
}

// Rebuild drops the index and ingests everything from scratch.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	return p.run(ctx, true)
}

func (p *Pipeline) run(ctx context.Context, force bool) error {
	if !p.begin() {
		return domain.ErrPipelineRunning
	}
	defer p.end()

	if force {
		if err := p.index.Drop(ctx); err != nil {
			p.setError(err)
			return err
		}
	} else {
		populated, err := p.index.Exists(ctx)
		if err != nil {
			p.setError(err)
			return err
		}
		if populated {
			count, err := p.index.Count(ctx)
			if err != nil {
				p.setError(err)
				return err
			}
			p.setFinal(domain.StateReady, len(p.sources), count, nil)
			p.logger.Info("knowledge base already populated, skipping ingestion",
				zap.Int("chunks", count))
			return nil
		}
	}

	return p.ingest(ctx)
}

// ingest fans out over sources, one worker each, and aggregates
// per-source failures instead of cancelling siblings.
func (p *Pipeline) ingest(ctx context.Context) error {
	start := time.Now()
	p.setState(domain.StateLoading)

	if err := p.index.EnsureIndex(ctx); err != nil {
		p.setError(err)
		return err
	}

	var mu sync.Mutex
	var failures []string
	docCount := 0
	chunkCount := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, src := range p.sources {
		g.Go(func() error {
			n, err := p.ingestSource(gctx, src)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", src.Key, err))
				metrics.IngestionDocumentsTotal.WithLabelValues(string(src.Type), "error").Inc()
				p.logger.Error("source ingestion failed",
					zap.String("source", src.Key), zap.Error(err))
				return nil
			}
			docCount++
			chunkCount += n
			metrics.IngestionDocumentsTotal.WithLabelValues(string(src.Type), "success").Inc()
			metrics.IngestionChunksTotal.WithLabelValues(string(src.Type)).Add(float64(n))
			return nil
		})
	}
	g.Wait()
	metrics.IngestionDuration.Observe(time.Since(start).Seconds())

	switch {
	case len(failures) == len(p.sources):
		p.setFinal(domain.StateError, 0, 0, failures)
		return &domain.PartialIngestionError{Failures: failures}
	case len(failures) > 0:
		p.setFinal(domain.StatePartial, docCount, chunkCount, failures)
		p.logger.Warn("ingestion finished with failures",
			zap.Int("documents", docCount),
			zap.Int("chunks", chunkCount),
			zap.Strings("failures", failures))
		return nil
	default:
		p.setFinal(domain.StateReady, docCount, chunkCount, nil)
		p.logger.Info("ingestion finished",
			zap.Int("documents", docCount),
			zap.Int("chunks", chunkCount),
			zap.Duration("took", time.Since(start)))
		return nil
	}
}

// ingestSource loads, chunks, embeds and indexes one source. Returns
// the number of chunks written.
func (p *Pipeline) ingestSource(ctx context.Context, src domain.Source) (int, error) {
	doc, err := p.loader.Load(ctx, src)
	if err != nil {
		return 0, err
	}

	chunks := p.splitter.Split(doc)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document produced no chunks")
	}

	for start := 0; start < len(chunks); start += p.batchSize {
		end := min(start+p.batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		res, err := p.embedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(res.Embeddings) != len(batch) {
			return 0, fmt.Errorf("embed batch %d-%d: got %d vectors for %d chunks",
				start, end, len(res.Embeddings), len(batch))
		}

		entries := make([]domain.IndexedEntry, len(batch))
		for i, c := range batch {
			entries[i] = domain.IndexedEntry{Chunk: c, Vector: res.Embeddings[i]}
		}
		if err := p.index.Upsert(ctx, entries); err != nil {
			return 0, fmt.Errorf("index batch %d-%d: %w", start, end, err)
		}
	}
	return len(chunks), nil
}

// embedBatch calls the provider with bounded exponential backoff, the
// same policy the loader applies to fetches. Provider blips retry,
// exhausted retries fail the source.
func (p *Pipeline) embedBatch(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	var res domain.BatchEmbeddingResult

	op := func() error {
		var err error
		res, err = p.embedder.BatchEmbed(ctx, texts)
		return err
	}

	exp := backoff.NewExponentialBackOff()
	if p.embedInterval > 0 {
		exp.InitialInterval = p.embedInterval
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, p.embedRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	return res, nil
}

// WaitForReady blocks until the pipeline reaches a usable state, the
// pipeline fails, or the timeout elapses.
func (p *Pipeline) WaitForReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		st := p.Status()
		if st.Usable() {
			return nil
		}
		if st.State == domain.StateError {
			return fmt.Errorf("pipeline failed: %v", st.Errors)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("pipeline not ready after %v (state %s)", timeout, st.State)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	return true
}

func (p *Pipeline) end() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

func (p *Pipeline) setState(state domain.PipelineState) {
	p.mu.Lock()
	p.status = domain.PipelineStatus{State: state}
	p.mu.Unlock()
}

func (p *Pipeline) setFinal(state domain.PipelineState, docs, chunks int, errs []string) {
	p.mu.Lock()
	p.status = domain.PipelineStatus{
		State:         state,
		DocumentCount: docs,
		ChunkCount:    chunks,
		Errors:        errs,
	}
	p.mu.Unlock()
}

func (p *Pipeline) setError(err error) {
	p.mu.Lock()
	p.status = domain.PipelineStatus{
		State:  domain.StateError,
		Errors: []string{err.Error()},
	}
	p.mu.Unlock()
}
