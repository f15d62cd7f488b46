package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/veramoney/assistant/internal/agent"
	"github.com/veramoney/assistant/internal/agent/memory"
	"github.com/veramoney/assistant/internal/agent/middleware"
	"github.com/veramoney/assistant/internal/agent/tool"
	"github.com/veramoney/assistant/internal/config"
	dbRedis "github.com/veramoney/assistant/internal/db/redis"
	"github.com/veramoney/assistant/internal/domain"
	logpkg "github.com/veramoney/assistant/internal/logger"
	"github.com/veramoney/assistant/internal/metrics"
	"github.com/veramoney/assistant/internal/rag/chunker"
	"github.com/veramoney/assistant/internal/rag/loader"
	"github.com/veramoney/assistant/internal/rag/pipeline"
	"github.com/veramoney/assistant/internal/rag/retriever"
	indexrepo "github.com/veramoney/assistant/internal/repository/index"
	chiTransport "github.com/veramoney/assistant/internal/transport/chi"
	openaiTransport "github.com/veramoney/assistant/internal/transport/openai"
	"github.com/veramoney/assistant/internal/transport/stockapi"
	"github.com/veramoney/assistant/internal/transport/weatherapi"
	"github.com/veramoney/assistant/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting assistant API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterIngestionMetrics()

	embedder := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:           cfg.Embedding.APIKey,
		BaseURL:          cfg.Embedding.BaseURL,
		Model:            cfg.Embedding.Model,
		Dimensions:       cfg.Embedding.Dimensions,
		BatchesPerSecond: cfg.Embedding.BatchesPerSecond,
		Logger:           logger,
	})
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	idx := indexrepo.New(store, indexrepo.Config{
		KeyPrefix:       cfg.Database.KeyPrefix,
		VectorDim:       cfg.Embedding.Dimensions,
		HNSWM:           cfg.RAG.HNSWM,
		HNSWEFConstruct: cfg.RAG.HNSWEFConstruct,
	})

	sources := cfg.DocumentSources()
	pipe := buildPipeline(cfg, sources, embedder, idx, logger)

	// Ingestion runs in the background so the server can accept traffic
	// immediately; /rag/status reports progress.
	go func() {
		if err := pipe.Run(ctx); err != nil {
			var partial *domain.PartialIngestionError
			if errors.As(err, &partial) {
				logger.Warn("Ingestion finished with failures",
					zap.Strings("failures", partial.Failures))
				return
			}
			logger.Error("Ingestion failed", zap.Error(err))
		}
	}()

	// Pass nil interface (not typed nil pointer!) if RAG is not configured.
	// Go gotcha: (*retriever.Retriever)(nil) held in an interface != nil.
	var knowledge *retriever.Retriever
	if len(sources) > 0 {
		knowledge = retriever.New(retriever.Config{
			Embedder: embedder,
			Index:    idx,
			DefaultK: cfg.RAG.RetrievalK,
			Logger:   logger,
		})
	}

	ag := buildAgent(cfg, knowledge, logger)
	chatSvc := &chatWithTimeout{
		agent:   ag,
		timeout: time.Duration(cfg.Agent.TimeoutSec) * time.Second,
	}

	var knowledgeSvc knowledgeRetriever
	if knowledge != nil {
		knowledgeSvc = knowledge
	}
	server := chiTransport.NewServer(chatSvc, knowledgeSvc, pipe, store, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// knowledgeRetriever matches the transport's consumer interface so a
// disabled knowledge base can be passed as an untyped nil.
type knowledgeRetriever interface {
	Retrieve(ctx context.Context, query string, docType domain.DocumentType, k int) ([]domain.RetrievalResult, error)
}

// buildPipeline assembles loader -> splitter -> embedder -> index.
func buildPipeline(
	cfg config.Config,
	sources []domain.Source,
	embedder *openaiTransport.Embedder,
	idx *indexrepo.Repo,
	logger *zap.Logger,
) *pipeline.Pipeline {
	allow, err := domain.NewAllowList(sources)
	if err != nil {
		logger.Fatal("Invalid source configuration", zap.Error(err))
	}

	load := loader.New(loader.Config{
		Allow:   allow,
		Timeout: time.Duration(cfg.RAG.FetchTimeoutSec) * time.Second,
		Retries: cfg.RAG.FetchMaxRetries,
		Logger:  logger,
	})

	return pipeline.New(pipeline.Config{
		Loader:       load,
		Splitter:     chunker.New(),
		Embedder:     embedder,
		Index:        idx,
		Sources:      sources,
		BatchSize:    cfg.Embedding.BatchSize,
		Concurrency:  cfg.RAG.SourceConcurrency,
		EmbedRetries: cfg.RAG.EmbedMaxRetries,
		Logger:       logger,
	})
}

// buildAgent wires the chat model, tools and session memory. Every tool
// goes through the error containment middleware so a failing capability
// degrades the answer instead of the turn.
func buildAgent(cfg config.Config, knowledge *retriever.Retriever, logger *zap.Logger) *agent.Agent {
	model := openaiTransport.NewChatClient(&openaiTransport.ChatConfig{
		APIKey:  cfg.Agent.APIKey,
		BaseURL: cfg.Agent.BaseURL,
		Model:   cfg.Agent.Model,
	})

	weather := weatherapi.New(weatherapi.Config{
		BaseURL: cfg.Tools.Weather.BaseURL,
		APIKey:  cfg.Tools.Weather.APIKey,
		Timeout: time.Duration(cfg.Tools.Weather.TimeoutSec) * time.Second,
	})
	stock := stockapi.New(stockapi.Config{
		BaseURL: cfg.Tools.Stock.BaseURL,
		APIKey:  cfg.Tools.Stock.APIKey,
		Timeout: time.Duration(cfg.Tools.Stock.TimeoutSec) * time.Second,
	})

	var kbRetriever knowledgeRetriever
	if knowledge != nil {
		kbRetriever = knowledge
	}

	registry := tool.NewRegistry(
		middleware.Wrap(tool.NewWeather(weather), "the weather service", logger),
		middleware.Wrap(tool.NewStock(stock), "the stock quote service", logger),
		middleware.Wrap(tool.NewKnowledge(kbRetriever, cfg.RAG.RetrievalK), "the knowledge base", logger),
	)

	return agent.New(agent.Config{
		Model:         model,
		Tools:         registry,
		Memory:        memory.New(cfg.Agent.MemoryTurns),
		MaxIterations: cfg.Agent.MaxIterations,
		Logger:        logger,
	})
}

// chatWithTimeout bounds a whole chat turn, tool calls included.
type chatWithTimeout struct {
	agent   *agent.Agent
	timeout time.Duration
}

func (c *chatWithTimeout) Chat(ctx context.Context, sessionID, message string) (agent.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.agent.Chat(ctx, sessionID, message)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
