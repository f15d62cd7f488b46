// Package chi exposes the assistant over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/veramoney/assistant/internal/agent"
	"github.com/veramoney/assistant/internal/domain"
	logpkg "github.com/veramoney/assistant/internal/logger"
)

// maxSearchK caps the result count a client may request.
const maxSearchK = 20

// Error codes returned in JSON envelopes.
const (
	codeBadRequest       = "bad_request"
	codeValidationFailed = "validation_failed"
	codeUnauthorized     = "unauthorized"
	codeNotConfigured    = "not_configured"
	codePipelineRunning  = "pipeline_running"
	codeIndexUnavailable = "index_unavailable"
	codeEmbeddingError   = "embedding_provider_error"
	codeUpstreamError    = "upstream_error"
	codeInternalError    = "internal_error"
)

// chatService is the consumer interface over the agent.
type chatService interface {
	Chat(ctx context.Context, sessionID, message string) (agent.Reply, error)
}

// knowledgeService is the consumer interface over the retriever.
type knowledgeService interface {
	Retrieve(ctx context.Context, query string, docType domain.DocumentType, k int) ([]domain.RetrievalResult, error)
}

// ragPipeline is the consumer interface over the ingestion pipeline.
type ragPipeline interface {
	Status() domain.PipelineStatus
	Rebuild(ctx context.Context) error
}

// dbPinger checks database connectivity for health reporting.
type dbPinger interface {
	Ping(ctx context.Context) error
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the HTTP handlers.
type Server struct {
	chat          chatService
	knowledge     knowledgeService
	pipeline      ragPipeline
	pinger        dbPinger
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates the HTTP API server. knowledge may be nil when the
// RAG subsystem is disabled.
func NewServer(
	chat chatService,
	knowledge knowledgeService,
	pipeline ragPipeline,
	pinger dbPinger,
	logger *zap.Logger,
) *Server {
	s := &Server{
		chat:      chat,
		knowledge: knowledge,
		pipeline:  pipeline,
		pinger:    pinger,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrNotConfigured, http.StatusServiceUnavailable, codeNotConfigured),
		sentinelHandler(domain.ErrPipelineRunning, http.StatusConflict, codePipelineRunning),
		sentinelHandler(domain.ErrIndexUnavailable, http.StatusServiceUnavailable, codeIndexUnavailable),
		sentinelHandler(domain.ErrEmbeddingProvider, http.StatusBadGateway, codeEmbeddingError),
		sentinelHandler(domain.ErrTransport, http.StatusBadGateway, codeUpstreamError),
	}
	return s
}

// Routes mounts all handlers on a router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/chat", s.handleChat)
	r.Post("/knowledge/search", s.handleKnowledgeSearch)
	r.Get("/rag/status", s.handleRAGStatus)
	r.Post("/rag/rebuild", s.handleRAGRebuild)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type citationDTO struct {
	DocumentTitle string `json:"document_title"`
	Snippet       string `json:"snippet"`
}

type chatResponse struct {
	SessionID string        `json:"session_id"`
	Reply     string        `json:"reply"`
	Citations []citationDTO `json:"citations"`
}

// handleChat handles POST /chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "message is required")
		return
	}

	reply, err := s.chat.Chat(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := chatResponse{
		SessionID: reply.SessionID,
		Reply:     reply.Text,
		Citations: make([]citationDTO, 0, len(reply.Citations)),
	}
	for _, c := range reply.Citations {
		resp.Citations = append(resp.Citations, citationDTO{
			DocumentTitle: c.DocumentTitle,
			Snippet:       c.Snippet,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type knowledgeSearchRequest struct {
	Query        string `json:"query"`
	DocumentType string `json:"document_type"`
	K            int    `json:"k"`
}

type knowledgeChunkDTO struct {
	Content        string  `json:"content"`
	DocumentTitle  string  `json:"document_title"`
	DocumentType   string  `json:"document_type"`
	PageNumber     int     `json:"page_number"`
	RelevanceScore float64 `json:"relevance_score"`
}

type knowledgeSearchResponse struct {
	Query        string              `json:"query"`
	Chunks       []knowledgeChunkDTO `json:"chunks"`
	TotalResults int                 `json:"total_results"`
}

// handleKnowledgeSearch handles POST /knowledge/search.
func (s *Server) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	if s.knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, codeNotConfigured, "knowledge base is not configured")
		return
	}

	var req knowledgeSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.K < 0 || req.K > maxSearchK {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			"k must be between 1 and 20")
		return
	}

	var docType domain.DocumentType
	if req.DocumentType != "" {
		parsed, ok := domain.ParseDocumentType(req.DocumentType)
		if !ok {
			writeError(w, http.StatusBadRequest, codeValidationFailed,
				"unknown document_type "+req.DocumentType)
			return
		}
		docType = parsed
	}

	results, err := s.knowledge.Retrieve(r.Context(), req.Query, docType, req.K)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := knowledgeSearchResponse{
		Query:        req.Query,
		Chunks:       make([]knowledgeChunkDTO, 0, len(results)),
		TotalResults: len(results),
	}
	for _, res := range results {
		resp.Chunks = append(resp.Chunks, knowledgeChunkDTO{
			Content:        res.Content,
			DocumentTitle:  res.DocumentTitle,
			DocumentType:   string(res.Type),
			PageNumber:     res.PageNumber,
			RelevanceScore: res.Score,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type ragStatusResponse struct {
	Status        string   `json:"status"`
	DocumentCount int      `json:"document_count"`
	ChunkCount    int      `json:"chunk_count"`
	Errors        []string `json:"errors,omitempty"`
}

// handleRAGStatus handles GET /rag/status.
func (s *Server) handleRAGStatus(w http.ResponseWriter, r *http.Request) {
	st := s.pipeline.Status()
	writeJSON(w, http.StatusOK, ragStatusResponse{
		Status:        string(st.State),
		DocumentCount: st.DocumentCount,
		ChunkCount:    st.ChunkCount,
		Errors:        st.Errors,
	})
}

// handleRAGRebuild handles POST /rag/rebuild. The rebuild runs in the
// background; the handler only reports acceptance.
func (s *Server) handleRAGRebuild(w http.ResponseWriter, r *http.Request) {
	if s.pipeline.Status().State == domain.StateLoading {
		writeError(w, http.StatusConflict, codePipelineRunning, "ingestion already in progress")
		return
	}

	go func() {
		if err := s.pipeline.Rebuild(context.Background()); err != nil {
			s.logger.Error("rebuild failed", zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebuild_started"})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"database":       "ok",
		"knowledge_base": "ok",
	}
	healthy := true

	if err := s.pinger.Ping(r.Context()); err != nil {
		checks["database"] = "unavailable"
		healthy = false
	}
	if st := s.pipeline.Status(); !st.Usable() {
		checks["knowledge_base"] = string(st.State)
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
	})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client
// without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrValidation,
		domain.ErrNotConfigured,
		domain.ErrPipelineRunning,
		domain.ErrIndexUnavailable,
		domain.ErrEmbeddingProvider,
		domain.ErrTransport,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler matching a single sentinel.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// handleDomainError logs with the request-scoped logger when the
// wide-event middleware put one in context.
func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			log.Warn("domain error", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
