package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/veramoney/assistant/internal/agent"
	"github.com/veramoney/assistant/internal/domain"
)

type fakeChat struct {
	gotSession string
	gotMessage string
	reply      agent.Reply
	err        error
}

func (f *fakeChat) Chat(_ context.Context, sessionID, message string) (agent.Reply, error) {
	f.gotSession = sessionID
	f.gotMessage = message
	return f.reply, f.err
}

type fakeKnowledge struct {
	results []domain.RetrievalResult
	err     error
}

func (f *fakeKnowledge) Retrieve(_ context.Context, query string, docType domain.DocumentType, k int) ([]domain.RetrievalResult, error) {
	return f.results, f.err
}

type fakePipeline struct {
	mu        sync.Mutex
	status    domain.PipelineStatus
	rebuilds  int
	rebuildCh chan struct{}
}

func (f *fakePipeline) Status() domain.PipelineStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakePipeline) Rebuild(context.Context) error {
	f.mu.Lock()
	f.rebuilds++
	f.mu.Unlock()
	if f.rebuildCh != nil {
		f.rebuildCh <- struct{}{}
	}
	return nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(chat chatService, kb knowledgeService, p ragPipeline, db dbPinger) *httptest.Server {
	s := NewServer(chat, kb, p, db, zap.NewNop())
	r := chirouter.NewRouter()
	s.Routes(r)
	return httptest.NewServer(r)
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func readyPipeline() *fakePipeline {
	return &fakePipeline{status: domain.PipelineStatus{
		State: domain.StateReady, DocumentCount: 3, ChunkCount: 120,
	}}
}

func TestHandleChat(t *testing.T) {
	chat := &fakeChat{reply: agent.Reply{
		SessionID: "s1",
		Text:      "Vera fue fundada en 2020.",
		Citations: []domain.Citation{{DocumentTitle: "Historia de Vera", Snippet: "Vera fue fundada…"}},
	}}
	ts := newTestServer(chat, &fakeKnowledge{}, readyPipeline(), &fakePinger{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/chat", `{"session_id": "s1", "message": "¿Qué es Vera?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body chatResponse
	decodeBody(t, resp, &body)
	if body.SessionID != "s1" || body.Reply != "Vera fue fundada en 2020." {
		t.Errorf("body = %+v", body)
	}
	if len(body.Citations) != 1 || body.Citations[0].DocumentTitle != "Historia de Vera" {
		t.Errorf("citations = %+v", body.Citations)
	}
	if chat.gotSession != "s1" || chat.gotMessage != "¿Qué es Vera?" {
		t.Errorf("service call = %q %q", chat.gotSession, chat.gotMessage)
	}
}

func TestHandleChat_Validation(t *testing.T) {
	ts := newTestServer(&fakeChat{}, &fakeKnowledge{}, readyPipeline(), &fakePinger{})
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"empty message", `{"message": ""}`},
		{"bad json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/chat", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d", resp.StatusCode)
			}
		})
	}
}

func TestHandleChat_SentinelMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", domain.ErrValidation, http.StatusBadRequest, codeValidationFailed},
		{"transport", domain.ErrTransport, http.StatusBadGateway, codeUpstreamError},
		{"embedding", domain.ErrEmbeddingProvider, http.StatusBadGateway, codeEmbeddingError},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError, codeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(&fakeChat{err: tt.err}, &fakeKnowledge{}, readyPipeline(), &fakePinger{})
			defer ts.Close()

			resp := postJSON(t, ts.URL+"/chat", `{"message": "hola"}`)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var body errorResponse
			decodeBody(t, resp, &body)
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if strings.Contains(body.Message, "deadline") {
				t.Errorf("internal detail leaked: %q", body.Message)
			}
		})
	}
}

func TestHandleKnowledgeSearch(t *testing.T) {
	kb := &fakeKnowledge{results: []domain.RetrievalResult{
		{Content: "Vera fue fundada en 2020.", DocumentTitle: "Historia de Vera",
			Type: domain.DocHistory, PageNumber: 1, Score: 0.93, Rank: 1},
	}}
	ts := newTestServer(&fakeChat{}, kb, readyPipeline(), &fakePinger{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/knowledge/search", `{"query": "¿Qué es Vera?", "document_type": "history", "k": 4}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body knowledgeSearchResponse
	decodeBody(t, resp, &body)
	if body.TotalResults != 1 || len(body.Chunks) != 1 {
		t.Fatalf("body = %+v", body)
	}
	chunk := body.Chunks[0]
	if chunk.DocumentType != "history" || chunk.RelevanceScore != 0.93 || chunk.PageNumber != 1 {
		t.Errorf("chunk = %+v", chunk)
	}
}

func TestHandleKnowledgeSearch_Validation(t *testing.T) {
	ts := newTestServer(&fakeChat{}, &fakeKnowledge{err: domain.ErrValidation}, readyPipeline(), &fakePinger{})
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"query": "q", "document_type": "contracts"}`},
		{"k too large", `{"query": "q", "k": 100}`},
		{"empty query rejected by retriever", `{"query": ""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/knowledge/search", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d", resp.StatusCode)
			}
		})
	}
}

func TestHandleKnowledgeSearch_NotConfigured(t *testing.T) {
	ts := newTestServer(&fakeChat{}, nil, readyPipeline(), &fakePinger{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/knowledge/search", `{"query": "q"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestHandleRAGStatus(t *testing.T) {
	p := &fakePipeline{status: domain.PipelineStatus{
		State:         domain.StatePartial,
		DocumentCount: 2,
		ChunkCount:    80,
		Errors:        []string{"fintech: fetch failed"},
	}}
	ts := newTestServer(&fakeChat{}, &fakeKnowledge{}, p, &fakePinger{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/rag/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var body ragStatusResponse
	decodeBody(t, resp, &body)
	if body.Status != "partial" || body.DocumentCount != 2 || body.ChunkCount != 80 {
		t.Errorf("body = %+v", body)
	}
	if len(body.Errors) != 1 {
		t.Errorf("errors = %v", body.Errors)
	}
}

func TestHandleRAGRebuild(t *testing.T) {
	p := readyPipeline()
	p.rebuildCh = make(chan struct{}, 1)
	ts := newTestServer(&fakeChat{}, &fakeKnowledge{}, p, &fakePinger{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/rag/rebuild", ``)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	select {
	case <-p.rebuildCh:
	case <-time.After(time.Second):
		t.Fatal("rebuild was not started")
	}
}

func TestHandleRAGRebuild_ConflictWhileLoading(t *testing.T) {
	p := &fakePipeline{status: domain.PipelineStatus{State: domain.StateLoading}}
	ts := newTestServer(&fakeChat{}, &fakeKnowledge{}, p, &fakePinger{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/rag/rebuild", ``)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if p.rebuilds != 0 {
		t.Errorf("rebuild ran %d times", p.rebuilds)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := newTestServer(&fakeChat{}, &fakeKnowledge{}, readyPipeline(), &fakePinger{})
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("database down", func(t *testing.T) {
		ts := newTestServer(&fakeChat{}, &fakeKnowledge{}, readyPipeline(), &fakePinger{err: context.DeadlineExceeded})
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		decodeBody(t, resp, &body)
		if resp.StatusCode != http.StatusServiceUnavailable || body.Checks["database"] != "unavailable" {
			t.Errorf("status = %d, body = %+v", resp.StatusCode, body)
		}
	})
}
