package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/veramoney/assistant/internal/domain"
	"github.com/veramoney/assistant/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

// embeddingAPIResponse mirrors the OpenAI-compatible embeddings response.
type embeddingAPIResponse struct {
	Object string              `json:"object"`
	Data   []embeddingAPIDatum `json:"data"`
	Model  string              `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingAPIDatum struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

func embeddingServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)
	return server
}

func TestEmbedder_Embed(t *testing.T) {
	expectedVec := []float32{0.1, 0.2, 0.3, 0.4}

	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		resp := embeddingAPIResponse{Object: "list", Model: "test-model"}
		resp.Data = append(resp.Data, embeddingAPIDatum{
			Object:    "embedding",
			Embedding: expectedVec,
		})
		resp.Usage.PromptTokens = 10
		resp.Usage.TotalTokens = 10

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	emb := NewEmbedder(&EmbedderConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Model:      "test-model",
		Dimensions: 4,
		Logger:     zap.NewNop(),
	})

	result, err := emb.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(result.Embedding) != len(expectedVec) {
		t.Fatalf("expected %d dimensions, got %d", len(expectedVec), len(result.Embedding))
	}
	for i, v := range result.Embedding {
		if v != expectedVec[i] {
			t.Errorf("vec[%d] = %f, expected %f", i, v, expectedVec[i])
		}
	}
	if result.TotalTokens != 10 {
		t.Errorf("TotalTokens = %d, expected 10", result.TotalTokens)
	}
}

func TestEmbedder_BatchEmbedPreservesOrder(t *testing.T) {
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		resp := embeddingAPIResponse{Object: "list", Model: "test-model"}
		for i := range req.Input {
			resp.Data = append(resp.Data, embeddingAPIDatum{
				Object:    "embedding",
				Embedding: []float32{float32(i), float32(i)},
				Index:     i,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	emb := NewEmbedder(&EmbedderConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Logger:  zap.NewNop(),
	})

	result, err := emb.BatchEmbed(context.Background(), []string{"first", "second", "third"})
	if err != nil {
		t.Fatalf("BatchEmbed failed: %v", err)
	}
	if len(result.Embeddings) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(result.Embeddings))
	}
	for i, vec := range result.Embeddings {
		if vec[0] != float32(i) {
			t.Errorf("embedding %d out of order: %v", i, vec)
		}
	}
}

func TestEmbedder_BatchEmbedEmptyInput(t *testing.T) {
	emb := NewEmbedder(&EmbedderConfig{APIKey: "test-key", Model: "test-model"})

	result, err := emb.BatchEmbed(context.Background(), nil)
	if err != nil {
		t.Fatalf("BatchEmbed failed: %v", err)
	}
	if len(result.Embeddings) != 0 {
		t.Fatalf("expected no embeddings, got %d", len(result.Embeddings))
	}
}

func TestEmbedder_ShortResponseIsProviderError(t *testing.T) {
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		resp := embeddingAPIResponse{Object: "list", Model: "test-model"}
		resp.Data = append(resp.Data, embeddingAPIDatum{Embedding: []float32{0.5}})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	emb := NewEmbedder(&EmbedderConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	})

	_, err := emb.BatchEmbed(context.Background(), []string{"one", "two"})
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected ErrEmbeddingProvider, got %v", err)
	}
}

func TestEmbedder_APIErrorIsProviderError(t *testing.T) {
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit_error"}}`))
	})

	emb := NewEmbedder(&EmbedderConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	})

	_, err := emb.Embed(context.Background(), "hello")
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected ErrEmbeddingProvider, got %v", err)
	}
}
