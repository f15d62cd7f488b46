package config

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func baseConfig(t *testing.T) Config {
	t.Helper()
	raw := `
http:
  port: 8080
database:
  addrs: ["localhost:6379"]
sources:
  - key: history
    url: https://docs.example.com/history.md
    document_type: history
    title: Company History
  - key: banking
    url: https://docs.example.com/banking.html
    document_type: banking_regulation
    title: Banking Regulation
    chunk_size: 1500
    chunk_overlap: 300
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := baseConfig(t)

	if cfg.Embedding.BatchSize != 100 {
		t.Errorf("embedding batch size default = %d, want 100", cfg.Embedding.BatchSize)
	}
	if cfg.RAG.RetrievalK != 4 {
		t.Errorf("retrieval_k default = %d, want 4", cfg.RAG.RetrievalK)
	}
	if cfg.Database.KeyPrefix != "vera:" {
		t.Errorf("key prefix default = %q", cfg.Database.KeyPrefix)
	}
	// 20% of chunk size when overlap is omitted
	if cfg.Sources[0].ChunkOverlap != 200 {
		t.Errorf("chunk overlap default = %d, want 200", cfg.Sources[0].ChunkOverlap)
	}
	// explicit values survive
	if cfg.Sources[1].ChunkSize != 1500 || cfg.Sources[1].ChunkOverlap != 300 {
		t.Errorf("explicit chunking overridden: %+v", cfg.Sources[1])
	}
}

func TestValidate(t *testing.T) {
	cfg := baseConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	t.Run("http url rejected", func(t *testing.T) {
		bad := baseConfig(t)
		bad.Sources[0].URL = "http://docs.example.com/history.md"
		if err := bad.Validate(); err == nil || !strings.Contains(err.Error(), "https") {
			t.Fatalf("expected https error, got %v", err)
		}
	})

	t.Run("unknown document type rejected", func(t *testing.T) {
		bad := baseConfig(t)
		bad.Sources[0].Type = "memoir"
		if err := bad.Validate(); err == nil {
			t.Fatal("expected error for unknown document type")
		}
	})

	t.Run("duplicate key rejected", func(t *testing.T) {
		bad := baseConfig(t)
		bad.Sources[1].Key = bad.Sources[0].Key
		if err := bad.Validate(); err == nil {
			t.Fatal("expected error for duplicate source key")
		}
	})

	t.Run("overlap must be below size", func(t *testing.T) {
		bad := baseConfig(t)
		bad.Sources[0].ChunkOverlap = bad.Sources[0].ChunkSize
		if err := bad.Validate(); err == nil {
			t.Fatal("expected error for overlap >= size")
		}
	})
}

func TestDocumentSources(t *testing.T) {
	cfg := baseConfig(t)
	sources := cfg.DocumentSources()
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].Type != "history" || sources[1].Type != "banking_regulation" {
		t.Errorf("document types not parsed: %+v", sources)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("VERA_TEST_KEY", "secret")

	out := string(expandEnvVars([]byte("key: ${VERA_TEST_KEY}\nurl: ${VERA_MISSING:-https://fallback}")))
	if !strings.Contains(out, "key: secret") {
		t.Errorf("env var not expanded: %q", out)
	}
	if !strings.Contains(out, "url: https://fallback") {
		t.Errorf("default not applied: %q", out)
	}
}
