package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veramoney/assistant/internal/domain"
)

// Config holds the assistant backend configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Agent     AgentConfig     `yaml:"agent"`
	RAG       RAGConfig       `yaml:"rag"`
	Sources   []SourceConfig  `yaml:"sources"`
	Tools     ToolsConfig     `yaml:"tools"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds vector store connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	KeyPrefix        string   `yaml:"key_prefix"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey           string  `yaml:"api_key"`
	BaseURL          string  `yaml:"base_url"`
	Model            string  `yaml:"model"`
	Dimensions       int     `yaml:"dimensions"`
	BatchSize        int     `yaml:"batch_size"`
	BatchesPerSecond float64 `yaml:"batches_per_second"`
}

// AgentConfig holds orchestrating agent settings.
type AgentConfig struct {
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	MaxIterations int    `yaml:"max_iterations"`
	TimeoutSec    int    `yaml:"timeout_sec"`
	MemoryTurns   int    `yaml:"memory_turns"`
}

// RAGConfig holds ingestion and retrieval settings.
type RAGConfig struct {
	RetrievalK        int `yaml:"retrieval_k"`
	SourceConcurrency int `yaml:"source_concurrency"`
	FetchTimeoutSec   int `yaml:"fetch_timeout_sec"`
	FetchMaxRetries   int `yaml:"fetch_max_retries"`
	EmbedMaxRetries   int `yaml:"embed_max_retries"`
	HNSWM             int `yaml:"hnsw_m"`
	HNSWEFConstruct   int `yaml:"hnsw_ef_construction"`
}

// SourceConfig is one knowledge base document source entry.
type SourceConfig struct {
	Key          string `yaml:"key"`
	URL          string `yaml:"url"`
	Type         string `yaml:"document_type"`
	Title        string `yaml:"title"`
	Language     string `yaml:"language"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

// ToolsConfig holds external capability client settings.
type ToolsConfig struct {
	Weather WeatherConfig `yaml:"weather"`
	Stock   StockConfig   `yaml:"stock"`
}

// WeatherConfig holds weather API client settings.
type WeatherConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// StockConfig holds stock quote API client settings.
type StockConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "vera:"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 100
	}
	if c.Embedding.BatchesPerSecond <= 0 {
		c.Embedding.BatchesPerSecond = 2
	}
	if c.Agent.Model == "" {
		c.Agent.Model = "gpt-4o-mini"
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 5
	}
	if c.Agent.TimeoutSec <= 0 {
		c.Agent.TimeoutSec = 60
	}
	if c.Agent.MemoryTurns <= 0 {
		c.Agent.MemoryTurns = 20
	}
	if c.RAG.RetrievalK <= 0 {
		c.RAG.RetrievalK = 4
	}
	if c.RAG.SourceConcurrency <= 0 {
		c.RAG.SourceConcurrency = 3
	}
	if c.RAG.FetchTimeoutSec <= 0 {
		c.RAG.FetchTimeoutSec = 60
	}
	if c.RAG.FetchMaxRetries <= 0 {
		c.RAG.FetchMaxRetries = 3
	}
	if c.RAG.EmbedMaxRetries <= 0 {
		c.RAG.EmbedMaxRetries = 2
	}
	if c.RAG.HNSWM <= 0 {
		c.RAG.HNSWM = 32
	}
	if c.RAG.HNSWEFConstruct <= 0 {
		c.RAG.HNSWEFConstruct = 400
	}
	if c.Tools.Weather.TimeoutSec <= 0 {
		c.Tools.Weather.TimeoutSec = 10
	}
	if c.Tools.Stock.TimeoutSec <= 0 {
		c.Tools.Stock.TimeoutSec = 10
	}
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Language == "" {
			src.Language = "es"
		}
		if src.ChunkSize <= 0 {
			src.ChunkSize = 1000
		}
		if src.ChunkOverlap <= 0 {
			src.ChunkOverlap = src.ChunkSize / 5 // ~20%
		}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.Key == "" {
			return fmt.Errorf("sources[%d].key is required", i)
		}
		if _, dup := seen[src.Key]; dup {
			return fmt.Errorf("sources[%d]: duplicate key %q", i, src.Key)
		}
		seen[src.Key] = struct{}{}
		if !strings.HasPrefix(src.URL, "https://") {
			return fmt.Errorf("sources[%d].url must use https, got %q", i, src.URL)
		}
		if _, ok := domain.ParseDocumentType(src.Type); !ok {
			return fmt.Errorf("sources[%d].document_type %q is unknown", i, src.Type)
		}
		if src.ChunkOverlap >= src.ChunkSize {
			return fmt.Errorf("sources[%d]: chunk_overlap %d must be smaller than chunk_size %d",
				i, src.ChunkOverlap, src.ChunkSize)
		}
	}
	return nil
}

// DocumentSources converts the configured entries into domain sources.
// Call after Validate: document types are assumed parseable.
func (c *Config) DocumentSources() []domain.Source {
	out := make([]domain.Source, 0, len(c.Sources))
	for _, src := range c.Sources {
		dt, _ := domain.ParseDocumentType(src.Type)
		out = append(out, domain.Source{
			Key:          src.Key,
			URL:          src.URL,
			Type:         dt,
			Title:        src.Title,
			Language:     src.Language,
			ChunkSize:    src.ChunkSize,
			ChunkOverlap: src.ChunkOverlap,
		})
	}
	return out
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
