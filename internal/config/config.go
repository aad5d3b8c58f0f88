// Package config loads and validates ragserve configuration.
// Configuration is resolved in three layers: built-in defaults, an optional
// YAML file (ragserve.yaml), and RAGSERVE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ragserve configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Tools      ToolsConfig      `yaml:"tools" json:"tools"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
}

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// StoreConfig configures index adapters and persistence.
type StoreConfig struct {
	// Backend selects the index backends: "postgres" (tsvector + pgvector)
	// or "embedded" (bleve + HNSW on local disk).
	Backend string `yaml:"backend" json:"backend"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`

	// DataDir holds embedded indexes and the session database.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// HistoryPath is the SQLite chat history database path.
	// Defaults to <data_dir>/history.db.
	HistoryPath string `yaml:"history_path" json:"history_path"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static" (deterministic offline fallback).
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	OllamaHost string        `yaml:"ollama_host" json:"ollama_host"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	CacheSize  int           `yaml:"cache_size" json:"cache_size"`
}

// RetrievalConfig configures the hybrid retrieval pipeline.
type RetrievalConfig struct {
	// TopK is the default result count when callers pass zero.
	TopK int `yaml:"top_k" json:"top_k"`

	// Alpha blends reranker score against RRF score (0..1).
	Alpha float64 `yaml:"alpha" json:"alpha"`

	// KRRF is the reciprocal-rank-fusion smoothing constant.
	// Default 60, the empirically validated standard.
	KRRF int `yaml:"k_rrf" json:"k_rrf"`

	// NormalizedBlend min-max normalizes reranker and RRF scores onto a
	// common scale before blending. Off by default: the raw blend is the
	// documented behavior and changing it changes ranking observably.
	NormalizedBlend bool `yaml:"normalized_blend" json:"normalized_blend"`

	// Timeout bounds a single retrieval including both adapter calls.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// RerankerConfig configures the cross-encoder scoring service.
type RerankerConfig struct {
	// Enabled turns reranking on. When off, ranking is RRF-only.
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Model    string        `yaml:"model" json:"model"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// LLMConfig configures the chat completion provider.
type LLMConfig struct {
	// BaseURL is an OpenAI-compatible completion endpoint (Groq, Ollama, ...).
	BaseURL string `yaml:"base_url" json:"base_url"`
	Model   string `yaml:"model" json:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never lives in the config file.
	APIKeyEnv string        `yaml:"api_key_env" json:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	MaxTokens int           `yaml:"max_tokens" json:"max_tokens"`
}

// IngestConfig configures document ingestion.
type IngestConfig struct {
	DataFolder   string   `yaml:"data_folder" json:"data_folder"`
	Include      []string `yaml:"include" json:"include"`
	Exclude      []string `yaml:"exclude" json:"exclude"`
	ChunkSize    int      `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// ToolsConfig configures tool backends for function-calling chat.
type ToolsConfig struct {
	TavilyKeyEnv string     `yaml:"tavily_key_env" json:"tavily_key_env"`
	SMTP         SMTPConfig `yaml:"smtp" json:"smtp"`
}

// SMTPConfig configures the send_mail tool.
type SMTPConfig struct {
	Host        string `yaml:"host" json:"host"`
	Port        int    `yaml:"port" json:"port"`
	Sender      string `yaml:"sender" json:"sender"`
	PasswordEnv string `yaml:"password_env" json:"password_env"`
}

// ConfigFileName is the per-project configuration file name.
const ConfigFileName = "ragserve.yaml"

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Store: StoreConfig{
			Backend: "embedded",
			DataDir: defaultDataDir(),
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "qwen3-embedding:0.6b",
			Dimensions: 1024,
			OllamaHost: "http://localhost:11434",
			BatchSize:  32,
			Timeout:    60 * time.Second,
			CacheSize:  4096,
		},
		Retrieval: RetrievalConfig{
			TopK:    5,
			Alpha:   0.5,
			KRRF:    60,
			Timeout: 10 * time.Second,
		},
		Reranker: RerankerConfig{
			Enabled:  true,
			Endpoint: "http://localhost:9380",
			Model:    "ms-marco-minilm-l6-v2",
			Timeout:  30 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:   "https://api.groq.com/openai/v1",
			Model:     "llama-3.3-70b-versatile",
			APIKeyEnv: "GROQ_API_KEY",
			Timeout:   60 * time.Second,
			MaxTokens: 512,
		},
		Ingest: IngestConfig{
			DataFolder:   "data",
			Include:      []string{"**/*.txt", "**/*.md", "**/*.csv", "**/*.json"},
			Exclude:      []string{"**/.*"},
			ChunkSize:    800,
			ChunkOverlap: 120,
		},
		Tools: ToolsConfig{
			TavilyKeyEnv: "TAVILY_API_KEY",
			SMTP: SMTPConfig{
				Port:        587,
				PasswordEnv: "SMTP_PASSWORD",
			},
		},
		LogLevel: "info",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ragserve")
	}
	return filepath.Join(home, ".ragserve")
}

// Load resolves configuration for the given directory: defaults, then
// ragserve.yaml if present, then environment overrides, then validation.
func Load(dir string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if cfg.Store.HistoryPath == "" {
		cfg.Store.HistoryPath = filepath.Join(cfg.Store.DataDir, "history.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies RAGSERVE_* environment variables on top of the
// file configuration. Env vars win; they are the deployment escape hatch.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAGSERVE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("RAGSERVE_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.PostgresDSN = v
	}
	if v := os.Getenv("RAGSERVE_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("RAGSERVE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("RAGSERVE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("RAGSERVE_RERANKER_ENDPOINT"); v != "" {
		c.Reranker.Endpoint = v
	}
	if v := os.Getenv("RAGSERVE_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.Alpha = f
		}
	}
	if v := os.Getenv("RAGSERVE_K_RRF"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			c.Retrieval.KRRF = k
		}
	}
	if v := os.Getenv("GROQ_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("RAGSERVE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Store.Backend {
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store backend is postgres but postgres_dsn is empty (set DATABASE_URL)")
		}
	case "embedded":
	default:
		return fmt.Errorf("unknown store backend %q (want postgres or embedded)", c.Store.Backend)
	}

	if c.Retrieval.Alpha < 0 || c.Retrieval.Alpha > 1 {
		return fmt.Errorf("retrieval alpha must be in [0, 1], got %v", c.Retrieval.Alpha)
	}
	if c.Retrieval.KRRF <= 0 {
		return fmt.Errorf("retrieval k_rrf must be positive, got %d", c.Retrieval.KRRF)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive, got %d", c.Retrieval.TopK)
	}

	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}

	return nil
}

// LLMAPIKey resolves the LLM API key from the configured environment variable.
// Empty means demo mode (the LLM client echoes a canned answer).
func (c *Config) LLMAPIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}
