// Package config provides configuration loading and structs for the Kirinuki engine.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Sparse      SparseConfig      `yaml:"sparse"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Rerank      RerankConfig      `yaml:"rerank"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Watch       WatchConfig       `yaml:"watch"`
	Queue       QueueConfig       `yaml:"queue"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StorageConfig holds the path of the chunk catalog database.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// EmbeddingConfig selects the embedding provider and the batcher's limits.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // mock, ollama, openai, onnx
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Dimensions        int           `yaml:"dimensions"`
	ModelPath         string        `yaml:"model_path"`
	MaxTokens         int           `yaml:"max_tokens"`
	BatchSize         int           `yaml:"batch_size"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	CacheSize         int           `yaml:"cache_size"`
	CacheShards       int           `yaml:"cache_shards"`
	RedisURLEnv       string        `yaml:"redis_url_env"`
	RedisTTL          time.Duration `yaml:"redis_ttl"`
}

// ChunkingConfig configures unit splitting, clustering, and size enforcement.
// Sizes are UTF-8 byte lengths.
type ChunkingConfig struct {
	Strategy             string  `yaml:"strategy"`  // sliding_window, percentile
	UnitMode             string  `yaml:"unit_mode"` // sentence, paragraph
	SimilarityThreshold  float64 `yaml:"similarity_threshold"`
	BreakpointPercentile float64 `yaml:"breakpoint_percentile"`
	MinChunkSize         int     `yaml:"min_chunk_size"`
	MaxChunkSize         int     `yaml:"max_chunk_size"`
	MaxUnits             int     `yaml:"max_units"`
	MaxChunksPerDocument int     `yaml:"max_chunks_per_document"`
}

// VectorStoreConfig selects the dense store backend.
type VectorStoreConfig struct {
	Backend      string        `yaml:"backend"` // sqlite, memory, qdrant, pgvector
	Collection   string        `yaml:"collection"`
	Distance     string        `yaml:"distance"` // cosine, dot, euclid
	BatchSize    int           `yaml:"batch_size"`
	URL          string        `yaml:"url"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	DSNEnv       string        `yaml:"dsn_env"`
	Path         string        `yaml:"path"`
	SnapshotPath string        `yaml:"snapshot_path"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// SparseConfig toggles the per-document lexical index.
type SparseConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// EnabledOrDefault returns whether sparse indexing is on; defaults to true when unset.
func (s *SparseConfig) EnabledOrDefault() bool {
	if s.Enabled != nil {
		return *s.Enabled
	}
	return true
}

// RetrievalConfig holds hybrid merge settings.
type RetrievalConfig struct {
	DenseTopK     int           `yaml:"dense_top_k"`
	SparseTopK    int           `yaml:"sparse_top_k"`
	DenseWeight   float64       `yaml:"dense_weight"`
	SparseWeight  float64       `yaml:"sparse_weight"`
	PoolSize      int           `yaml:"pool_size"`
	DefaultTopK   int           `yaml:"default_top_k"`
	MaxTopK       int           `yaml:"max_top_k"`
	QueryCacheTTL time.Duration `yaml:"query_cache_ttl"`
}

// RerankConfig selects the cross-encoder.
type RerankConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Provider   string        `yaml:"provider"` // http, onnx
	URL        string        `yaml:"url"`
	Format     string        `yaml:"format"` // tei, jina
	Model      string        `yaml:"model"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	ModelPath  string        `yaml:"model_path"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// IngestConfig bounds concurrent document ingestion.
type IngestConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Scope       string        `yaml:"scope"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// QueueConfig configures the NATS ingestion subscriber.
type QueueConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Group   string `yaml:"group"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// A .env file next to the config is loaded into the environment first so that
// *_env settings can resolve secrets from it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Rerank.ModelPath = expandPath(cfg.Rerank.ModelPath, configDir)
	cfg.VectorStore.Path = expandPath(cfg.VectorStore.Path, configDir)
	cfg.VectorStore.SnapshotPath = expandPath(cfg.VectorStore.SnapshotPath, configDir)
	cfg.Log.File = expandPath(cfg.Log.File, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// SecretFromEnv returns the value of the named environment variable, or "" when name is empty.
func SecretFromEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
