package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./catalog.db"
embedding:
  timeout: 5s
chunking:
  strategy: percentile
  breakpoint_percentile: 30
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "catalog.db") {
		t.Errorf("database_path = %s", cfg.Storage.DatabasePath)
	}
	if cfg.Embedding.Timeout != 5*time.Second {
		t.Errorf("embedding timeout = %v", cfg.Embedding.Timeout)
	}
	if cfg.Chunking.Strategy != "percentile" || cfg.Chunking.BreakpointPercentile != 30 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "debug: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
storage:
  database_path: "./data/catalog.db"
watch:
  directories: ["./inbox"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "catalog.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	if want := filepath.Join(dir, "inbox"); cfg.Watch.Directories[0] != want {
		t.Errorf("watch directory = %s, want %s", cfg.Watch.Directories[0], want)
	}
}

func TestLoad_dotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("KIRINUKI_TEST_SECRET=s3cret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("KIRINUKI_TEST_SECRET") })
	path := writeConfig(t, dir, "embedding:\n  api_key_env: KIRINUKI_TEST_SECRET\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := SecretFromEnv(cfg.Embedding.APIKeyEnv); got != "s3cret" {
		t.Errorf("secret = %q, want s3cret", got)
	}
}

func TestLoad_invalid(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
chunking:
  min_chunk_size: 2000
  max_chunk_size: 1000
retrieval:
  dense_weight: 0.9
  sparse_weight: 0.4
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"min_chunk_size", "sum to 1"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Embedding.BatchSize != 100 {
		t.Errorf("default embedding batch: got %d", cfg.Embedding.BatchSize)
	}
	if cfg.Chunking.Strategy != "sliding_window" || cfg.Chunking.SimilarityThreshold != 0.75 {
		t.Errorf("default chunking: got %+v", cfg.Chunking)
	}
	if cfg.Chunking.MaxChunksPerDocument != 500 {
		t.Errorf("default max chunks: got %d", cfg.Chunking.MaxChunksPerDocument)
	}
	if cfg.Retrieval.DenseWeight != 0.6 || cfg.Retrieval.SparseWeight != 0.4 || cfg.Retrieval.PoolSize != 60 {
		t.Errorf("default retrieval: got %+v", cfg.Retrieval)
	}
	if !cfg.Sparse.EnabledOrDefault() {
		t.Error("sparse should default to enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_providerSpecific(t *testing.T) {
	cfg := &Config{Embedding: EmbeddingConfig{Provider: "ollama"}}
	ApplyDefaults(cfg)
	if cfg.Embedding.BaseURL != "http://localhost:11434" || cfg.Embedding.Model != "nomic-embed-text" || cfg.Embedding.Dimensions != 768 {
		t.Errorf("ollama defaults: got %+v", cfg.Embedding)
	}
}

func TestApplyDefaults_WatchRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Directories: []string{"/tmp/inbox"}}}
	ApplyDefaults(cfg)
	if cfg.Watch.Recursive == nil || !*cfg.Watch.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/catalog.db"},
	}
	ApplyDefaults(cfg)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
