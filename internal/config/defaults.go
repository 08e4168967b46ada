package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kirinuki/data/catalog.db"
	}

	e := &cfg.Embedding
	if e.Provider == "" {
		e.Provider = "mock"
	}
	if e.Model == "" {
		switch e.Provider {
		case "ollama":
			e.Model = "nomic-embed-text"
		case "openai":
			e.Model = "text-embedding-3-small"
		case "onnx":
			e.Model = "all-MiniLM-L6-v2"
		default:
			e.Model = "mock"
		}
	}
	if e.BaseURL == "" {
		switch e.Provider {
		case "ollama":
			e.BaseURL = "http://localhost:11434"
		case "openai":
			e.BaseURL = "https://api.openai.com/v1"
		}
	}
	if e.Dimensions == 0 {
		switch e.Provider {
		case "ollama":
			e.Dimensions = 768
		case "openai":
			e.Dimensions = 1536
		default:
			e.Dimensions = 384
		}
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 256
	}
	if e.BatchSize == 0 {
		e.BatchSize = 100
	}
	if e.Timeout == 0 {
		e.Timeout = 30 * time.Second
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 3
	}
	if e.InitialBackoff == 0 {
		e.InitialBackoff = 500 * time.Millisecond
	}
	if e.MaxBackoff == 0 {
		e.MaxBackoff = 10 * time.Second
	}
	if e.CacheSize == 0 {
		e.CacheSize = 10000
	}
	if e.CacheShards == 0 {
		e.CacheShards = 16
	}
	if e.RedisTTL == 0 {
		e.RedisTTL = 7 * 24 * time.Hour
	}

	c := &cfg.Chunking
	if c.Strategy == "" {
		c.Strategy = "sliding_window"
	}
	if c.UnitMode == "" {
		c.UnitMode = "sentence"
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.75
	}
	if c.BreakpointPercentile == 0 {
		c.BreakpointPercentile = 25
	}
	if c.MinChunkSize == 0 {
		c.MinChunkSize = 200
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = 1500
	}
	if c.MaxUnits == 0 {
		c.MaxUnits = 5000
	}
	if c.MaxChunksPerDocument == 0 {
		c.MaxChunksPerDocument = 500
	}

	v := &cfg.VectorStore
	if v.Backend == "" {
		v.Backend = "sqlite"
	}
	if v.Collection == "" {
		v.Collection = "kirinuki_chunks"
	}
	if v.Distance == "" {
		v.Distance = "cosine"
	}
	if v.BatchSize == 0 {
		v.BatchSize = 256
	}
	if v.URL == "" && v.Backend == "qdrant" {
		v.URL = "http://localhost:6333"
	}
	if v.Path == "" && v.Backend == "sqlite" {
		v.Path = "/usr/local/var/kirinuki/data/vectors.db"
	}
	if v.DSNEnv == "" {
		v.DSNEnv = "KIRINUKI_PG_DSN"
	}
	if v.Timeout == 0 {
		v.Timeout = 30 * time.Second
	}
	if v.MaxRetries == 0 {
		v.MaxRetries = 3
	}

	r := &cfg.Retrieval
	if r.DenseTopK == 0 {
		r.DenseTopK = 60
	}
	if r.SparseTopK == 0 {
		r.SparseTopK = 60
	}
	if r.DenseWeight == 0 && r.SparseWeight == 0 {
		r.DenseWeight = 0.6
		r.SparseWeight = 0.4
	}
	if r.PoolSize == 0 {
		r.PoolSize = 60
	}
	if r.DefaultTopK == 0 {
		r.DefaultTopK = 5
	}
	if r.MaxTopK == 0 {
		r.MaxTopK = 50
	}
	if r.QueryCacheTTL == 0 {
		r.QueryCacheTTL = 10 * time.Minute
	}

	rr := &cfg.Rerank
	if rr.Provider == "" {
		rr.Provider = "http"
	}
	if rr.Format == "" {
		rr.Format = "tei"
	}
	if rr.URL == "" {
		rr.URL = "http://localhost:8081"
	}
	if rr.MaxTokens == 0 {
		rr.MaxTokens = 512
	}
	if rr.Timeout == 0 {
		rr.Timeout = 15 * time.Second
	}
	if rr.MaxRetries == 0 {
		rr.MaxRetries = 2
	}

	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}

	if cfg.Watch.Scope == "" {
		cfg.Watch.Scope = "default"
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}

	if cfg.Queue.URL == "" {
		cfg.Queue.URL = "nats://localhost:4222"
	}
	if cfg.Queue.Subject == "" {
		cfg.Queue.Subject = "kirinuki.ingest"
	}
	if cfg.Queue.Group == "" {
		cfg.Queue.Group = "kirinuki-workers"
	}

	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = "localhost:4318"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "kirinuki"
	}
}
