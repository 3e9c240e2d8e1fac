// Package config provides configuration loading for repoindex.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/repoindex/internal/logging"
)

// Config is the root configuration.
type Config struct {
	Logging   logging.Config  `koanf:"logging"`
	Fetch     FetchConfig     `koanf:"fetch"`
	Classify  ClassifyConfig  `koanf:"classify"`
	Chunk     ChunkConfig     `koanf:"chunk"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Qdrant    QdrantConfig    `koanf:"qdrant"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Interview InterviewConfig `koanf:"interview"`
}

// FetchConfig controls repository acquisition.
type FetchConfig struct {
	// Strategy is one of: listing, archive, clone.
	Strategy string `koanf:"strategy"`

	// Token authenticates listing-strategy API calls.
	Token string `koanf:"token"`

	// Concurrency bounds parallel file downloads for the listing strategy.
	Concurrency int `koanf:"concurrency"`
}

// ClassifyConfig tunes the binary-content heuristic.
type ClassifyConfig struct {
	SampleSize      int     `koanf:"sample_size"`
	BinaryThreshold float64 `koanf:"binary_threshold"`
}

// ChunkConfig controls text chunking.
type ChunkConfig struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// EmbeddingConfig controls dense embedding generation.
type EmbeddingConfig struct {
	Model     string `koanf:"model"`
	CacheDir  string `koanf:"cache_dir"`
	MaxLength int    `koanf:"max_length"`
}

// QdrantConfig holds vector store connection settings.
type QdrantConfig struct {
	Host             string        `koanf:"host"`
	Port             int           `koanf:"port"`
	UseTLS           bool          `koanf:"use_tls"`
	VectorSize       int           `koanf:"vector_size"`
	ProvisionTimeout time.Duration `koanf:"provision_timeout"`
}

// PipelineConfig controls ingestion orchestration.
type PipelineConfig struct {
	// BatchSize is the number of chunks embedded and upserted per batch.
	BatchSize int `koanf:"batch_size"`

	// ArtifactDir is where fitted sparse-encoder state is persisted.
	ArtifactDir string `koanf:"artifact_dir"`
}

// InterviewConfig controls question generation.
type InterviewConfig struct {
	Model     string  `koanf:"model"`
	Questions int     `koanf:"questions"`
	APIKeyEnv string  `koanf:"api_key_env"`
	Temp      float64 `koanf:"temp"`
}

// applyDefaults fills unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Fetch.Strategy == "" {
		cfg.Fetch.Strategy = "archive"
	}
	if cfg.Fetch.Concurrency == 0 {
		cfg.Fetch.Concurrency = 8
	}
	if cfg.Classify.SampleSize == 0 {
		cfg.Classify.SampleSize = 4096
	}
	if cfg.Classify.BinaryThreshold == 0 {
		cfg.Classify.BinaryThreshold = 0.30
	}
	if cfg.Chunk.Size == 0 {
		cfg.Chunk.Size = 400
	}
	if cfg.Chunk.Overlap == 0 {
		cfg.Chunk.Overlap = 50
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.VectorSize == 0 {
		cfg.Qdrant.VectorSize = 384
	}
	if cfg.Qdrant.ProvisionTimeout == 0 {
		cfg.Qdrant.ProvisionTimeout = 30 * time.Second
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 64
	}
	if cfg.Pipeline.ArtifactDir == "" {
		cfg.Pipeline.ArtifactDir = "artifacts"
	}
	if cfg.Interview.Model == "" {
		cfg.Interview.Model = "llama-3.1-8b-instant"
	}
	if cfg.Interview.Questions == 0 {
		cfg.Interview.Questions = 5
	}
	if cfg.Interview.APIKeyEnv == "" {
		cfg.Interview.APIKeyEnv = "GROQ_API_KEY"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Fetch.Strategy {
	case "listing", "archive", "clone":
	default:
		return fmt.Errorf("fetch: unknown strategy %q", c.Fetch.Strategy)
	}
	if c.Classify.BinaryThreshold < 0 || c.Classify.BinaryThreshold > 1 {
		return fmt.Errorf("classify: binary_threshold must be in [0,1], got %g", c.Classify.BinaryThreshold)
	}
	if c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk: overlap (%d) must be smaller than size (%d)", c.Chunk.Overlap, c.Chunk.Size)
	}
	if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
		return fmt.Errorf("qdrant: invalid port %d", c.Qdrant.Port)
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline: batch_size must be positive")
	}
	return nil
}
