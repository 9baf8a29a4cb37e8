// Package config provides configuration loading for insightd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for insightd.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Server     ServerConfig     `koanf:"server"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Index      IndexConfig      `koanf:"index"`
	Dedup      DedupConfig      `koanf:"dedup"`
	Confidence ConfidenceConfig `koanf:"confidence"`
	Clustering ClusteringConfig `koanf:"clustering"`
	Novelty    NoveltyConfig    `koanf:"novelty"`
	Discovery  DiscoveryConfig  `koanf:"discovery"`
}

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is the output encoding: json or console.
	Format string `koanf:"format"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	// BaseURL is the base URL of the TEI-compatible embedding endpoint.
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model name. A model change invalidates the
	// embedding cache: cache entries are keyed by (text hash, model).
	Model string `koanf:"model"`

	// Dimension is the expected embedding vector size.
	Dimension int `koanf:"dimension"`

	// MaxRetries bounds retry attempts for transient provider failures.
	MaxRetries int `koanf:"max_retries"`

	// RequestsPerSecond throttles calls to the provider.
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	// Timeout is the per-request timeout.
	Timeout Duration `koanf:"timeout"`
}

// IndexConfig selects and configures the similarity index backend.
type IndexConfig struct {
	// Backend is "linear" (in-memory scan) or "chromem" (embedded
	// persistent vector store).
	Backend string `koanf:"backend"`

	// Path is the persistence directory for the chromem backend.
	Path string `koanf:"path"`
}

// DedupConfig controls ingest-time fuzzy deduplication.
type DedupConfig struct {
	// Threshold is the minimum cosine similarity for a signal to be
	// treated as evidence for an existing candidate. Empirically chosen;
	// tune against real data.
	Threshold float64 `koanf:"threshold"`
}

// ConfidenceConfig holds the evidence-count thresholds for confidence tiers.
type ConfidenceConfig struct {
	// MediumThreshold is the minimum evidence count for MEDIUM confidence.
	MediumThreshold int `koanf:"medium_threshold"`

	// HighThreshold is the minimum evidence count for HIGH confidence.
	HighThreshold int `koanf:"high_threshold"`
}

// ClusteringConfig holds density-clustering parameters.
type ClusteringConfig struct {
	// Eps is the maximum cosine distance between neighbors.
	Eps float64 `koanf:"eps"`

	// MinSamples is the minimum cluster size.
	MinSamples int `koanf:"min_samples"`

	// MinPopulation gates clustering: below this many candidates the
	// discovery run returns no patterns.
	MinPopulation int `koanf:"min_population"`
}

// NoveltyConfig holds interpretation bands for novelty scores.
//
// The bands are advisory for reviewers; the scorer itself only reports
// the raw score.
type NoveltyConfig struct {
	// DuplicateSimilarity marks centroids at or above this similarity to
	// an approved entity as duplicates.
	DuplicateSimilarity float64 `koanf:"duplicate_similarity"`

	// RelatedSimilarity marks centroids at or above this similarity (but
	// below DuplicateSimilarity) as related.
	RelatedSimilarity float64 `koanf:"related_similarity"`
}

// DiscoveryConfig controls the periodic pattern discovery job.
type DiscoveryConfig struct {
	// Interval between scheduled discovery runs.
	Interval Duration `koanf:"interval"`

	// BatchSize is the number of texts per embedding backfill request.
	BatchSize int `koanf:"batch_size"`

	// OverlapThreshold is the member-set overlap ratio above which a new
	// pattern replaces an existing one instead of creating a duplicate.
	OverlapThreshold float64 `koanf:"overlap_threshold"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 9180,
		},
		Embeddings: EmbeddingsConfig{
			BaseURL:           "http://localhost:8080",
			Model:             "BAAI/bge-small-en-v1.5",
			Dimension:         384,
			MaxRetries:        3,
			RequestsPerSecond: 10,
			Timeout:           Duration(30 * time.Second),
		},
		Index: IndexConfig{
			Backend: "linear",
		},
		Dedup: DedupConfig{
			Threshold: 0.92,
		},
		Confidence: ConfidenceConfig{
			MediumThreshold: 2,
			HighThreshold:   5,
		},
		Clustering: ClusteringConfig{
			Eps:           0.3,
			MinSamples:    2,
			MinPopulation: 10,
		},
		Novelty: NoveltyConfig{
			DuplicateSimilarity: 0.85,
			RelatedSimilarity:   0.70,
		},
		Discovery: DiscoveryConfig{
			Interval:         Duration(1 * time.Hour),
			BatchSize:        100,
			OverlapThreshold: 0.70,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error: got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console: got %q", c.Logging.Format)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535]: got %d", c.Server.Port)
	}
	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("embeddings.base_url is required")
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings.dimension must be positive: got %d", c.Embeddings.Dimension)
	}
	if c.Embeddings.MaxRetries < 0 {
		return fmt.Errorf("embeddings.max_retries cannot be negative: got %d", c.Embeddings.MaxRetries)
	}
	switch c.Index.Backend {
	case "linear", "chromem":
	default:
		return fmt.Errorf("index.backend must be linear or chromem: got %q", c.Index.Backend)
	}
	if c.Index.Backend == "chromem" && c.Index.Path == "" {
		return fmt.Errorf("index.path is required for the chromem backend")
	}
	if c.Dedup.Threshold < 0 || c.Dedup.Threshold > 1 {
		return fmt.Errorf("dedup.threshold must be in [0, 1]: got %f", c.Dedup.Threshold)
	}
	if c.Confidence.MediumThreshold < 1 {
		return fmt.Errorf("confidence.medium_threshold must be at least 1: got %d", c.Confidence.MediumThreshold)
	}
	if c.Confidence.HighThreshold < c.Confidence.MediumThreshold {
		return fmt.Errorf("confidence.high_threshold (%d) cannot be below medium_threshold (%d)",
			c.Confidence.HighThreshold, c.Confidence.MediumThreshold)
	}
	if c.Clustering.Eps <= 0 || c.Clustering.Eps > 2 {
		return fmt.Errorf("clustering.eps must be in (0, 2]: got %f", c.Clustering.Eps)
	}
	if c.Clustering.MinSamples < 2 {
		return fmt.Errorf("clustering.min_samples must be at least 2: got %d", c.Clustering.MinSamples)
	}
	if c.Clustering.MinPopulation < 0 {
		return fmt.Errorf("clustering.min_population cannot be negative: got %d", c.Clustering.MinPopulation)
	}
	if c.Novelty.RelatedSimilarity > c.Novelty.DuplicateSimilarity {
		return fmt.Errorf("novelty.related_similarity (%f) cannot exceed duplicate_similarity (%f)",
			c.Novelty.RelatedSimilarity, c.Novelty.DuplicateSimilarity)
	}
	if c.Discovery.BatchSize < 1 {
		return fmt.Errorf("discovery.batch_size must be at least 1: got %d", c.Discovery.BatchSize)
	}
	if c.Discovery.OverlapThreshold <= 0 || c.Discovery.OverlapThreshold > 1 {
		return fmt.Errorf("discovery.overlap_threshold must be in (0, 1]: got %f", c.Discovery.OverlapThreshold)
	}
	return nil
}
