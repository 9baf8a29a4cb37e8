package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.92, cfg.Dedup.Threshold)
	assert.Equal(t, 0.3, cfg.Clustering.Eps)
	assert.Equal(t, 2, cfg.Clustering.MinSamples)
	assert.Equal(t, 10, cfg.Clustering.MinPopulation)
	assert.Equal(t, 100, cfg.Discovery.BatchSize)
	assert.Equal(t, 0.70, cfg.Discovery.OverlapThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*Config)
		errorContains string
	}{
		{
			name:          "bad log level",
			mutate:        func(c *Config) { c.Logging.Level = "verbose" },
			errorContains: "logging.level",
		},
		{
			name:          "bad log format",
			mutate:        func(c *Config) { c.Logging.Format = "text" },
			errorContains: "logging.format",
		},
		{
			name:          "port out of range",
			mutate:        func(c *Config) { c.Server.Port = 0 },
			errorContains: "server.port",
		},
		{
			name:          "missing embedding URL",
			mutate:        func(c *Config) { c.Embeddings.BaseURL = "" },
			errorContains: "embeddings.base_url",
		},
		{
			name:          "zero dimension",
			mutate:        func(c *Config) { c.Embeddings.Dimension = 0 },
			errorContains: "embeddings.dimension",
		},
		{
			name:          "unknown index backend",
			mutate:        func(c *Config) { c.Index.Backend = "faiss" },
			errorContains: "index.backend",
		},
		{
			name: "chromem without path",
			mutate: func(c *Config) {
				c.Index.Backend = "chromem"
				c.Index.Path = ""
			},
			errorContains: "index.path",
		},
		{
			name:          "dedup threshold above 1",
			mutate:        func(c *Config) { c.Dedup.Threshold = 1.5 },
			errorContains: "dedup.threshold",
		},
		{
			name: "inverted confidence tiers",
			mutate: func(c *Config) {
				c.Confidence.MediumThreshold = 5
				c.Confidence.HighThreshold = 2
			},
			errorContains: "high_threshold",
		},
		{
			name:          "min_samples below 2",
			mutate:        func(c *Config) { c.Clustering.MinSamples = 1 },
			errorContains: "min_samples",
		},
		{
			name: "inverted novelty bands",
			mutate: func(c *Config) {
				c.Novelty.RelatedSimilarity = 0.9
				c.Novelty.DuplicateSimilarity = 0.8
			},
			errorContains: "related_similarity",
		},
		{
			name:          "zero batch size",
			mutate:        func(c *Config) { c.Discovery.BatchSize = 0 },
			errorContains: "batch_size",
		},
		{
			name:          "overlap threshold above 1",
			mutate:        func(c *Config) { c.Discovery.OverlapThreshold = 1.1 },
			errorContains: "overlap_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
dedup:
  threshold: 0.88
clustering:
  eps: 0.25
  min_samples: 3
discovery:
  interval: 30m
  batch_size: 50
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.88, cfg.Dedup.Threshold)
	assert.Equal(t, 0.25, cfg.Clustering.Eps)
	assert.Equal(t, 3, cfg.Clustering.MinSamples)
	assert.Equal(t, 30*time.Minute, cfg.Discovery.Interval.Duration())
	assert.Equal(t, 50, cfg.Discovery.BatchSize)

	// Untouched sections keep defaults.
	assert.Equal(t, 10, cfg.Clustering.MinPopulation)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dedup:\n  threshold: 0.88\n"), 0o600))

	t.Setenv("INSIGHTD_DEDUP_THRESHOLD", "0.95")
	t.Setenv("INSIGHTD_SERVER_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.95, cfg.Dedup.Threshold)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Dedup.Threshold, cfg.Dedup.Threshold)
}

func TestLoadInvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dedup:\n  threshold: 3.0\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dedup.threshold")
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
