package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Crawler.MaxDepth)
	assert.Equal(t, 5, cfg.Crawler.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Crawler.FetchTimeout)
	assert.Equal(t, 50, cfg.Crawler.MaxSitemapURLs)
	assert.Equal(t, DefaultUserAgent, cfg.Crawler.UserAgent)
	assert.Equal(t, 300, cfg.Chunker.MaxWords)
	assert.Equal(t, 40, cfg.Chunker.Overlap)
	assert.Equal(t, 100, cfg.Indexer.BatchSize)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
}

func TestLoadFileAndDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
crawler:
  max_pages: 12
  fetch_timeout: 5s
chunker:
  max_words: 120
  overlap: 10
build:
  timeout: 2m
retrieval:
  top_k: 3
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Crawler.MaxPages)
	assert.Equal(t, 5*time.Second, cfg.Crawler.FetchTimeout)
	assert.Equal(t, 120, cfg.Chunker.MaxWords)
	assert.Equal(t, 10, cfg.Chunker.Overlap)
	assert.Equal(t, 2*time.Minute, cfg.Build.Timeout)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	// Untouched sections still get defaults
	assert.Equal(t, 100, cfg.Indexer.BatchSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvDBPath, "/tmp/override.db")
	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv(EnvEmbeddingProvider, "Local")
	t.Setenv(EnvMaxPages, "7")
	t.Setenv(EnvMaxDepth, "1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 7, cfg.Crawler.MaxPages)
	assert.Equal(t, 1, cfg.Crawler.MaxDepth)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawler: [not a map"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"overlap too large", func(c *Config) { c.Chunker.Overlap = c.Chunker.MaxWords }, true},
		{"batch too large", func(c *Config) { c.Indexer.BatchSize = 101 }, true},
		{"zero concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }, true},
		{"top_k above max", func(c *Config) { c.Retrieval.TopK = c.Retrieval.MaxTopK + 1 }, true},
		{"bad threshold", func(c *Config) { c.Crawler.ErrorThreshold = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Crawler.MaxPages = 42

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Crawler.MaxPages)
}

func TestGeminiAPIKeyFallback(t *testing.T) {
	t.Setenv(EnvGeminiAPIKey, "")
	t.Setenv(EnvGoogleAPIKey, "google-key")
	assert.Equal(t, "google-key", GeminiAPIKey())

	t.Setenv(EnvGeminiAPIKey, "gemini-key")
	assert.Equal(t, "gemini-key", GeminiAPIKey())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/.sitekb/x.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".sitekb", "x.db"), got)

	got, err = ExpandPath("/abs/path.db")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path.db", got)
}
