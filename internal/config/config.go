// Package config loads sitekb configuration from a YAML file, a .env file and
// environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultUserAgent is sent with every crawl request
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Environment variables that override file values
const (
	EnvConfigPath         = "SITEKB_CONFIG"
	EnvDBPath             = "SITEKB_DB_PATH"
	EnvLogLevel           = "SITEKB_LOG_LEVEL"
	EnvEmbeddingProvider  = "SITEKB_EMBEDDING_PROVIDER"
	EnvGenerationProvider = "SITEKB_GENERATION_PROVIDER"
	EnvGeminiAPIKey       = "GEMINI_API_KEY"
	EnvGoogleAPIKey       = "GOOGLE_API_KEY"
	EnvOpenAIAPIKey       = "OPENAI_API_KEY"
	EnvOpenAIBaseURL      = "OPENAI_BASE_URL"
	EnvMaxPages           = "SITEKB_MAX_PAGES"
	EnvMaxDepth           = "SITEKB_MAX_DEPTH"
)

// StorageConfig locates the SQLite database
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// CrawlerConfig bounds a single crawl run
type CrawlerConfig struct {
	MaxDepth         int           `yaml:"max_depth"`
	MaxPages         int           `yaml:"max_pages"`
	Concurrency      int           `yaml:"concurrency"`
	RequestsPerSec   float64       `yaml:"requests_per_second"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	FetchRetries     int           `yaml:"fetch_retries"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
	MaxSitemapURLs   int           `yaml:"max_sitemap_urls"`
	UserAgent        string        `yaml:"user_agent"`
	ErrorThreshold   float64       `yaml:"error_threshold"`
	MemoryLimitBytes uint64        `yaml:"memory_limit_bytes"`
}

// ChunkerConfig controls passage size
type ChunkerConfig struct {
	MaxWords int `yaml:"max_words"`
	Overlap  int `yaml:"overlap"`
	MaxChars int `yaml:"max_chars"`
}

// IndexerConfig controls embedding batches
type IndexerConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// BuildConfig bounds a whole build
type BuildConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	CacheSize int    `yaml:"cache_size"`
}

// GenerationConfig selects the answer generation backend
type GenerationConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// RetrievalConfig controls the chat path
type RetrievalConfig struct {
	TopK            int `yaml:"top_k"`
	MaxTopK         int `yaml:"max_top_k"`
	MaxContextChars int `yaml:"max_context_chars"`
	CacheSize       int `yaml:"cache_size"`
}

// Config is the root configuration structure
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
	Crawler    CrawlerConfig    `yaml:"crawler"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Build      BuildConfig      `yaml:"build"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the config at path. A missing file yields defaults. A .env file in
// the working directory is loaded first, then environment overrides are applied.
func Load(path string) (*Config, error) {
	// .env is optional; existing environment variables win over it
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path, creating directories as needed
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// DefaultPath returns the config location: $SITEKB_CONFIG or ~/.sitekb/config.yaml
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".sitekb", "config.yaml")
}

// Validate rejects values that cannot work
func (c *Config) Validate() error {
	var errs []error
	if c.Crawler.MaxDepth < 0 {
		errs = append(errs, errors.New("crawler.max_depth must be >= 0"))
	}
	if c.Crawler.MaxPages < 1 {
		errs = append(errs, errors.New("crawler.max_pages must be >= 1"))
	}
	if c.Crawler.Concurrency < 1 {
		errs = append(errs, errors.New("crawler.concurrency must be >= 1"))
	}
	if c.Crawler.ErrorThreshold <= 0 || c.Crawler.ErrorThreshold > 1 {
		errs = append(errs, errors.New("crawler.error_threshold must be in (0, 1]"))
	}
	if c.Chunker.Overlap >= c.Chunker.MaxWords {
		errs = append(errs, errors.New("chunker.overlap must be smaller than chunker.max_words"))
	}
	if c.Indexer.BatchSize < 1 || c.Indexer.BatchSize > 100 {
		errs = append(errs, errors.New("indexer.batch_size must be between 1 and 100"))
	}
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > c.Retrieval.MaxTopK {
		errs = append(errs, errors.New("retrieval.top_k must be between 1 and retrieval.max_top_k"))
	}
	return errors.Join(errs...)
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "~/.sitekb/sitekb.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	cr := &cfg.Crawler
	if cr.MaxDepth == 0 {
		cr.MaxDepth = 3
	}
	if cr.MaxPages == 0 {
		cr.MaxPages = 100
	}
	if cr.Concurrency == 0 {
		cr.Concurrency = 5
	}
	if cr.RequestsPerSec == 0 {
		cr.RequestsPerSec = 10
	}
	if cr.FetchTimeout == 0 {
		cr.FetchTimeout = 30 * time.Second
	}
	if cr.FetchRetries == 0 {
		cr.FetchRetries = 3
	}
	if cr.MaxBodyBytes == 0 {
		cr.MaxBodyBytes = 5 << 20
	}
	if cr.MaxSitemapURLs == 0 {
		cr.MaxSitemapURLs = 50
	}
	if cr.UserAgent == "" {
		cr.UserAgent = DefaultUserAgent
	}
	if cr.ErrorThreshold == 0 {
		cr.ErrorThreshold = 0.5
	}
	if cr.MemoryLimitBytes == 0 {
		cr.MemoryLimitBytes = 512 << 20
	}

	if cfg.Chunker.MaxWords == 0 {
		cfg.Chunker.MaxWords = 300
	}
	if cfg.Chunker.Overlap == 0 {
		cfg.Chunker.Overlap = 40
	}
	if cfg.Chunker.MaxChars == 0 {
		cfg.Chunker.MaxChars = 2400
	}

	ix := &cfg.Indexer
	if ix.BatchSize == 0 {
		ix.BatchSize = 100
	}
	if ix.BatchTimeout == 0 {
		ix.BatchTimeout = 60 * time.Second
	}
	if ix.MaxRetries == 0 {
		ix.MaxRetries = 3
	}
	if ix.BaseDelay == 0 {
		ix.BaseDelay = 500 * time.Millisecond
	}
	if ix.MaxDelay == 0 {
		ix.MaxDelay = 10 * time.Second
	}

	if cfg.Build.Timeout == 0 {
		cfg.Build.Timeout = 30 * time.Minute
	}

	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}

	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 60 * time.Second
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.3
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1024
	}

	rt := &cfg.Retrieval
	if rt.TopK == 0 {
		rt.TopK = 5
	}
	if rt.MaxTopK == 0 {
		rt.MaxTopK = 20
	}
	if rt.MaxContextChars == 0 {
		rt.MaxContextChars = 6000
	}
	if rt.CacheSize == 0 {
		rt.CacheSize = 1000
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvEmbeddingProvider); v != "" {
		cfg.Embedding.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(EnvGenerationProvider); v != "" {
		cfg.Generation.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(EnvOpenAIBaseURL); v != "" {
		if cfg.Embedding.BaseURL == "" {
			cfg.Embedding.BaseURL = v
		}
		if cfg.Generation.BaseURL == "" {
			cfg.Generation.BaseURL = v
		}
	}
	if v, err := strconv.Atoi(os.Getenv(EnvMaxPages)); err == nil && v > 0 {
		cfg.Crawler.MaxPages = v
	}
	if v, err := strconv.Atoi(os.Getenv(EnvMaxDepth)); err == nil && v >= 0 {
		cfg.Crawler.MaxDepth = v
	}
}

// GeminiAPIKey returns GEMINI_API_KEY, falling back to GOOGLE_API_KEY
func GeminiAPIKey() string {
	if v := os.Getenv(EnvGeminiAPIKey); v != "" {
		return v
	}
	return os.Getenv(EnvGoogleAPIKey)
}

// ExpandPath resolves a leading ~ to the user's home directory
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
