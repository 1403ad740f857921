package embedder

import (
	"context"
	"fmt"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string // gemini, openai, local; empty auto-detects
	Model     string
	APIKey    string
	BaseURL   string // OpenAI compatible endpoint
	CacheSize int

	// Keys consulted when APIKey is empty
	GeminiAPIKey string
	OpenAIAPIKey string
}

// New creates an embedder with explicit configuration
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch DetectProvider(cfg) {
	case ProviderGemini:
		return NewGeminiProvider(ctx, firstNonEmpty(cfg.APIKey, cfg.GeminiAPIKey), cfg.Model, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(firstNonEmpty(cfg.APIKey, cfg.OpenAIAPIKey), cfg.BaseURL, cfg.Model, cache)
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// DetectProvider returns the provider New would use.
// Priority:
// 1. cfg.Provider when set
// 2. gemini when a Gemini key is available
// 3. openai when an OpenAI key is available
// 4. local otherwise
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}
	if cfg.GeminiAPIKey != "" {
		return ProviderGemini
	}
	if cfg.OpenAIAPIKey != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
