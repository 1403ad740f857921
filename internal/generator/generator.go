// Package generator turns a prompt with retrieved context into an answer using a
// text generation backend.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Backend names
const (
	BackendGemini      = "gemini"
	BackendOpenAI      = "openai"
	BackendUnavailable = "none"

	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
)

var (
	// ErrUnavailable reports that no backend can answer right now
	ErrUnavailable = errors.New("generation backend unavailable")

	// ErrEmptyResponse reports a call that succeeded without any text
	ErrEmptyResponse = errors.New("generation returned no text")

	ErrUnknownBackend = errors.New("unknown generation backend")
)

// Request is one generation call
type Request struct {
	System string // Instructions
	Prompt string // Context followed by the question
}

// Backend generates text
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
	Model() string
	Close() error
}

// Options tune generation
type Options struct {
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Config selects and configures a backend
type Config struct {
	Backend string // gemini, openai, none; empty auto-detects
	Model   string
	APIKey  string
	BaseURL string
	Options Options

	// Keys consulted when APIKey is empty
	GeminiAPIKey string
	OpenAIAPIKey string
}

// New creates the configured backend. Missing credentials yield the
// Unavailable backend rather than an error so the chat path can still reply.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch detect(cfg) {
	case BackendGemini:
		key := firstNonEmpty(cfg.APIKey, cfg.GeminiAPIKey)
		if key == "" {
			return Unavailable{Reason: "Gemini API key not set"}, nil
		}
		return NewGemini(ctx, key, cfg.Model, cfg.Options)
	case BackendOpenAI:
		key := firstNonEmpty(cfg.APIKey, cfg.OpenAIAPIKey)
		if key == "" {
			return Unavailable{Reason: "OpenAI API key not set"}, nil
		}
		return NewOpenAI(key, cfg.BaseURL, cfg.Model, cfg.Options), nil
	case BackendUnavailable:
		return Unavailable{Reason: "generation disabled"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

func detect(cfg Config) string {
	if cfg.Backend != "" {
		return strings.ToLower(cfg.Backend)
	}
	if cfg.GeminiAPIKey != "" {
		return BackendGemini
	}
	if cfg.OpenAIAPIKey != "" {
		return BackendOpenAI
	}
	return BackendUnavailable
}

// Unavailable is the backend used when nothing is configured. Every call fails
// with ErrUnavailable.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Generate(ctx context.Context, req Request) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrUnavailable, u.Reason)
}

func (u Unavailable) Name() string  { return BackendUnavailable }
func (u Unavailable) Model() string { return "" }
func (u Unavailable) Close() error  { return nil }

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
