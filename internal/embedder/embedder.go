package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/sitekb-mcp/internal/retry"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnknownProvider   = errors.New("unknown embedding provider")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Task tells providers that distinguish them whether a text is indexed or searched
type Task string

const (
	TaskDocument Task = "document"
	TaskQuery    Task = "query"
)

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Key       string // CacheKey of the text
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
	Task  Task   // Defaults to TaskDocument
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
	Task  Task   // Defaults to TaskDocument
}

// BatchEmbeddingResponse represents a batch response
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder interface defines methods for generating embeddings
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts in one call.
	// Embeddings are returned in input order.
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Cache is an LRU of vectors keyed by CacheKey. Every caller of an embedder
// shares it, so repeated passages and questions skip the provider.
type Cache struct {
	lru *lru.Cache[string, []float32]
}

// DefaultCacheSize is used when NewCache is given a non-positive size
const DefaultCacheSize = 10000

// NewCache creates a vector cache holding at most size entries
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedding cache: %v", err))
	}
	return &Cache{lru: c}
}

// Get returns a copy of the cached vector for key
func (c *Cache) Get(key string) ([]float32, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

// Put stores vector under key; the cache keeps its own copy
func (c *Cache) Put(key string, vector []float32) {
	c.lru.Add(key, append([]float32(nil), vector...))
}

// Len returns the number of cached vectors
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge empties the cache
func (c *Cache) Purge() {
	c.lru.Purge()
}

// CacheKey identifies one embedding: the same text embedded by another model
// or for another task is a different vector.
func CacheKey(model string, task Task, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(taskOrDefault(task)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func taskOrDefault(t Task) Task {
	if t == "" {
		return TaskDocument
	}
	return t
}

// validateTexts rejects an empty batch and empty members
func validateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}

// embedFunc calls a provider for texts that missed the cache. It must return
// one vector per text, in order.
type embedFunc func(ctx context.Context, texts []string, model string, task Task) ([][]float32, error)

// batcher holds what remote and local providers share: cache lookups, retry and
// response assembly around a provider specific embedFunc.
type batcher struct {
	provider string
	model    string
	maxBatch int
	cache    *Cache
	retry    retry.Config
	call     embedFunc
}

func (b *batcher) single(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}
	resp, err := b.batch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
		Task:  req.Task,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}
	return resp.Embeddings[0], nil
}

func (b *batcher) batch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := validateTexts(req.Texts); err != nil {
		return nil, err
	}
	if b.maxBatch > 0 && len(req.Texts) > b.maxBatch {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, b.maxBatch)
	}

	model := req.Model
	if model == "" {
		model = b.model
	}
	task := taskOrDefault(req.Task)

	embeddings := make([]*Embedding, len(req.Texts))
	keys := make([]string, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		keys[i] = CacheKey(model, task, text)
		if b.cache != nil {
			if v, ok := b.cache.Get(keys[i]); ok {
				embeddings[i] = b.embedding(v, model, keys[i])
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = req.Texts[i]
		}

		vectors, err := retry.Do(ctx, b.retry, func(ctx context.Context) ([][]float32, error) {
			return b.call(ctx, texts, model, task)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(vectors), len(texts))
		}

		for j, i := range missing {
			embeddings[i] = b.embedding(vectors[j], model, keys[i])
			if b.cache != nil {
				b.cache.Put(keys[i], vectors[j])
			}
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   b.provider,
		Model:      model,
	}, nil
}

func (b *batcher) embedding(v []float32, model, key string) *Embedding {
	return &Embedding{Vector: v, Dimension: len(v), Provider: b.provider, Model: model, Key: key}
}
