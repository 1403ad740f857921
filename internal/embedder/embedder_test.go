package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sitekb-mcp/internal/retry"
)

func TestCacheKey(t *testing.T) {
	base := CacheKey("m", TaskDocument, "text")
	assert.Len(t, base, 64)
	assert.Equal(t, base, CacheKey("m", "", "text"), "empty task defaults to document")
	assert.NotEqual(t, base, CacheKey("m", TaskQuery, "text"))
	assert.NotEqual(t, base, CacheKey("other", TaskDocument, "text"))
	assert.NotEqual(t, CacheKey("ab", TaskDocument, "c"), CacheKey("a", TaskDocument, "bc"), "fields are separated")
}

func TestValidateTexts(t *testing.T) {
	assert.NoError(t, validateTexts([]string{"one", "two"}))
	assert.ErrorIs(t, validateTexts(nil), ErrInvalidInput)
	assert.ErrorIs(t, validateTexts([]string{"one", ""}), ErrInvalidInput)
}

func TestCache(t *testing.T) {
	t.Run("copies on the way in and out", func(t *testing.T) {
		cache := NewCache(3)
		_, ok := cache.Get("missing")
		assert.False(t, ok)

		v := []float32{1, 2, 3}
		cache.Put("k", v)
		v[0] = 99

		got, ok := cache.Get("k")
		require.True(t, ok)
		assert.Equal(t, []float32{1, 2, 3}, got)

		got[1] = 42
		again, _ := cache.Get("k")
		assert.Equal(t, []float32{1, 2, 3}, again)
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		cache := NewCache(2)
		cache.Put("a", []float32{1})
		cache.Put("b", []float32{2})
		_, _ = cache.Get("a")
		cache.Put("c", []float32{3})

		assert.Equal(t, 2, cache.Len())
		_, ok := cache.Get("b")
		assert.False(t, ok)
		_, ok = cache.Get("a")
		assert.True(t, ok)
	})

	t.Run("purge", func(t *testing.T) {
		cache := NewCache(0)
		cache.Put("a", []float32{1})
		cache.Purge()
		assert.Zero(t, cache.Len())
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := NewCache(100)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					key := CacheKey("m", TaskDocument, fmt.Sprintf("passage %d-%d", id, j))
					cache.Put(key, []float32{float32(id), float32(j)})
					_, _ = cache.Get(key)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 100, cache.Len())
	})
}

func TestBatcher(t *testing.T) {
	newBatcher := func(calls *[][]string, fail int) *batcher {
		attempts := 0
		return &batcher{
			provider: "fake",
			model:    "fake-model",
			maxBatch: 3,
			cache:    NewCache(10),
			retry:    retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond},
			call: func(ctx context.Context, texts []string, model string, task Task) ([][]float32, error) {
				attempts++
				if attempts <= fail {
					return nil, errors.New("temporarily unavailable")
				}
				*calls = append(*calls, append([]string(nil), texts...))
				out := make([][]float32, len(texts))
				for i, text := range texts {
					out[i] = []float32{float32(len(text))}
				}
				return out, nil
			},
		}
	}

	t.Run("only cache misses reach the provider", func(t *testing.T) {
		var calls [][]string
		b := newBatcher(&calls, 0)
		ctx := context.Background()

		_, err := b.batch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "bb"}})
		require.NoError(t, err)

		resp, err := b.batch(ctx, BatchEmbeddingRequest{Texts: []string{"bb", "ccc", "a"}})
		require.NoError(t, err)

		assert.Equal(t, [][]string{{"a", "bb"}, {"ccc"}}, calls)
		require.Len(t, resp.Embeddings, 3)
		assert.Equal(t, []float32{2}, resp.Embeddings[0].Vector)
		assert.Equal(t, []float32{3}, resp.Embeddings[1].Vector)
		assert.Equal(t, []float32{1}, resp.Embeddings[2].Vector)
		assert.Equal(t, "fake-model", resp.Model)
	})

	t.Run("query task is cached separately", func(t *testing.T) {
		var calls [][]string
		b := newBatcher(&calls, 0)
		ctx := context.Background()

		_, err := b.single(ctx, EmbeddingRequest{Text: "a"})
		require.NoError(t, err)
		_, err = b.single(ctx, EmbeddingRequest{Text: "a", Task: TaskQuery})
		require.NoError(t, err)
		assert.Len(t, calls, 2)
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		var calls [][]string
		b := newBatcher(&calls, 2)
		_, err := b.single(context.Background(), EmbeddingRequest{Text: "a"})
		require.NoError(t, err)
		assert.Len(t, calls, 1)
	})

	t.Run("exhausted retries wrap ErrProviderFailed", func(t *testing.T) {
		var calls [][]string
		b := newBatcher(&calls, 5)
		_, err := b.single(context.Background(), EmbeddingRequest{Text: "a"})
		assert.ErrorIs(t, err, ErrProviderFailed)
	})

	t.Run("batch limit", func(t *testing.T) {
		var calls [][]string
		b := newBatcher(&calls, 0)
		_, err := b.batch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b", "c", "d"}})
		assert.ErrorIs(t, err, ErrBatchTooLarge)
		assert.Empty(t, calls)
	})
}

func TestLocalProvider(t *testing.T) {
	cache := NewCache(10)
	provider, err := NewLocalProvider(cache)
	require.NoError(t, err)
	defer provider.Close()

	ctx := context.Background()

	t.Run("provider metadata", func(t *testing.T) {
		assert.Equal(t, ProviderLocal, provider.Provider())
		assert.Equal(t, LocalDimension, provider.Dimension())
		assert.Equal(t, DefaultLocalModel, provider.Model())
	})

	t.Run("single embedding is unit length", func(t *testing.T) {
		emb, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "Our office is open Monday to Friday"})
		require.NoError(t, err)
		require.Len(t, emb.Vector, LocalDimension)
		assert.InDelta(t, 1.0, dot(emb.Vector, emb.Vector), 1e-5)
		assert.Equal(t, ProviderLocal, emb.Provider)
	})

	t.Run("deterministic", func(t *testing.T) {
		a := HashedEmbedding("Refund policy for annual plans", LocalDimension)
		b := HashedEmbedding("refund POLICY for annual plans!", LocalDimension)
		assert.Equal(t, a, b)
	})

	t.Run("shared vocabulary scores higher", func(t *testing.T) {
		resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{
			"Shipping takes three to five business days within the country",
			"Our founders started the company in a garage in 2009",
		}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 2)

		q, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "how many business days does shipping take", Task: TaskQuery})
		require.NoError(t, err)

		assert.Greater(t, dot(q.Vector, resp.Embeddings[0].Vector), dot(q.Vector, resp.Embeddings[1].Vector))
	})

	t.Run("caching", func(t *testing.T) {
		emb1, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "cached text"})
		require.NoError(t, err)
		emb2, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "cached text"})
		require.NoError(t, err)
		assert.Equal(t, emb1.Vector, emb2.Vector)
		assert.Equal(t, emb1.Key, emb2.Key)
	})

	t.Run("validation errors", func(t *testing.T) {
		_, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: ""})
		assert.ErrorIs(t, err, ErrEmptyText)

		_, err = provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{}})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("context cancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := provider.GenerateEmbedding(cancelled, EmbeddingRequest{Text: "never cached before"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestNormalizeVector(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		wantNorm float64
	}{
		{
			name:     "unit vector",
			input:    []float32{1.0, 0.0, 0.0},
			wantNorm: 1.0,
		},
		{
			name:     "needs normalization",
			input:    []float32{3.0, 4.0},
			wantNorm: 1.0,
		},
		{
			name:     "zero vector",
			input:    []float32{0.0, 0.0, 0.0},
			wantNorm: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeVector(tt.input)
			assert.InDelta(t, tt.wantNorm, dot(result, result), 1e-4)
		})
	}
}
