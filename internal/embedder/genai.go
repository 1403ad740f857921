package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/dshills/sitekb-mcp/internal/retry"
)

// GeminiProvider implements Embedder using the Gemini embedding API
type GeminiProvider struct {
	batcher
	client *genai.Client
}

// NewGeminiProvider creates a Gemini embedder. Vectors are requested at
// GeminiDimension so they stay comparable across model revisions.
func NewGeminiProvider(ctx context.Context, apiKey, model string, cache *Cache) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key not set", ErrNoProviderEnabled)
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	g := &GeminiProvider{client: client}
	g.batcher = batcher{
		provider: ProviderGemini,
		model:    model,
		maxBatch: MaxBatchSize,
		cache:    cache,
		retry:    DefaultRetryConfig(),
		call:     g.callAPI,
	}
	return g, nil
}

func (g *GeminiProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return g.single(ctx, req)
}

func (g *GeminiProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return g.batch(ctx, req)
}

func (g *GeminiProvider) callAPI(ctx context.Context, texts []string, model string, task Task) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := g.client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{
		TaskType:             geminiTaskType(task),
		OutputDimensionality: genai.Ptr[int32](GeminiDimension),
	})
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		// Reduced dimensionality output is not unit length
		vectors[i] = NormalizeVector(emb.Values)
	}
	return vectors, nil
}

// classifyGeminiError marks client errors other than rate limiting as permanent
func classifyGeminiError(err error) error {
	wrapped := fmt.Errorf("gemini embed: %w", err)
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
		return retry.Permanent(wrapped)
	}
	return wrapped
}

func geminiTaskType(t Task) string {
	if t == TaskQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

func (g *GeminiProvider) Dimension() int {
	return GeminiDimension
}

func (g *GeminiProvider) Provider() string {
	return ProviderGemini
}

func (g *GeminiProvider) Model() string {
	return g.model
}

func (g *GeminiProvider) Close() error {
	return nil
}
