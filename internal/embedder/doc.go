// Package embedder generates vector embeddings for page chunks and questions.
//
// The embedder supports three providers (Gemini, any OpenAI compatible endpoint,
// and an offline local model) and provides batching, caching and retry for
// production use.
//
// # Basic Usage
//
//	emb, err := embedder.New(ctx, embedder.Config{
//	    GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
//	    CacheSize:    10000,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: texts,
//	    Task:  embedder.TaskDocument,
//	})
//
// Questions are embedded with TaskQuery. Providers that support asymmetric
// retrieval (Gemini) embed the two tasks differently; the others ignore it.
//
// # Provider Selection
//
//  1. Config.Provider when set
//  2. gemini when a Gemini API key is available
//  3. openai when an OpenAI API key is available
//  4. local otherwise
//
// # Providers
//
// Gemini:
//   - Model: gemini-embedding-001
//   - Dimensions: 768 (requested, then normalized)
//
// OpenAI compatible:
//   - Model: text-embedding-3-small
//   - Dimensions: 1536
//   - BaseURL selects any compatible server
//
// Local:
//   - Feature hashed bag of words and word pairs
//   - Dimensions: 384
//   - Deterministic, no network
//
// # Caching
//
// Every provider consults an LRU cache keyed by model, task and text before
// calling out; only the texts that missed are sent.
//
// # Error Handling
//
// Rate limits, server errors and network failures are retried with exponential
// backoff. Client errors fail at once. Either way the caller sees
// ErrProviderFailed:
//
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // provider unavailable for now
//	}
package embedder
