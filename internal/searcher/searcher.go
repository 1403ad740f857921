package searcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/sitekb-mcp/internal/embedder"
	"github.com/dshills/sitekb-mcp/internal/storage"
	"github.com/dshills/sitekb-mcp/pkg/types"
)

const (
	DefaultLimit     = 5
	MaxLimit         = 20
	DefaultCacheSize = 1000
	DefaultCacheTTL  = time.Hour
)

var (
	// ErrEmptyQuery is returned for blank queries
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrNoNamespace is returned when a request names no namespace
	ErrNoNamespace = errors.New("namespace is required")
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Namespace string
	Query     string
	Limit     int
	UseCache  bool // Whether to use query cache
	CacheTTL  time.Duration
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results      []types.RetrievedChunk
	TotalResults int
	Generation   int64 // Namespace generation the results came from
	Duration     time.Duration
	CacheHit     bool
}

// cacheKey scopes a cached response to the generation it was computed on, so
// an activated rebuild is never answered from the previous crawl
type cacheKey struct {
	namespace  string
	generation int64
	query      string
	limit      int
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher runs top-k similarity search over a namespace's active generation
type Searcher struct {
	storage  storage.NamespaceStore
	embedder embedder.Embedder
	cache    *lru.Cache[cacheKey, *cacheEntry]
	cacheMu  sync.RWMutex
}

// NewSearcher creates a new Searcher instance. cacheSize <= 0 uses DefaultCacheSize.
func NewSearcher(store storage.NamespaceStore, emb embedder.Embedder, cacheSize int) *Searcher {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, *cacheEntry](cacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		storage:  store,
		embedder: emb,
		cache:    cache,
	}
}

// Search embeds the query and returns the Limit most similar chunks. Results
// are ordered by similarity, ties by insertion order.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	// Validate searcher state
	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}

	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	generation, err := s.storage.ActiveGeneration(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	key := cacheKey{namespace: req.Namespace, generation: generation, query: req.Query, limit: req.Limit}

	if req.UseCache {
		if cached := s.checkCache(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	response := &SearchResponse{Generation: generation, Results: []types.RetrievedChunk{}}
	if generation > 0 {
		embedding, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
			Text: req.Query,
			Task: embedder.TaskQuery,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate query embedding: %w", err)
		}

		vectorResults, err := s.storage.SearchNamespace(ctx, req.Namespace, embedding.Vector, req.Limit)
		if err != nil {
			return nil, err
		}
		response.Results = toRetrieved(vectorResults)

		// An activation during the search leaves results that may belong to
		// the new generation; report it and keep them out of the cache
		after, err := s.storage.ActiveGeneration(ctx, req.Namespace)
		if err != nil {
			return nil, err
		}
		response.Generation = after
	}
	response.TotalResults = len(response.Results)
	response.Duration = time.Since(startTime)

	if req.UseCache && len(response.Results) > 0 && response.Generation == generation {
		s.storeInCache(key, req.CacheTTL, response)
	}

	return response, nil
}

// toRetrieved ranks results from 1 and clamps scores into [0, 1]
func toRetrieved(results []storage.VectorResult) []types.RetrievedChunk {
	out := make([]types.RetrievedChunk, len(results))
	for i, vr := range results {
		score := vr.SimilarityScore
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		out[i] = types.RetrievedChunk{
			ChunkID:        vr.ChunkID,
			Rank:           i + 1,
			RelevanceScore: score,
			Chunk:          vr.Chunk,
		}
	}
	return out
}

// validateRequest ensures search request is valid
func validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}
	if req.Namespace == "" {
		return ErrNoNamespace
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if req.CacheTTL == 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(key cacheKey) *SearchResponse {
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		// Remove expired entry - need write lock
		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

// storeInCache saves search results to cache
func (s *Searcher) storeInCache(key cacheKey, ttl time.Duration, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(ttl),
	}

	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Results = make([]types.RetrievedChunk, len(src.Results))
	for i, r := range src.Results {
		dst.Results[i] = r
		dst.Results[i].Chunk.HeaderPath = append([]string(nil), r.Chunk.HeaderPath...)
	}
	return &dst
}

// InvalidateNamespace drops every cached response of namespace
func (s *Searcher) InvalidateNamespace(namespace string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	for _, key := range s.cache.Keys() {
		if key.namespace == namespace {
			s.cache.Remove(key)
		}
	}
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
