package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sitekb-mcp/internal/embedder"
	"github.com/dshills/sitekb-mcp/internal/retry"
	"github.com/dshills/sitekb-mcp/internal/storage"
	"github.com/dshills/sitekb-mcp/pkg/types"
)

// mockEmbedder implements embedder.Embedder for testing
type mockEmbedder struct {
	dimension int
	failFirst int           // Number of batch calls that fail before succeeding
	failErr   error         // Error returned by failing calls
	delay     time.Duration // Per call latency, honoring ctx

	mu        sync.Mutex
	calls     int
	texts     []string
	batchSize []int
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dimension: 4, failErr: errors.New("upstream 503")}
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := m.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}, Task: req.Task})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if call <= m.failFirst {
		return nil, m.failErr
	}

	m.mu.Lock()
	m.texts = append(m.texts, req.Texts...)
	m.batchSize = append(m.batchSize, len(req.Texts))
	m.mu.Unlock()

	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		embeddings[i] = &embedder.Embedding{
			Vector:    embedder.HashedEmbedding(text, m.dimension),
			Dimension: m.dimension,
			Provider:  "mock",
			Model:     "test-v1",
		}
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: embeddings, Provider: "mock", Model: "test-v1"}, nil
}

func (m *mockEmbedder) Dimension() int   { return m.dimension }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "test-v1" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) getCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// setupTestStorage creates an in-memory SQLite database for testing
func setupTestStorage(t testing.TB) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err, "Failed to create test storage")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func makeChunks(page, n int) []types.Chunk {
	chunks := make([]types.Chunk, n)
	for i := range chunks {
		ch := types.Chunk{
			Text:       fmt.Sprintf("page %d passage %d about widgets", page, i),
			SourceURL:  fmt.Sprintf("https://acme.test/p%d", page),
			Title:      "Widgets",
			HeaderPath: []string{"Catalog"},
			ChunkIndex: i,
		}
		ch.ComputeContentHash()
		ch.ComputeCounts()
		chunks[i] = ch
	}
	return chunks
}

func feed(batches ...[]types.Chunk) <-chan []types.Chunk {
	ch := make(chan []types.Chunk, len(batches))
	for _, b := range batches {
		ch <- b
	}
	close(ch)
	return ch
}

// TestNew verifies indexer defaults
func TestNew(t *testing.T) {
	idx := New(setupTestStorage(t), newMockEmbedder(), Config{})

	assert.Equal(t, embedder.MaxBatchSize, idx.cfg.BatchSize)
	assert.Equal(t, 60*time.Second, idx.cfg.BatchTimeout)
	assert.Equal(t, retry.Default().MaxAttempts, idx.cfg.Retry.MaxAttempts)
	assert.NotNil(t, idx.logger)
}

func TestIndexBatches(t *testing.T) {
	store := setupTestStorage(t)
	emb := newMockEmbedder()
	idx := New(store, emb, Config{BatchSize: 2, Retry: fastRetry()})
	ctx := context.Background()
	const ns = "company_1_acme"

	gen, err := idx.BeginRebuild(ctx, ns)
	require.NoError(t, err)

	var progress []BatchResult
	stats, err := idx.IndexBatches(ctx, ns, gen, feed(makeChunks(1, 3), makeChunks(2, 2)), func(r BatchResult) {
		progress = append(progress, r)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 5, stats.ChunksIndexed)
	assert.Equal(t, 0, stats.Retries)
	assert.Equal(t, []BatchResult{
		{Batch: 1, Chunks: 3, ChunksIndexed: 3},
		{Batch: 2, Chunks: 2, ChunksIndexed: 5},
	}, progress)

	// A 3-chunk batch is split by BatchSize 2
	assert.Equal(t, []int{2, 1, 2}, emb.batchSize)

	// Breadcrumb is embedded with the body
	assert.Equal(t, "Widgets > Catalog\n\npage 1 passage 0 about widgets", emb.texts[0])

	// Nothing is visible before commit
	count, err := store.CountChunks(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	n, err := idx.Commit(ctx, ns, gen)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestIndexBatchesPreservesProductionOrder(t *testing.T) {
	store := setupTestStorage(t)
	idx := New(store, newMockEmbedder(), Config{Retry: fastRetry()})
	ctx := context.Background()
	const ns = "company_2_order"

	gen, err := idx.BeginRebuild(ctx, ns)
	require.NoError(t, err)

	// Identical texts embed to identical vectors, so only row order separates them
	same := func(url string) []types.Chunk {
		ch := types.Chunk{Text: "identical passage", SourceURL: url}
		ch.ComputeContentHash()
		ch.ComputeCounts()
		return []types.Chunk{ch}
	}
	_, err = idx.IndexBatches(ctx, ns, gen, feed(same("https://acme.test/first"), same("https://acme.test/second")), nil)
	require.NoError(t, err)
	_, err = idx.Commit(ctx, ns, gen)
	require.NoError(t, err)

	results, err := store.SearchNamespace(ctx, ns, embedder.HashedEmbedding("identical passage", 4), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://acme.test/first", results[0].Chunk.SourceURL)
	assert.Equal(t, "https://acme.test/second", results[1].Chunk.SourceURL)
}

func TestIndexBatchesRetriesTransientFailures(t *testing.T) {
	store := setupTestStorage(t)
	emb := newMockEmbedder()
	emb.failFirst = 2
	idx := New(store, emb, Config{Retry: fastRetry()})
	ctx := context.Background()

	gen, err := idx.BeginRebuild(ctx, "ns")
	require.NoError(t, err)

	stats, err := idx.IndexBatches(ctx, "ns", gen, feed(makeChunks(1, 2)), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Retries)
	assert.Equal(t, 2, stats.ChunksIndexed)
	assert.Equal(t, 3, emb.getCallCount())
}

func TestIndexBatchesEmbeddingUnavailable(t *testing.T) {
	store := setupTestStorage(t)
	emb := newMockEmbedder()
	emb.failFirst = 100
	idx := New(store, emb, Config{Retry: fastRetry()})
	ctx := context.Background()

	gen, err := idx.BeginRebuild(ctx, "ns")
	require.NoError(t, err)

	stats, err := idx.IndexBatches(ctx, "ns", gen, feed(makeChunks(1, 2), makeChunks(2, 2)), nil)
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Equal(t, 0, stats.ChunksIndexed)
	assert.Equal(t, 3, emb.getCallCount(), "second batch is never attempted")
}

func TestIndexBatchesInvalidInputNotRetried(t *testing.T) {
	emb := newMockEmbedder()
	emb.failFirst = 100
	emb.failErr = fmt.Errorf("%w: bad text", embedder.ErrInvalidInput)
	idx := New(setupTestStorage(t), emb, Config{Retry: fastRetry()})
	ctx := context.Background()

	gen, err := idx.BeginRebuild(ctx, "ns")
	require.NoError(t, err)

	_, err = idx.IndexBatches(ctx, "ns", gen, feed(makeChunks(1, 1)), nil)
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Equal(t, 1, emb.getCallCount())
}

func TestIndexBatchesBatchTimeout(t *testing.T) {
	emb := newMockEmbedder()
	emb.delay = time.Second
	idx := New(setupTestStorage(t), emb, Config{
		BatchTimeout: 10 * time.Millisecond,
		Retry:        retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})
	ctx := context.Background()

	gen, err := idx.BeginRebuild(ctx, "ns")
	require.NoError(t, err)

	start := time.Now()
	_, err = idx.IndexBatches(ctx, "ns", gen, feed(makeChunks(1, 1)), nil)
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 2, emb.getCallCount())
}

func TestIndexBatchesNamespaceWrite(t *testing.T) {
	idx := New(setupTestStorage(t), newMockEmbedder(), Config{Retry: fastRetry()})

	// Generation 7 was never begun
	_, err := idx.IndexBatches(context.Background(), "ns", 7, feed(makeChunks(1, 1)), nil)
	assert.ErrorIs(t, err, ErrNamespaceWrite)

	_, err = idx.Commit(context.Background(), "ns", 7)
	assert.ErrorIs(t, err, ErrNamespaceWrite)
}

func TestIndexBatchesCancellation(t *testing.T) {
	idx := New(setupTestStorage(t), newMockEmbedder(), Config{Retry: fastRetry()})
	ctx, cancel := context.WithCancel(context.Background())

	gen, err := idx.BeginRebuild(ctx, "ns")
	require.NoError(t, err)

	batches := make(chan []types.Chunk)
	done := make(chan error, 1)
	go func() {
		_, err := idx.IndexBatches(ctx, "ns", gen, batches, nil)
		done <- err
	}()

	batches <- makeChunks(1, 1)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("IndexBatches did not return after cancellation")
	}
}

func TestRebuildReplacesNamespace(t *testing.T) {
	store := setupTestStorage(t)
	idx := New(store, newMockEmbedder(), Config{Retry: fastRetry()})
	ctx := context.Background()
	const ns = "company_3_rebuild"

	gen1, err := idx.BeginRebuild(ctx, ns)
	require.NoError(t, err)
	_, err = idx.IndexBatches(ctx, ns, gen1, feed(makeChunks(1, 3)), nil)
	require.NoError(t, err)
	_, err = idx.Commit(ctx, ns, gen1)
	require.NoError(t, err)

	gen2, err := idx.BeginRebuild(ctx, ns)
	require.NoError(t, err)
	_, err = idx.IndexBatches(ctx, ns, gen2, feed(makeChunks(2, 1)), nil)
	require.NoError(t, err)
	n, err := idx.Commit(ctx, ns, gen2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := store.SearchNamespace(ctx, ns, embedder.HashedEmbedding("page 1 passage 0 about widgets", 4), 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://acme.test/p2", results[0].Chunk.SourceURL)
}
