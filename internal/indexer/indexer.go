package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/sitekb-mcp/internal/embedder"
	"github.com/dshills/sitekb-mcp/internal/logging"
	"github.com/dshills/sitekb-mcp/internal/retry"
	"github.com/dshills/sitekb-mcp/internal/storage"
	"github.com/dshills/sitekb-mcp/pkg/types"
)

// Resource errors. Both are fatal to the build that hit them.
var (
	// ErrEmbeddingUnavailable is returned when a batch could not be embedded
	// within its retry budget
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	// ErrNamespaceWrite is returned when embedded chunks could not be stored
	ErrNamespaceWrite = errors.New("failed to write to the knowledge base")
)

// Indexer embeds chunk batches and writes them into a namespace generation
type Indexer struct {
	storage  storage.NamespaceStore
	embedder embedder.Embedder
	cfg      Config
	logger   *zap.Logger
}

// Config contains configuration for the indexer
type Config struct {
	BatchSize    int           // Texts per embedding call (default: 100)
	BatchTimeout time.Duration // Bound on one embedding attempt (default: 60s)
	Retry        retry.Config  // Attempts per batch

	Logger *zap.Logger
}

// BatchResult reports one stored batch
type BatchResult struct {
	Batch         int // 1-based batch number
	Chunks        int // Chunks in this batch
	ChunksIndexed int // Running total for the run
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	Batches       int
	ChunksIndexed int
	Retries       int
	Duration      time.Duration
}

// New creates a new Indexer instance
func New(store storage.NamespaceStore, emb embedder.Embedder, cfg Config) *Indexer {
	if cfg.BatchSize <= 0 || cfg.BatchSize > embedder.MaxBatchSize {
		cfg.BatchSize = embedder.MaxBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = retry.Default()
	}
	return &Indexer{
		storage:  store,
		embedder: emb,
		cfg:      cfg,
		logger:   logging.OrNop(cfg.Logger).Named("indexer"),
	}
}

// BeginRebuild clears the namespace staging area and returns the generation
// the rebuild writes into
func (idx *Indexer) BeginRebuild(ctx context.Context, namespace string) (int64, error) {
	gen, err := idx.storage.BeginGeneration(ctx, namespace)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNamespaceWrite, err)
	}
	idx.logger.Debug("rebuild started", zap.String("namespace", namespace), zap.Int64("generation", gen))
	return gen, nil
}

// IndexBatches consumes batches in arrival order until the channel closes.
// Each batch is embedded and stored before the next one is read, so rows land
// in production order. progress may be nil.
func (idx *Indexer) IndexBatches(ctx context.Context, namespace string, generation int64,
	batches <-chan []types.Chunk, progress func(BatchResult)) (*Statistics, error) {

	start := time.Now()
	stats := &Statistics{}

	for {
		var batch []types.Chunk
		select {
		case <-ctx.Done():
			stats.Duration = time.Since(start)
			return stats, ctx.Err()
		case b, ok := <-batches:
			if !ok {
				stats.Duration = time.Since(start)
				return stats, nil
			}
			batch = b
		}
		if len(batch) == 0 {
			continue
		}

		if err := idx.indexBatch(ctx, namespace, generation, batch, stats); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}

		stats.Batches++
		stats.ChunksIndexed += len(batch)
		if progress != nil {
			progress(BatchResult{Batch: stats.Batches, Chunks: len(batch), ChunksIndexed: stats.ChunksIndexed})
		}
	}
}

// indexBatch embeds batch in slices of BatchSize and stores it in one write
func (idx *Indexer) indexBatch(ctx context.Context, namespace string, generation int64,
	batch []types.Chunk, stats *Statistics) error {

	records := make([]storage.ChunkRecord, 0, len(batch))
	for i := 0; i < len(batch); i += idx.cfg.BatchSize {
		end := i + idx.cfg.BatchSize
		if end > len(batch) {
			end = len(batch)
		}
		vectors, err := idx.embed(ctx, batch[i:end], stats)
		if err != nil {
			return err
		}
		for j, v := range vectors {
			records = append(records, storage.ChunkRecord{
				Chunk:  batch[i+j],
				Vector: v,
				Model:  idx.embedder.Model(),
			})
		}
	}

	if err := idx.storage.InsertChunks(ctx, namespace, generation, records); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		idx.logger.Error("namespace write failed", zap.String("namespace", namespace), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrNamespaceWrite, err)
	}
	return nil
}

// embed runs one embedding call per attempt, each under BatchTimeout
func (idx *Indexer) embed(ctx context.Context, chunks []types.Chunk, stats *Statistics) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].EmbeddingText()
	}

	cfg := idx.cfg.Retry
	cfg.OnRetry = func(attempt int, err error) {
		stats.Retries++
		idx.logger.Warn("retrying embedding batch",
			zap.Int("attempt", attempt), zap.Int("size", len(texts)), zap.Error(err))
	}

	resp, err := retry.Do(ctx, cfg, func(ctx context.Context) (*embedder.BatchEmbeddingResponse, error) {
		bctx, cancel := context.WithTimeout(ctx, idx.cfg.BatchTimeout)
		defer cancel()
		resp, err := idx.embedder.GenerateBatch(bctx, embedder.BatchEmbeddingRequest{
			Texts: texts,
			Task:  embedder.TaskDocument,
		})
		if errors.Is(err, embedder.ErrInvalidInput) || errors.Is(err, embedder.ErrEmptyText) {
			return nil, retry.Permanent(err)
		}
		return resp, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		idx.logger.Error("embedding batch failed", zap.Int("size", len(texts)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingUnavailable, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Vector
	}
	return vectors, nil
}

// Commit activates generation, replacing whatever the namespace served before.
// It returns the number of chunks now visible.
func (idx *Indexer) Commit(ctx context.Context, namespace string, generation int64) (int, error) {
	count, err := idx.storage.ActivateGeneration(ctx, namespace, generation)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNamespaceWrite, err)
	}
	idx.logger.Info("namespace activated",
		zap.String("namespace", namespace), zap.Int64("generation", generation), zap.Int("chunks", count))
	return count, nil
}
