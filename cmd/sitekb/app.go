package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/sitekb-mcp/internal/answer"
	"github.com/dshills/sitekb-mcp/internal/build"
	"github.com/dshills/sitekb-mcp/internal/chunker"
	"github.com/dshills/sitekb-mcp/internal/config"
	"github.com/dshills/sitekb-mcp/internal/crawler"
	"github.com/dshills/sitekb-mcp/internal/embedder"
	"github.com/dshills/sitekb-mcp/internal/extractor"
	"github.com/dshills/sitekb-mcp/internal/generator"
	"github.com/dshills/sitekb-mcp/internal/indexer"
	"github.com/dshills/sitekb-mcp/internal/logging"
	"github.com/dshills/sitekb-mcp/internal/retry"
	"github.com/dshills/sitekb-mcp/internal/searcher"
	"github.com/dshills/sitekb-mcp/internal/storage"
)

const shutdownTimeout = 15 * time.Second

// app holds the wired components shared by every command
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *storage.SQLiteStorage
	embedder  embedder.Embedder
	generator generator.Backend
	builds    *build.Orchestrator
	answers   *answer.Service
}

// loadConfig applies the global flags on top of the config file
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newApp opens storage and wires the build and answer pipelines
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	path, err := config.ExpandPath(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, err
	}

	emb, err := embedder.New(ctx, embedder.Config{
		Provider:     cfg.Embedding.Provider,
		Model:        cfg.Embedding.Model,
		APIKey:       cfg.Embedding.APIKey,
		BaseURL:      cfg.Embedding.BaseURL,
		CacheSize:    cfg.Embedding.CacheSize,
		GeminiAPIKey: config.GeminiAPIKey(),
		OpenAIAPIKey: os.Getenv(config.EnvOpenAIAPIKey),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	gen, err := generator.New(ctx, generator.Config{
		Backend: cfg.Generation.Provider,
		Model:   cfg.Generation.Model,
		APIKey:  cfg.Generation.APIKey,
		BaseURL: cfg.Generation.BaseURL,
		Options: generator.Options{
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			Timeout:     cfg.Generation.Timeout,
		},
		GeminiAPIKey: config.GeminiAPIKey(),
		OpenAIAPIKey: os.Getenv(config.EnvOpenAIAPIKey),
	})
	if err != nil {
		_ = emb.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	ext := extractor.New(extractor.Config{
		UserAgent:      cfg.Crawler.UserAgent,
		Timeout:        cfg.Crawler.FetchTimeout,
		MaxAttempts:    cfg.Crawler.FetchRetries,
		MaxBodyBytes:   cfg.Crawler.MaxBodyBytes,
		MaxSitemapURLs: cfg.Crawler.MaxSitemapURLs,
	}, nil, logger)

	crawl := crawler.New(ext, crawler.Config{
		MaxDepth:    cfg.Crawler.MaxDepth,
		MaxPages:    cfg.Crawler.MaxPages,
		Concurrency: cfg.Crawler.Concurrency,
		Throttle: crawler.ThrottleConfig{
			RequestsPerSecond: cfg.Crawler.RequestsPerSec,
			ErrorThreshold:    cfg.Crawler.ErrorThreshold,
			MemoryLimitBytes:  cfg.Crawler.MemoryLimitBytes,
		},
	}, logger)

	idx := indexer.New(store, emb, indexer.Config{
		BatchSize:    cfg.Indexer.BatchSize,
		BatchTimeout: cfg.Indexer.BatchTimeout,
		Retry: retry.Config{
			MaxAttempts: cfg.Indexer.MaxRetries,
			BaseDelay:   cfg.Indexer.BaseDelay,
			MaxDelay:    cfg.Indexer.MaxDelay,
			Multiplier:  2,
		},
		Logger: logger,
	})

	search := searcher.NewSearcher(store, emb, cfg.Retrieval.CacheSize)

	builds := build.New(build.Deps{
		Store:   store,
		Crawler: crawl,
		Chunker: chunker.New(
			chunker.WithMaxWords(cfg.Chunker.MaxWords),
			chunker.WithOverlap(cfg.Chunker.Overlap),
			chunker.WithMaxChars(cfg.Chunker.MaxChars),
		),
		Indexer: idx,
		Cache:   search,
	}, build.Config{
		BatchSize: cfg.Indexer.BatchSize,
		Timeout:   cfg.Build.Timeout,
		Logger:    logger,
	})

	answers := answer.NewService(store, search, gen, answer.Config{
		DefaultTopK:     cfg.Retrieval.TopK,
		MaxTopK:         cfg.Retrieval.MaxTopK,
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		UseCache:        true,
		Logger:          logger,
	})

	logger.Debug("components ready",
		zap.String("db", path),
		zap.String("build_mode", storage.BuildMode),
		zap.String("embedder", emb.Provider()),
		zap.String("generator", gen.Name()))

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		embedder:  emb,
		generator: gen,
		builds:    builds,
		answers:   answers,
	}, nil
}

// recoverBuilds fails builds left "building" by a previous process
func (a *app) recoverBuilds(ctx context.Context) {
	n, err := a.builds.RecoverStuck(ctx)
	if err != nil {
		a.logger.Warn("failed to recover interrupted builds", zap.Error(err))
		return
	}
	if n > 0 {
		a.logger.Info("recovered interrupted builds", zap.Int("count", n))
	}
}

// close stops running builds, then releases backends and storage
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.builds.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop builds: %w", err))
	}
	if err := a.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.generator.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
