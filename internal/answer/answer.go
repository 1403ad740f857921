// Package answer turns a question into a retrieval-augmented reply for one
// tenant's knowledge base.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/sitekb-mcp/internal/generator"
	"github.com/dshills/sitekb-mcp/internal/logging"
	"github.com/dshills/sitekb-mcp/internal/searcher"
	"github.com/dshills/sitekb-mcp/pkg/types"
)

const (
	DefaultTopK            = 5
	MaxTopK                = 20
	DefaultMaxContextChars = 6000
)

// TenantReader looks up tenant state
type TenantReader interface {
	GetTenant(ctx context.Context, tenantID int64) (*types.TenantState, error)
}

// Searcher runs the namespace similarity search
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
}

// Generator writes an answer from a prompt
type Generator interface {
	Generate(ctx context.Context, req generator.Request) (string, error)
}

// Config tunes retrieval
type Config struct {
	DefaultTopK     int
	MaxTopK         int
	MaxContextChars int
	UseCache        bool

	Logger *zap.Logger
}

// Service answers questions from a tenant's active knowledge base. It only
// reads tenant state and never changes it.
type Service struct {
	tenants   TenantReader
	searcher  Searcher
	generator Generator
	cfg       Config
	logger    *zap.Logger
}

// NewService creates an answer service
func NewService(tenants TenantReader, s Searcher, gen Generator, cfg Config) *Service {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = MaxTopK
	}
	if cfg.DefaultTopK > cfg.MaxTopK {
		cfg.DefaultTopK = cfg.MaxTopK
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}
	return &Service{
		tenants:   tenants,
		searcher:  s,
		generator: gen,
		cfg:       cfg,
		logger:    logging.OrNop(cfg.Logger).Named("answer"),
	}
}

// Ask answers question for tenantID using the topK most relevant chunks
// (0 means the default). A failing generation backend yields a Fallback
// result, never an error. Errors are limited to unmet preconditions and
// retrieval failures.
func (s *Service) Ask(ctx context.Context, tenantID int64, question string, topK int) (Result, error) {
	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.AIEnabled || tenant.Status != types.StatusReady {
		return nil, fmt.Errorf("tenant %d is %s (assistant enabled: %t): %w",
			tenantID, tenant.Status, tenant.AIEnabled, types.ErrNotReady)
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, types.ErrEmptyQuestion
	}

	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK > s.cfg.MaxTopK {
		topK = s.cfg.MaxTopK
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Namespace: tenant.NamespaceID,
		Query:     question,
		Limit:     topK,
		UseCache:  s.cfg.UseCache,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	results := resp.Results

	log := s.logger.With(zap.Int64("tenant_id", tenantID), zap.Int("hits", len(results)))
	if len(results) == 0 {
		log.Info("no relevant chunks")
		return &Fallback{Message: noInformationMessage, Reason: ReasonNoResults, Chunks: results}, nil
	}

	contextBlock := BuildContext(results, s.cfg.MaxContextChars)
	answer, err := s.generator.Generate(ctx, generator.Request{
		System: SystemPrompt,
		Prompt: buildPrompt(contextBlock, question),
	})
	if err == nil && strings.TrimSpace(answer) == "" {
		err = generator.ErrEmptyResponse
	}
	if err != nil {
		reason := ReasonGeneratorFailed
		if errors.Is(err, generator.ErrUnavailable) {
			reason = ReasonGeneratorUnavailable
		}
		log.Warn("generation failed, sending automatic reply", zap.String("reason", string(reason)), zap.Error(err))
		return &Fallback{Message: fallbackMessage(results), Reason: reason, Chunks: results}, nil
	}

	cits := citationsFor(results)
	log.Debug("answer generated", zap.Int("context_chars", len(contextBlock)))
	return &Generated{Answer: ensureSources(answer, cits), Citations: cits, Chunks: results}, nil
}
