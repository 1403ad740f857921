package build

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/sitekb-mcp/internal/chunker"
	"github.com/dshills/sitekb-mcp/internal/crawler"
	"github.com/dshills/sitekb-mcp/internal/extractor"
	"github.com/dshills/sitekb-mcp/internal/indexer"
	"github.com/dshills/sitekb-mcp/pkg/types"
)

// produced summarizes the producer side of a build
type produced struct {
	chunks    int
	documents int
	crawl     *crawler.Stats
}

// execute crawls, chunks and indexes into a fresh generation of the tenant's
// namespace, then activates it. It returns the visible chunk count.
//
// The producer and the indexer run as two stages joined by a channel of
// batches; the indexer is the only consumer, so batches land in order.
func (o *Orchestrator) execute(t *task) (int, error) {
	ctx := t.ctx

	gen, err := o.indexer.BeginRebuild(ctx, t.namespace)
	if err != nil {
		return 0, err
	}

	batches := make(chan []types.Chunk, 1)
	var out produced

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(batches)
		var err error
		out, err = o.produce(gctx, t, batches)
		return err
	})
	g.Go(func() error {
		stats, err := o.indexer.IndexBatches(gctx, t.namespace, gen, batches, func(r indexer.BatchResult) {
			o.progress(t, func(p *types.BuildProgress) {
				p.ChunksProcessed = r.ChunksIndexed
				if p.Step != types.StepCrawling {
					p.Step = types.StepEmbedding
					p.Message = fmt.Sprintf("Saving %d chunks to knowledge base...", r.ChunksIndexed)
				}
			})
		})
		if stats != nil {
			o.logger.Debug("indexing finished",
				zap.Int64("tenant_id", t.tenantID),
				zap.Int("batches", stats.Batches),
				zap.Int("chunks", stats.ChunksIndexed),
				zap.Int("retries", stats.Retries))
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if out.chunks == 0 {
		if out.documents == 0 && unreachable(out.crawl) {
			return 0, fmt.Errorf("%w: %d URLs failed", ErrSiteUnreachable, len(out.crawl.Failures))
		}
		return 0, ErrNoContent
	}

	// Last cancellation point; after Commit the new knowledge base is visible
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	o.progress(t, func(p *types.BuildProgress) {
		p.Step = types.StepFinalizing
		p.Message = "Finalizing your knowledge base..."
	})

	count, err := o.indexer.Commit(ctx, t.namespace, gen)
	if err != nil {
		return 0, err
	}
	if o.cache != nil {
		o.cache.InvalidateNamespace(t.namespace)
	}
	return count, nil
}

// produce streams the crawl, then the tenant's uploads, into batches of chunks
func (o *Orchestrator) produce(ctx context.Context, t *task, batches chan<- []types.Chunk) (produced, error) {
	var out produced
	var batch []types.Chunk

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		select {
		case batches <- batch:
			batch = nil
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	add := func(doc chunker.Document) error {
		out.documents++
		for _, ch := range o.chunker.Chunk(doc) {
			batch = append(batch, ch)
			out.chunks++
			if len(batch) >= o.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return nil
	}

	run := o.crawler.Start(ctx, t.seeds)
	defer func() {
		run.Stop()
		_, _ = run.Wait()
	}()

	for page := range run.Pages() {
		o.progress(t, func(p *types.BuildProgress) {
			p.Step = types.StepCrawling
			p.CurrentURL = page.URL
			p.URLsTotal = page.Discovered
			p.URLsDone = page.Processed
			p.DocumentsAdded = out.documents + 1
			p.Message = fmt.Sprintf("Reading page %d of %d: %s", page.Processed, page.Discovered, extractor.Host(page.URL))
		})
		if err := add(chunker.Document{URL: page.URL, Title: page.Title, Text: page.Text}); err != nil {
			return out, err
		}
	}

	stats, err := run.Wait()
	out.crawl = stats
	if err != nil {
		return out, err
	}

	o.progress(t, func(p *types.BuildProgress) {
		p.Step = types.StepChunking
		p.CurrentURL = ""
		p.URLsTotal = stats.URLsDiscovered
		p.URLsDone = stats.URLsProcessed
		p.Message = "Organizing content..."
	})

	uploads, err := o.store.ListUploads(ctx, t.tenantID)
	if err != nil {
		return out, fmt.Errorf("failed to list uploads: %w", err)
	}
	for _, u := range uploads {
		if err := add(chunker.Document{URL: types.UploadScheme + u.Name, Title: u.Name, Text: u.Text}); err != nil {
			return out, err
		}
	}
	if len(uploads) > 0 {
		o.progress(t, func(p *types.BuildProgress) {
			p.DocumentsAdded = out.documents
		})
	}

	return out, flush()
}

// unreachable reports whether every URL of the crawl failed to fetch
func unreachable(stats *crawler.Stats) bool {
	if stats == nil || stats.PagesEmitted > 0 || len(stats.Failures) == 0 {
		return false
	}
	for _, f := range stats.Failures {
		if f.Reason == crawler.ReasonNoText {
			return false
		}
	}
	return true
}
