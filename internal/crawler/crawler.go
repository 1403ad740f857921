package crawler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/sitekb-mcp/internal/extractor"
	"github.com/dshills/sitekb-mcp/internal/logging"
)

// Extractor fetches and classifies one URL
type Extractor interface {
	Extract(ctx context.Context, url string) (*extractor.Document, error)
}

// Config bounds a crawl run
type Config struct {
	MaxDepth    int // Link hops from a seed; sitemap expansion does not count
	MaxPages    int // Content pages emitted at most
	Concurrency int // Fixed worker pool size

	Throttle ThrottleConfig
}

// Page is one extracted content page
type Page struct {
	URL     string
	Title   string
	Text    string
	Headers []extractor.Heading
	Depth   int

	// Frontier counters at emission time
	Discovered int
	Processed  int
}

// ReasonNoText is the failure reason of a page that had no readable text
const ReasonNoText = "no readable text"

// Failure records a URL that was skipped
type Failure struct {
	URL    string
	Reason string
}

// Stats summarizes a finished run
type Stats struct {
	PagesEmitted     int
	SitemapsExpanded int
	URLsDiscovered   int
	URLsProcessed    int
	Failures         []Failure
	Throttled        int
	Duration         time.Duration
}

// Crawler discovers same-site pages breadth first
type Crawler struct {
	extractor Extractor
	cfg       Config
	logger    *zap.Logger
}

// New creates a crawler
func New(ext Extractor, cfg Config, logger *zap.Logger) *Crawler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	cfg.Throttle.MaxWorkers = cfg.Concurrency
	return &Crawler{
		extractor: ext,
		cfg:       cfg,
		logger:    logging.OrNop(logger).Named("crawler"),
	}
}

// Run is one crawl in progress. Consumers must drain Pages (or cancel the
// context passed to Start) before Wait returns.
type Run struct {
	pages  chan Page
	done   chan struct{}
	cancel context.CancelFunc

	mu    sync.Mutex
	stats *Stats
	err   error
}

// Pages returns the lazy stream of extracted pages. It is closed when the crawl ends.
func (r *Run) Pages() <-chan Page {
	return r.pages
}

// Wait blocks until the crawl has ended and returns its statistics. The error is
// non-nil only when the crawl was cancelled.
func (r *Run) Wait() (*Stats, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats, r.err
}

// Stop cancels the crawl
func (r *Run) Stop() {
	r.cancel()
}

// Start begins crawling from seeds in the background
func (c *Crawler) Start(ctx context.Context, seeds []string) *Run {
	ctx, cancel := context.WithCancel(ctx)
	r := &Run{
		pages:  make(chan Page),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(r.done)
		defer cancel()
		stats, err := c.crawl(ctx, seeds, r.pages)
		r.mu.Lock()
		r.stats, r.err = stats, err
		r.mu.Unlock()
	}()
	return r
}

type job struct {
	url   string
	depth int
}

type outcome struct {
	job job
	doc *extractor.Document
	err error
}

// crawl runs the coordinator loop. The coordinator alone owns the frontier;
// workers only extract.
func (c *Crawler) crawl(ctx context.Context, seeds []string, pages chan<- Page) (*Stats, error) {
	defer close(pages)
	start := time.Now()
	stats := &Stats{}

	throttle := NewThrottle(c.cfg.Throttle)
	jobs := make(chan job)
	results := make(chan outcome, c.cfg.Concurrency)

	// Workers parked by the throttle only wake on a ceiling change or on this
	// context, so it is cancelled once the frontier is exhausted.
	workCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	g, gctx := errgroup.WithContext(workCtx)
	for i := 0; i < c.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			c.work(gctx, worker, throttle, jobs, results)
			return nil
		})
	}

	f := newFrontier(seeds)
	for _, s := range seeds {
		f.push(s, 0)
	}

	var (
		inflight      int
		inflightPages int
		emitted       int
		pending       []Page
	)

	for {
		reserved := emitted + len(pending) + inflightPages
		budgetLeft := reserved < c.cfg.MaxPages

		// Pick the next job. Pages waiting for the consumer hold back dispatch so
		// the stream stays lazy.
		var next *job
		if budgetLeft && len(pending) < c.cfg.Concurrency {
			if j, ok := f.peek(); ok {
				next = &j
			}
		}

		if next == nil && inflight == 0 && len(pending) == 0 {
			break
		}

		var jobCh chan<- job
		var out chan<- Page
		var head Page
		if next != nil {
			jobCh = jobs
		}
		if len(pending) > 0 {
			out = pages
			head = pending[0]
		}

		select {
		case <-ctx.Done():
			close(jobs)
			stopWorkers()
			_ = g.Wait()
			stats.Duration = time.Since(start)
			stats.URLsDiscovered = f.discovered()
			stats.Throttled = throttle.Reductions()
			return stats, ctx.Err()

		case jobCh <- derefJob(next):
			f.pop()
			inflight++
			if !f.isSitemap(next.url) {
				inflightPages++
			}

		case out <- head:
			pending = pending[1:]
			emitted++

		case res := <-results:
			inflight--
			sitemap := f.isSitemap(res.job.url)
			if !sitemap {
				inflightPages--
			}
			stats.URLsProcessed++

			if res.err != nil {
				stats.Failures = append(stats.Failures, Failure{URL: res.job.url, Reason: res.err.Error()})
				c.logger.Debug("skipping url", zap.String("url", res.job.url), zap.Error(res.err))
				continue
			}

			doc := res.doc
			if doc.Kind == extractor.KindSitemap {
				stats.SitemapsExpanded++
				for _, u := range doc.SitemapURLs {
					if f.allowed(u) {
						f.push(u, res.job.depth)
					}
				}
				continue
			}

			if res.job.depth < c.cfg.MaxDepth {
				for _, link := range doc.Links {
					if f.allowed(link) {
						f.push(link, res.job.depth+1)
					}
				}
			}

			if doc.Text == "" {
				stats.Failures = append(stats.Failures, Failure{URL: res.job.url, Reason: ReasonNoText})
				continue
			}
			pending = append(pending, Page{
				URL:        doc.URL,
				Title:      doc.Title,
				Text:       doc.Text,
				Headers:    doc.Headers,
				Depth:      res.job.depth,
				Discovered: f.discovered(),
				Processed:  stats.URLsProcessed,
			})
		}
	}

	close(jobs)
	stopWorkers()
	_ = g.Wait()

	stats.PagesEmitted = emitted
	stats.URLsDiscovered = f.discovered()
	stats.Throttled = throttle.Reductions()
	stats.Duration = time.Since(start)
	c.logger.Info("crawl finished",
		zap.Int("pages", emitted),
		zap.Int("sitemaps", stats.SitemapsExpanded),
		zap.Int("discovered", stats.URLsDiscovered),
		zap.Int("failures", len(stats.Failures)),
		zap.Int("throttled", stats.Throttled),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func derefJob(j *job) job {
	if j == nil {
		return job{}
	}
	return *j
}

// work extracts jobs until the jobs channel closes. Every received job produces
// exactly one outcome unless the context ends.
func (c *Crawler) work(ctx context.Context, worker int, throttle *Throttle, jobs <-chan job, results chan<- outcome) {
	for {
		if err := throttle.Admit(ctx, worker); err != nil {
			return
		}

		var j job
		select {
		case next, ok := <-jobs:
			if !ok {
				return
			}
			j = next
		case <-ctx.Done():
			return
		}

		res := outcome{job: j}
		if err := throttle.Wait(ctx); err != nil {
			res.err = err
		} else {
			res.doc, res.err = c.extractor.Extract(ctx, j.url)
			if lowered := throttle.Record(!errors.Is(res.err, extractor.ErrTransient)); lowered {
				c.logger.Warn("crawl throttled", zap.Int("allowed_workers", throttle.Allowed()))
			}
		}

		select {
		case results <- res:
		case <-ctx.Done():
			return
		}
	}
}
