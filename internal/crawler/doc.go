// Package crawler discovers the pages of a company website.
//
// A crawl starts from one or more seed URLs and walks same-site links breadth
// first up to a depth limit. Sitemaps are expanded into their listed URLs at the
// sitemap's own depth, so a seed sitemap reaches every listed page even with a
// depth limit of zero. Pages are streamed lazily on a channel; the crawl never
// fetches far ahead of its consumer and stops once MaxPages pages were emitted.
//
// A single coordinator goroutine owns the frontier and the visited set. A fixed
// pool of workers only fetches. An adaptive Throttle lowers the number of active
// workers and the request rate when transient failures pile up or the heap grows
// past its limit, then recovers while fetches succeed.
//
// Usage:
//
//	c := crawler.New(ext, crawler.Config{MaxDepth: 3, MaxPages: 100, Concurrency: 5}, logger)
//	run := c.Start(ctx, []string{"https://acme.test/"})
//	for page := range run.Pages() {
//	    handle(page)
//	}
//	stats, err := run.Wait()
package crawler
