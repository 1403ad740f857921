package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dshills/sitekb-mcp/internal/extractor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeExtractor serves canned documents keyed by normalized URL
type fakeExtractor struct {
	mu    sync.Mutex
	docs  map[string]*extractor.Document
	errs  map[string]error
	calls map[string]int
	delay time.Duration
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		docs:  make(map[string]*extractor.Document),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeExtractor) page(u, text string, links ...string) {
	f.docs[u] = &extractor.Document{URL: u, Kind: extractor.KindHTML, Title: u, Text: text, Links: links}
}

func (f *fakeExtractor) sitemap(u string, urls ...string) {
	f.docs[u] = &extractor.Document{URL: u, Kind: extractor.KindSitemap, SitemapURLs: urls}
}

func (f *fakeExtractor) Extract(ctx context.Context, u string) (*extractor.Document, error) {
	f.mu.Lock()
	f.calls[u]++
	doc, err := f.docs[u], f.errs[u]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: 404", extractor.ErrHTTPStatus)
	}
	return doc, nil
}

func (f *fakeExtractor) callCount(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

func collect(t *testing.T, run *Run) ([]Page, *Stats) {
	t.Helper()
	var pages []Page
	for p := range run.Pages() {
		pages = append(pages, p)
	}
	stats, err := run.Wait()
	require.NoError(t, err)
	return pages, stats
}

func urls(pages []Page) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.URL
	}
	sort.Strings(out)
	return out
}

func TestCrawlRespectsMaxDepth(t *testing.T) {
	ext := newFakeExtractor()
	ext.page("https://acme.test/", "home", "https://acme.test/a")
	ext.page("https://acme.test/a", "a", "https://acme.test/b")
	ext.page("https://acme.test/b", "b")

	c := New(ext, Config{MaxDepth: 1, MaxPages: 10, Concurrency: 2}, nil)
	pages, stats := collect(t, c.Start(context.Background(), []string{"https://acme.test/"}))

	assert.Equal(t, []string{"https://acme.test/", "https://acme.test/a"}, urls(pages))
	assert.Zero(t, ext.callCount("https://acme.test/b"), "depth 2 page must not be fetched")
	assert.Equal(t, 2, stats.PagesEmitted)
}

func TestCrawlSitemapDoesNotCountTowardDepth(t *testing.T) {
	ext := newFakeExtractor()
	ext.sitemap("https://acme.test/sitemap.xml", "https://acme.test/one", "https://acme.test/two", "https://other.test/x")
	ext.page("https://acme.test/one", "one", "https://acme.test/deeper")
	ext.page("https://acme.test/two", "two")
	ext.page("https://acme.test/deeper", "deeper")

	c := New(ext, Config{MaxDepth: 0, MaxPages: 10, Concurrency: 3}, nil)
	pages, stats := collect(t, c.Start(context.Background(), []string{"https://acme.test/sitemap.xml"}))

	assert.Equal(t, []string{"https://acme.test/one", "https://acme.test/two"}, urls(pages))
	assert.Equal(t, 1, stats.SitemapsExpanded)
	assert.Zero(t, ext.callCount("https://other.test/x"), "off-site sitemap entries are ignored")
	assert.Zero(t, ext.callCount("https://acme.test/deeper"))
	for _, p := range pages {
		assert.Equal(t, 0, p.Depth)
	}
}

func TestCrawlStopsAtMaxPages(t *testing.T) {
	ext := newFakeExtractor()
	var links []string
	for i := 0; i < 20; i++ {
		u := fmt.Sprintf("https://acme.test/p%d", i)
		links = append(links, u)
		ext.page(u, "page")
	}
	ext.page("https://acme.test/", "home", links...)

	c := New(ext, Config{MaxDepth: 2, MaxPages: 5, Concurrency: 4}, nil)
	pages, stats := collect(t, c.Start(context.Background(), []string{"https://acme.test"}))

	assert.Len(t, pages, 5)
	assert.Equal(t, 5, stats.PagesEmitted)
	assert.LessOrEqual(t, stats.URLsProcessed, 5)
}

func TestCrawlVisitsEachURLOnce(t *testing.T) {
	ext := newFakeExtractor()
	ext.page("https://acme.test/", "home", "https://acme.test/a", "https://acme.test/b")
	ext.page("https://acme.test/a", "a", "https://acme.test/b", "https://acme.test")
	ext.page("https://acme.test/b", "b", "https://acme.test/a#top", "https://acme.test/a/")

	c := New(ext, Config{MaxDepth: 5, MaxPages: 10, Concurrency: 2}, nil)
	pages, stats := collect(t, c.Start(context.Background(), []string{"https://acme.test", "https://acme.test/"}))

	assert.Len(t, pages, 3)
	assert.Equal(t, 3, stats.URLsDiscovered)
	for _, u := range []string{"https://acme.test/", "https://acme.test/a", "https://acme.test/b"} {
		assert.Equal(t, 1, ext.callCount(u), u)
	}
}

func TestCrawlRecordsFailures(t *testing.T) {
	ext := newFakeExtractor()
	ext.page("https://acme.test/", "home", "https://acme.test/missing", "https://acme.test/empty", "https://acme.test/ok")
	ext.page("https://acme.test/empty", "")
	ext.page("https://acme.test/ok", "fine")

	c := New(ext, Config{MaxDepth: 1, MaxPages: 10, Concurrency: 2}, nil)
	pages, stats := collect(t, c.Start(context.Background(), []string{"https://acme.test"}))

	assert.Equal(t, []string{"https://acme.test/", "https://acme.test/ok"}, urls(pages))
	require.Len(t, stats.Failures, 2)

	failed := []string{stats.Failures[0].URL, stats.Failures[1].URL}
	assert.ElementsMatch(t, []string{"https://acme.test/missing", "https://acme.test/empty"}, failed)
}

func TestCrawlCancellation(t *testing.T) {
	ext := newFakeExtractor()
	ext.delay = 50 * time.Millisecond
	var links []string
	for i := 0; i < 50; i++ {
		u := fmt.Sprintf("https://acme.test/p%d", i)
		links = append(links, u)
		ext.page(u, "page")
	}
	ext.page("https://acme.test/", "home", links...)

	ctx, cancel := context.WithCancel(context.Background())
	run := New(ext, Config{MaxDepth: 1, MaxPages: 100, Concurrency: 2}, nil).Start(ctx, []string{"https://acme.test"})

	<-run.Pages()
	cancel()
	for range run.Pages() {
	}

	_, err := run.Wait()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCrawlIsLazy(t *testing.T) {
	ext := newFakeExtractor()
	var links []string
	for i := 0; i < 30; i++ {
		u := fmt.Sprintf("https://acme.test/p%d", i)
		links = append(links, u)
		ext.page(u, "page")
	}
	ext.page("https://acme.test/", "home", links...)

	run := New(ext, Config{MaxDepth: 1, MaxPages: 100, Concurrency: 2}, nil).Start(context.Background(), []string{"https://acme.test"})
	first := <-run.Pages()
	assert.Equal(t, "https://acme.test/", first.URL)

	// Without a consumer the coordinator stops dispatching once a few pages wait
	time.Sleep(50 * time.Millisecond)
	total := 0
	for _, u := range links {
		total += ext.callCount(u)
	}
	assert.Less(t, total, len(links))

	run.Stop()
	for range run.Pages() {
	}
	_, _ = run.Wait()
}

func TestCrawlOverHTTP(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>%[1]s/about</loc></url><url><loc>%[1]s/pricing</loc></url></urlset>`, srv.URL)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>About</title></head><body><main><h1>About</h1><p>We build anvils.</p></main></body></html>`)
	})
	mux.HandleFunc("/pricing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Pricing</title></head><body><main><h1>Pricing</h1><p>Anvils cost 10 coins.</p></main></body></html>`)
	})

	ext := extractor.New(extractor.Config{UserAgent: "test", Timeout: time.Second, MaxAttempts: 1, MaxSitemapURLs: 10}, srv.Client(), nil)
	c := New(ext, Config{MaxDepth: 0, MaxPages: 10, Concurrency: 2}, nil)
	pages, stats := collect(t, c.Start(context.Background(), []string{srv.URL + "/sitemap.xml"}))

	assert.Equal(t, []string{srv.URL + "/about", srv.URL + "/pricing"}, urls(pages))
	assert.Equal(t, 1, stats.SitemapsExpanded)
	assert.Empty(t, stats.Failures)
}
