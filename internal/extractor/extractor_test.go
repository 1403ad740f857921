package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Acme Pricing</title><style>body{}</style></head>
<body>
<header><h1>Site Banner</h1></header>
<nav><a href="/about">About</a> <a href="mailto:hi@acme.test">Mail</a></nav>
<main>
  <h1>Pricing</h1>
  <p>Simple plans for everyone.</p>
  <h2>Enterprise</h2>
  <p>Includes <b>SSO</b> and audit logs.</p>
  <ul><li>Priority support</li><li>99.9% uptime</li></ul>
  <a href="/contact#form">Contact</a>
  <a href="https://other.test/x">Elsewhere</a>
  <a href="/brochure.pdf">Brochure</a>
  <a href="/files?download=1">Download</a>
  <script>var hidden = "secret";</script>
</main>
<footer>Copyright</footer>
</body>
</html>`

func newTestExtractor() *Extractor {
	return New(Config{
		UserAgent:      "sitekb-test",
		Timeout:        2 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
	}, nil, nil)
}

func TestExtractHTML(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, samplePage)
	}))
	defer srv.Close()

	doc, err := newTestExtractor().Extract(context.Background(), srv.URL+"/pricing/")
	require.NoError(t, err)

	assert.Equal(t, "sitekb-test", gotUA)
	assert.Equal(t, KindHTML, doc.Kind)
	assert.Equal(t, "Acme Pricing", doc.Title)
	assert.Equal(t, srv.URL+"/pricing", doc.URL)

	assert.Contains(t, doc.Text, "# Pricing")
	assert.Contains(t, doc.Text, "## Enterprise")
	assert.Contains(t, doc.Text, "Includes SSO and audit logs.")
	assert.Contains(t, doc.Text, "- Priority support")
	assert.NotContains(t, doc.Text, "Site Banner")
	assert.NotContains(t, doc.Text, "secret")
	assert.NotContains(t, doc.Text, "Copyright")

	assert.Equal(t, []Heading{{Level: 1, Text: "Pricing"}, {Level: 2, Text: "Enterprise"}}, doc.Headers)

	// Links come from the whole page, nav included, same site only
	assert.ElementsMatch(t, []string{srv.URL + "/about", srv.URL + "/contact"}, doc.Links)
}

func TestExtractMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Served with a generic type; the extension decides
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, "# Guide\r\n\r\nIntro text.\r\n\r\n## Setup ##\r\n\r\nRun it.\r\n")
	}))
	defer srv.Close()

	doc, err := newTestExtractor().Extract(context.Background(), srv.URL+"/docs/guide.md")
	require.NoError(t, err)

	assert.Equal(t, KindText, doc.Kind)
	assert.Equal(t, "Guide", doc.Title)
	assert.Equal(t, []Heading{{1, "Guide"}, {2, "Setup"}}, doc.Headers)
	assert.NotContains(t, doc.Text, "\r")
	assert.Empty(t, doc.Links)
}

func TestExtractPlainTextTitleFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "just words")
	}))
	defer srv.Close()

	doc, err := newTestExtractor().Extract(context.Background(), srv.URL+"/release-notes")
	require.NoError(t, err)
	assert.Equal(t, KindText, doc.Kind)
	assert.Equal(t, "release notes", doc.Title)
}

func TestExtractSitemap(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/a</loc></url>
  <url><loc> %[1]s/b </loc></url>
  <url><loc>%[1]s/a</loc></url>
  <url><loc>ftp://nope</loc></url>
</urlset>`, srvURL)
	}))
	defer srv.Close()
	srvURL = srv.URL

	doc, err := newTestExtractor().Extract(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	assert.Equal(t, KindSitemap, doc.Kind)
	assert.Equal(t, []string{srv.URL + "/a", srv.URL + "/b"}, doc.SitemapURLs)
	assert.Empty(t, doc.Text)
}

func TestParseSitemapIndexAndLimit(t *testing.T) {
	body := []byte(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<sitemap><loc>https://x.test/sitemap-pages.xml</loc></sitemap>
<sitemap><loc>https://x.test/sitemap-blog.xml</loc></sitemap>
<sitemap><loc>https://x.test/sitemap-news.xml</loc></sitemap>
</sitemapindex>`)

	urls, err := parseSitemap(body, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.test/sitemap-pages.xml", "https://x.test/sitemap-blog.xml"}, urls)

	_, err = parseSitemap([]byte(`<html><body>no</body></html>`), 10)
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestExtractRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><p>ok</p></body></html>")
	}))
	defer srv.Close()

	doc, err := newTestExtractor().Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "ok", doc.Text)
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		ctype     string
		body      string
		wantErr   error
		wantCalls int32
	}{
		{"server error exhausts retries", http.StatusBadGateway, "text/html", "", ErrTransient, 3},
		{"not found is permanent", http.StatusNotFound, "text/html", "", ErrHTTPStatus, 1},
		{"image content", http.StatusOK, "image/png", "\x89PNG", ErrUnsupportedContent, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", tt.ctype)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestExtractor().Extract(context.Background(), srv.URL+"/page")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestExtractTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ext := New(Config{Timeout: 20 * time.Millisecond, MaxAttempts: 2, RetryBaseDelay: time.Millisecond}, nil, nil)
	_, err := ext.Extract(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestExtractInvalidURL(t *testing.T) {
	_, err := newTestExtractor().Extract(context.Background(), "ftp://x.test/file")
	assert.Error(t, err)
}
