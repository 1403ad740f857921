package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/sitekb-mcp/internal/logging"
	"github.com/dshills/sitekb-mcp/internal/retry"
)

// Per-URL failure classes. None of them aborts a build.
var (
	ErrTransient          = errors.New("transient fetch error")
	ErrHTTPStatus         = errors.New("unexpected HTTP status")
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrUnparseable        = errors.New("unparseable content")
)

// Kind classifies a fetched resource
type Kind string

const (
	KindSitemap Kind = "sitemap"
	KindText    Kind = "text"
	KindHTML    Kind = "html"
)

// Heading is one header of the document outline
type Heading struct {
	Level int
	Text  string
}

// Document is the result of extracting one URL
type Document struct {
	URL      string // Normalized requested URL
	FinalURL string // URL after redirects
	Kind     Kind
	Title    string
	Text     string // Markdown-style text with "#" header lines
	Headers  []Heading
	Links    []string // Normalized same-site links, in document order

	// SitemapURLs holds the listed URLs when Kind is KindSitemap
	SitemapURLs []string
}

// Config controls fetching
type Config struct {
	UserAgent      string
	Timeout        time.Duration // Per attempt
	MaxAttempts    int
	RetryBaseDelay time.Duration
	MaxBodyBytes   int64
	MaxSitemapURLs int
}

// DefaultConfig mirrors the crawler defaults
func DefaultConfig() Config {
	return Config{
		UserAgent:      "Mozilla/5.0 (compatible; sitekb/1.0)",
		Timeout:        30 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: 250 * time.Millisecond,
		MaxBodyBytes:   5 << 20,
		MaxSitemapURLs: 50,
	}
}

// Extractor fetches and classifies URLs
type Extractor struct {
	client *http.Client
	cfg    Config
	logger *zap.Logger
}

// New creates an extractor. A nil client uses a client without a global timeout;
// each attempt gets its own deadline from cfg.Timeout.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Extractor {
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.MaxSitemapURLs <= 0 {
		cfg.MaxSitemapURLs = def.MaxSitemapURLs
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Extractor{
		client: client,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("extractor"),
	}
}

// Extract fetches rawURL and returns its text, outline and links, or the URLs it
// lists when it is a sitemap.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*Document, error) {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return nil, err
	}
	key := normalized(u)

	res, err := e.fetch(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}

	doc := &Document{URL: key, FinalURL: res.finalURL.String()}

	if IsSitemapURL(u.String()) {
		urls, err := parseSitemap(res.body, e.cfg.MaxSitemapURLs)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", key, err)
		}
		doc.Kind = KindSitemap
		doc.SitemapURLs = urls
		return doc, nil
	}

	mediaType := res.mediaType
	if mediaType == "" {
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(res.body))
	}

	switch {
	case isTextURL(u) || mediaType == "text/plain" || mediaType == "text/markdown" || mediaType == "text/x-markdown":
		doc.Kind = KindText
		doc.Text = strings.TrimSpace(strings.ReplaceAll(string(res.body), "\r\n", "\n"))
		doc.Headers = MarkdownHeadings(doc.Text)
		doc.Title = textTitle(doc.Headers, res.finalURL)
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		page, err := parseHTML(res.body, res.finalURL)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w: %v", key, ErrUnparseable, err)
		}
		doc.Kind = KindHTML
		doc.Text = page.text
		doc.Headers = page.headings
		doc.Links = page.links
		doc.Title = page.title
		if doc.Title == "" {
			doc.Title = titleFromURL(res.finalURL)
		}
	default:
		return nil, fmt.Errorf("extract %s: %w: %s", key, ErrUnsupportedContent, mediaType)
	}

	e.logger.Debug("extracted page",
		zap.String("url", key),
		zap.String("kind", string(doc.Kind)),
		zap.Int("chars", len(doc.Text)),
		zap.Int("links", len(doc.Links)))
	return doc, nil
}

type fetchResult struct {
	body      []byte
	mediaType string
	finalURL  *url.URL
}

func (e *Extractor) fetch(ctx context.Context, target string) (*fetchResult, error) {
	cfg := retry.Config{
		MaxAttempts: e.cfg.MaxAttempts,
		BaseDelay:   e.cfg.RetryBaseDelay,
		MaxDelay:    10 * e.cfg.RetryBaseDelay,
		Multiplier:  2,
		OnRetry: func(attempt int, err error) {
			e.logger.Debug("retrying fetch", zap.String("url", target), zap.Int("attempt", attempt), zap.Error(err))
		},
	}
	return retry.Do(ctx, cfg, func(ctx context.Context) (*fetchResult, error) {
		return e.fetchOnce(ctx, target)
	})
}

func (e *Extractor) fetchOnce(ctx context.Context, target string) (*fetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.5")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, retry.Permanent(fmt.Errorf("%w: HTTP %d", ErrHTTPStatus, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	mediaType := ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mediaType = strings.ToLower(mt)
		}
	}

	return &fetchResult{
		body:      body,
		mediaType: mediaType,
		finalURL:  resp.Request.URL,
	}, nil
}

// MarkdownHeadings returns the ATX headers ("# Title") of a markdown text
func MarkdownHeadings(text string) []Heading {
	var headings []Heading
	for _, line := range strings.Split(text, "\n") {
		if level, title, ok := ParseHeading(line); ok {
			headings = append(headings, Heading{Level: level, Text: title})
		}
	}
	return headings
}

// ParseHeading parses one markdown ATX header line
func ParseHeading(line string) (level int, text string, ok bool) {
	line = strings.TrimSpace(line)
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	text = strings.TrimSpace(line[level:])
	// Optional closing sequence: "## Title ##"
	if i := strings.LastIndexByte(text, ' '); i >= 0 && strings.Trim(text[i+1:], "#") == "" {
		text = strings.TrimSpace(text[:i])
	}
	if text == "" {
		return 0, "", false
	}
	return level, text, true
}

func textTitle(headings []Heading, u *url.URL) string {
	for _, h := range headings {
		if h.Level == 1 {
			return h.Text
		}
	}
	return titleFromURL(u)
}
