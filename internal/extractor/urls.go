package extractor

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/dshills/sitekb-mcp/pkg/types"
)

// skippedExtensions are resources that never contain page text
var skippedExtensions = map[string]bool{
	".pdf": true, ".zip": true, ".rar": true, ".gz": true, ".tar": true, ".7z": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true, ".webp": true, ".ico": true, ".bmp": true,
	".css": true, ".js": true, ".json": true, ".xml": true, ".rss": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".wav": true, ".webm": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".exe": true, ".dmg": true, ".apk": true,
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true,
}

// NormalizeURL returns the dedup key of a URL: lowercase scheme and host plus the
// path without fragment, query or trailing slash.
func NormalizeURL(raw string) (string, error) {
	u, err := parseHTTPURL(raw)
	if err != nil {
		return "", err
	}
	return normalized(u), nil
}

func normalized(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + p
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q in %s", types.ErrInvalidURL, u.Scheme, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %s", types.ErrInvalidURL, raw)
	}
	return u, nil
}

// ValidateSeed checks that raw is an absolute http(s) URL
func ValidateSeed(raw string) error {
	_, err := parseHTTPURL(raw)
	return err
}

// Host returns the lowercase host of raw without a leading "www."
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return siteHost(u)
}

func siteHost(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

// SameSite reports whether a and b live on the same site. "www." is ignored.
func SameSite(a, b string) bool {
	ha, hb := Host(a), Host(b)
	return ha != "" && ha == hb
}

// IsSitemapURL reports whether the URL path looks like a sitemap
func IsSitemapURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Path), "sitemap")
}

func isTextURL(u *url.URL) bool {
	return textExtensions[strings.ToLower(path.Ext(u.Path))]
}

// ShouldSkip reports whether a discovered link should never be crawled
func ShouldSkip(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range []string{"mailto:", "tel:", "javascript:", "file:", "data:", "ftp:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if skippedExtensions[ext] && !(ext == ".xml" && IsSitemapURL(raw)) {
		return true
	}
	q := strings.ToLower(u.RawQuery)
	return strings.Contains(q, "download") || strings.Contains(q, "attachment")
}

// resolveLink turns an href found on base into an absolute same-site URL
func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || ShouldSkip(href) {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if siteHost(abs) != siteHost(base) {
		return "", false
	}
	if ShouldSkip(abs.String()) {
		return "", false
	}
	return normalized(abs), true
}

// titleFromURL falls back to the last path segment, then the host
func titleFromURL(u *url.URL) string {
	segment := path.Base(strings.TrimRight(u.Path, "/"))
	if segment != "" && segment != "." && segment != "/" {
		segment = strings.TrimSuffix(segment, path.Ext(segment))
		segment = strings.NewReplacer("-", " ", "_", " ").Replace(segment)
		if unescaped, err := url.PathUnescape(segment); err == nil {
			segment = unescaped
		}
		if segment != "" {
			return segment
		}
	}
	return u.Hostname()
}
