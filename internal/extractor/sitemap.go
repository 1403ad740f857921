package extractor

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// sitemapDocument matches both <urlset> and <sitemapindex>; encoding/xml matches
// local names so the sitemaps.org namespace needs no special handling.
type sitemapDocument struct {
	XMLName  xml.Name
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// parseSitemap returns at most limit absolute http(s) URLs listed in body
func parseSitemap(body []byte, limit int) ([]string, error) {
	var doc sitemapDocument
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: sitemap: %v", ErrUnparseable, err)
	}

	switch doc.XMLName.Local {
	case "urlset", "sitemapindex":
	default:
		return nil, fmt.Errorf("%w: unexpected sitemap root <%s>", ErrUnparseable, doc.XMLName.Local)
	}

	entries := make([]sitemapLoc, 0, len(doc.Sitemaps)+len(doc.URLs))
	entries = append(entries, doc.Sitemaps...)
	entries = append(entries, doc.URLs...)

	seen := make(map[string]bool)
	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		if limit > 0 && len(urls) >= limit {
			break
		}
		loc := strings.TrimSpace(e.Loc)
		if loc == "" || seen[loc] {
			continue
		}
		if err := ValidateSeed(loc); err != nil {
			continue
		}
		seen[loc] = true
		urls = append(urls, loc)
	}
	return urls, nil
}
