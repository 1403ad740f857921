// Package extractor fetches a single URL and turns it into crawlable text.
//
// Every URL is classified before its text is used:
//
//  1. A path containing "sitemap" is parsed as a sitemap (urlset or
//     sitemapindex) and its listed URLs are returned instead of text.
//  2. A .md, .markdown or .txt path, or a text/plain or text/markdown
//     response, is kept as already-structured text.
//  3. Anything served as HTML is parsed with golang.org/x/net/html. Navigation
//     and other boilerplate is dropped, <main> or <article> is preferred when
//     present, and h1..h6 become "#" header lines the chunker splits on.
//
// Timeouts, 429 and 5xx responses are retried with backoff and then reported as
// ErrTransient. Other failures are ErrHTTPStatus, ErrUnsupportedContent or
// ErrUnparseable. The crawler records and skips all of them.
package extractor
