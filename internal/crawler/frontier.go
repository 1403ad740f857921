package crawler

import (
	"github.com/dshills/sitekb-mcp/internal/extractor"
)

// frontier is the FIFO queue of URLs still to visit. It is owned by the
// coordinator goroutine and is not safe for concurrent use.
type frontier struct {
	queue   []job
	visited map[string]bool
	hosts   map[string]bool
}

func newFrontier(seeds []string) *frontier {
	f := &frontier{
		visited: make(map[string]bool),
		hosts:   make(map[string]bool),
	}
	for _, s := range seeds {
		if h := extractor.Host(s); h != "" {
			f.hosts[h] = true
		}
	}
	return f
}

// push enqueues raw at depth unless it was seen before or cannot be crawled
func (f *frontier) push(raw string, depth int) {
	if extractor.ShouldSkip(raw) {
		return
	}
	u, err := extractor.NormalizeURL(raw)
	if err != nil || f.visited[u] {
		return
	}
	f.visited[u] = true
	f.queue = append(f.queue, job{url: u, depth: depth})
}

func (f *frontier) peek() (job, bool) {
	if len(f.queue) == 0 {
		return job{}, false
	}
	return f.queue[0], true
}

func (f *frontier) pop() {
	if len(f.queue) > 0 {
		f.queue[0] = job{}
		f.queue = f.queue[1:]
	}
}

func (f *frontier) isSitemap(u string) bool {
	return extractor.IsSitemapURL(u)
}

// allowed reports whether u belongs to one of the seed sites
func (f *frontier) allowed(u string) bool {
	return f.hosts[extractor.Host(u)]
}

// discovered is the number of distinct URLs ever queued
func (f *frontier) discovered() int {
	return len(f.visited)
}
