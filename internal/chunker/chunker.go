package chunker

import (
	"strings"

	"github.com/dshills/sitekb-mcp/internal/extractor"
	"github.com/dshills/sitekb-mcp/pkg/types"
)

const (
	// DefaultMaxWords is the target maximum word count per chunk
	DefaultMaxWords = 300

	// DefaultOverlap is the number of words repeated between consecutive windows
	DefaultOverlap = 40

	// DefaultMaxChars is the hard size cap applied after word splitting
	DefaultMaxChars = 2400
)

// Document is the input of the chunker: one page or uploaded file
type Document struct {
	URL   string
	Title string
	Text  string // Markdown-style text; "#" lines are headers
}

// Chunker splits documents into header-scoped passages
type Chunker struct {
	maxWords int
	overlap  int
	maxChars int
}

// Option configures a Chunker
type Option func(*Chunker)

// WithMaxWords sets the maximum words per chunk
func WithMaxWords(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxWords = n
		}
	}
}

// WithOverlap sets the words carried between consecutive windows
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// WithMaxChars sets the hard character cap of a chunk
func WithMaxChars(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// New creates a Chunker. Overlap is clamped to a quarter of the window.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxWords: DefaultMaxWords,
		overlap:  DefaultOverlap,
		maxChars: DefaultMaxChars,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap > c.maxWords/4 {
		c.overlap = c.maxWords / 4
	}
	return c
}

// section is the body text found under one header path
type section struct {
	path []string
	body []string
}

type header struct {
	level int
	text  string
}

// Chunk splits doc into ordered chunks. Chunk boundaries always fall on header
// transitions; sections longer than the word limit are windowed with overlap, and
// text without any header is windowed as a whole.
func (c *Chunker) Chunk(doc Document) []types.Chunk {
	sections := splitSections(doc.Text)

	chunks := make([]types.Chunk, 0, len(sections))
	for _, sec := range sections {
		for _, text := range c.splitSection(sec.body) {
			chunk := types.Chunk{
				Text:       text,
				SourceURL:  doc.URL,
				Title:      doc.Title,
				HeaderPath: sec.path,
				ChunkIndex: len(chunks),
			}
			chunk.ComputeCounts()
			chunk.ComputeContentHash()
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// splitSections walks the lines keeping a stack of active headers. A header
// closes the section accumulated under the previous path.
func splitSections(text string) []section {
	var (
		sections []section
		stack    []header
		body     []string
		inFence  bool
	)

	flush := func() {
		if strings.TrimSpace(strings.Join(body, "\n")) == "" {
			body = body[:0]
			return
		}
		path := make([]string, len(stack))
		for i, h := range stack {
			path[i] = h.text
		}
		sections = append(sections, section{path: path, body: append([]string(nil), body...)})
		body = body[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence {
			if level, title, ok := extractor.ParseHeading(trimmed); ok {
				flush()
				for len(stack) > 0 && stack[len(stack)-1].level >= level {
					stack = stack[:len(stack)-1]
				}
				stack = append(stack, header{level: level, text: title})
				continue
			}
		}
		body = append(body, line)
	}
	flush()
	return sections
}

// splitSection returns the passages of one section body
func (c *Chunker) splitSection(body []string) []string {
	text := strings.TrimSpace(strings.Join(body, "\n"))
	if text == "" {
		return nil
	}

	words := strings.Fields(text)
	var pieces []string
	if len(words) <= c.maxWords {
		pieces = []string{text}
	} else {
		pieces = windows(words, c.maxWords, c.overlap)
	}

	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, splitRunes(p, c.maxChars)...)
	}
	return out
}

// windows splits words into windows of size words, each starting overlap words
// before the end of the previous one
func windows(words []string, size, overlap int) []string {
	step := size - overlap
	if step < 1 {
		step = 1
	}
	var out []string
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

// splitRunes cuts s into pieces of at most max runes, preferring whitespace
func splitRunes(s string, max int) []string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return []string{s}
	}
	var out []string
	for len(runes) > 0 {
		if len(runes) <= max {
			out = append(out, strings.TrimSpace(string(runes)))
			break
		}
		cut := max
		for i := max; i > max/2; i-- {
			if runes[i] == ' ' || runes[i] == '\n' {
				cut = i
				break
			}
		}
		if piece := strings.TrimSpace(string(runes[:cut])); piece != "" {
			out = append(out, piece)
		}
		runes = runes[cut:]
	}
	return out
}
