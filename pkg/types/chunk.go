package types

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
)

// UploadScheme prefixes the source URL of chunks that come from uploaded documents.
const UploadScheme = "upload://"

// Chunk is a bounded passage of page text plus the structure it was found under
type Chunk struct {
	// Content
	Text        string
	ContentHash [32]byte // SHA-256 of Text
	WordCount   int
	CharCount   int

	// Provenance
	SourceURL  string
	Title      string
	HeaderPath []string // Enclosing headers, outermost first
	ChunkIndex int      // Position within the source document
}

// Validate checks the chunk invariants
func (c *Chunk) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return ErrEmptyContent
	}
	if c.SourceURL == "" {
		return ErrMissingSourceURL
	}
	if c.ChunkIndex < 0 {
		return errors.New("chunk index must be >= 0")
	}
	return nil
}

// ComputeContentHash computes the SHA-256 hash of the chunk text
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Text))
}

// ComputeCounts fills WordCount and CharCount from Text
func (c *Chunk) ComputeCounts() {
	c.WordCount = len(strings.Fields(c.Text))
	c.CharCount = len([]rune(c.Text))
}

// Breadcrumb renders the page title followed by the header path,
// e.g. "Pricing > Plans > Enterprise".
func (c *Chunk) Breadcrumb() string {
	parts := make([]string, 0, len(c.HeaderPath)+1)
	if c.Title != "" {
		parts = append(parts, c.Title)
	}
	for _, h := range c.HeaderPath {
		if h == "" || (len(parts) > 0 && parts[len(parts)-1] == h) {
			continue
		}
		parts = append(parts, h)
	}
	return strings.Join(parts, " > ")
}

// Citation renders a human readable source reference. The URL is always present.
func (c *Chunk) Citation() string {
	crumb := c.Breadcrumb()
	if crumb == "" {
		return c.SourceURL
	}
	return fmt.Sprintf("%s (%s)", crumb, c.SourceURL)
}

// EmbeddingText is the text sent to the embedding model: breadcrumb then body
func (c *Chunk) EmbeddingText() string {
	crumb := c.Breadcrumb()
	if crumb == "" {
		return c.Text
	}
	return crumb + "\n\n" + c.Text
}

// IsUpload reports whether the chunk came from an uploaded document
func (c *Chunk) IsUpload() bool {
	return strings.HasPrefix(c.SourceURL, UploadScheme)
}
