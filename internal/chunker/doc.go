// Package chunker divides page text into passages for embedding and search.
//
// Chunks are created at header boundaries so each passage stays about one topic
// and can be cited by its header breadcrumb.
//
// # Basic Usage
//
//	c := chunker.New(chunker.WithMaxWords(300), chunker.WithOverlap(40))
//	chunks := c.Chunk(chunker.Document{
//	    URL:   "https://acme.test/pricing",
//	    Title: "Pricing",
//	    Text:  text,
//	})
//
//	for _, chunk := range chunks {
//	    fmt.Printf("%d: %s (%d words)\n", chunk.ChunkIndex, chunk.Citation(), chunk.WordCount)
//	}
//
// # Chunking Strategy
//
// The chunker walks the text keeping a stack of active headers (H1..H6). A
// header of the same or a higher level closes the chunk collected under the
// previous path:
//
//	# Pricing          -> path [Pricing]
//	## Starter         -> path [Pricing, Starter]
//	## Enterprise      -> path [Pricing, Enterprise]
//
// A section longer than the word limit is cut into windows that repeat the last
// Overlap words of the previous window. Text with no headers at all is windowed
// the same way over its whole length. A final rune-level cut enforces the
// character cap for pathological input such as one very long token.
//
// Header lines inside fenced code blocks are not treated as headers.
package chunker
