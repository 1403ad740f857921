package types

// RetrievedChunk is a chunk returned from a namespace search with its score
type RetrievedChunk struct {
	// Identification
	ChunkID int64
	Rank    int // Position in result set (1-based)

	// Scoring
	RelevanceScore float64 // Cosine similarity clamped to [0, 1]

	Chunk Chunk
}

// Validate checks if the retrieved chunk is valid
func (r *RetrievedChunk) Validate() error {
	if r.ChunkID == 0 {
		return ErrInvalidChunkID
	}

	if r.Rank < 1 {
		return ErrInvalidRank
	}

	if r.RelevanceScore < 0 || r.RelevanceScore > 1 {
		return ErrInvalidRelevanceScore
	}

	return r.Chunk.Validate()
}

// Citation is a source reference attached to a generated answer
type Citation struct {
	Title string
	URL   string
}

// String renders the citation as "Title (URL)"
func (c Citation) String() string {
	if c.Title == "" {
		return c.URL
	}
	return c.Title + " (" + c.URL + ")"
}
