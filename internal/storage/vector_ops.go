package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// chunkSelect reads the chunk columns scanned by scanChunk. The first placeholder
// belongs to the caller's similarity expression.
const chunkSelect = `
	SELECT
		c.id, %s,
		c.chunk_index, c.text, c.source_url, c.title, c.header_path,
		c.word_count, c.char_count, c.content_hash
	FROM chunks c
	INNER JOIN namespaces n ON n.namespace = c.namespace AND n.active_generation = c.generation
	WHERE c.namespace = ?
`

// searchVector performs vector similarity search over the active generation of
// a namespace. Ties are broken by insertion order.
func searchVector(ctx context.Context, db *sql.DB, namespace string, queryVector []float32, limit int) ([]VectorResult, error) {
	if limit <= 0 || len(queryVector) == 0 {
		return []VectorResult{}, nil
	}
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, namespace, queryVector, limit)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, db, namespace, queryVector, limit)
}

// searchVectorOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorOptimized(ctx context.Context, db *sql.DB, namespace string, queryVector []float32, limit int) ([]VectorResult, error) {
	// vec_distance_cosine returns distance (lower is better)
	query := fmt.Sprintf(chunkSelect, "1.0 - vec_distance_cosine(c.vector, ?) AS similarity") + `
		AND c.dimension = ?
		ORDER BY similarity DESC, c.id ASC
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query, serializeVector(queryVector), namespace, len(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var result VectorResult
		if err := scanChunk(rows, &result, &result.SimilarityScore); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// searchVectorFallback performs vector search using Go-based cosine similarity computation
func searchVectorFallback(ctx context.Context, db *sql.DB, namespace string, queryVector []float32, limit int) ([]VectorResult, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(chunkSelect, "c.vector")+" ORDER BY c.id", namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]VectorResult, 0, 256)
	for rows.Next() {
		var result VectorResult
		var blob []byte
		if err := scanChunk(rows, &result, &blob); err != nil {
			return nil, err
		}
		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}
		result.SimilarityScore = cosineSimilarity(queryVector, vector)
		candidates = append(candidates, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// scanChunk scans a chunkSelect row; score receives the second column
func scanChunk(rows *sql.Rows, result *VectorResult, score interface{}) error {
	var (
		title   sql.NullString
		headers string
		hash    []byte
	)
	ch := &result.Chunk
	err := rows.Scan(&result.ChunkID, score, &ch.ChunkIndex, &ch.Text, &ch.SourceURL, &title,
		&headers, &ch.WordCount, &ch.CharCount, &hash)
	if err != nil {
		return fmt.Errorf("failed to scan result: %w", err)
	}
	ch.Title = title.String
	if err := json.Unmarshal([]byte(headers), &ch.HeaderPath); err != nil {
		return fmt.Errorf("chunk %d: corrupt header path: %w", result.ChunkID, err)
	}
	copy(ch.ContentHash[:], hash)
	return nil
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortCandidates orders by score descending, then by chunk id ascending
func sortCandidates(candidates []VectorResult) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].SimilarityScore != candidates[j].SimilarityScore {
			return candidates[i].SimilarityScore > candidates[j].SimilarityScore
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
}
