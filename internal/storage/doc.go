// Package storage provides SQLite-based persistence for tenants and their
// vector namespaces.
//
// The storage layer manages:
//   - Tenant records and knowledge base build state
//   - Documents uploaded for a tenant
//   - Embedded chunks, grouped into per-tenant namespaces
//
// # Database Schema
//
// Tables:
//   - tenants: name, seed URLs, ai_enabled, build status and progress
//   - uploads: uploaded documents, unique per tenant and name
//   - namespaces: active and last allocated generation per namespace
//   - chunks: chunk text, provenance and vector, keyed by namespace and generation
//
// # Generations
//
// A rebuild never edits the rows that answer queries. It stages a new
// generation and swaps it in with a single transaction:
//
//	gen, err := db.BeginGeneration(ctx, ns) // drops any abandoned stage
//	if err != nil {
//	    return err
//	}
//	for batch := range batches {
//	    if err := db.InsertChunks(ctx, ns, gen, batch); err != nil {
//	        return err // the live generation is untouched
//	    }
//	}
//	count, err := db.ActivateGeneration(ctx, ns, gen)
//
// Searches and counts only see the active generation, so readers observe
// either the old knowledge base or the new one, never a mix.
//
// # Vector Search
//
//	results, err := db.SearchNamespace(ctx, ns, queryVector, 5)
//
// Results are ordered by cosine similarity, ties by insertion order.
//
// # Build Modes
//
// The default (purego) build uses modernc.org/sqlite and ranks vectors in Go.
// Building with -tags sqlite_vec uses github.com/mattn/go-sqlite3 and lets the
// sqlite-vec extension rank inside the database.
package storage
