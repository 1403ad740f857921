// Package searcher answers top-k similarity queries against a tenant namespace.
//
// The query is embedded with the query task of the same embedder that indexed
// the namespace, then compared against every chunk of the active generation:
//
//	s := searcher.NewSearcher(store, emb, 1000)
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Namespace: "company_7_acme_corp",
//	    Query:     "What are your opening hours?",
//	    Limit:     5,
//	    UseCache:  true,
//	})
//	for _, r := range resp.Results {
//	    fmt.Printf("%d. %.2f %s\n", r.Rank, r.RelevanceScore, r.Chunk.Citation())
//	}
//
// Results are ordered by cosine similarity. Equal scores keep the order the
// chunks were indexed in, so the same query over the same generation always
// returns the same list. Scores are clamped to [0, 1].
//
// # Caching
//
// Responses are kept in an LRU cache keyed by namespace, generation, query and
// limit. Activating a rebuild changes the generation, so stale entries are never
// served; InvalidateNamespace frees them early.
package searcher
