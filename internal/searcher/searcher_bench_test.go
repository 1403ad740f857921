package searcher

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkSearch(b *testing.B) {
	search, store, _ := setupTestSearcher(b)
	texts := make([]string, 300)
	for i := range texts {
		texts[i] = fmt.Sprintf("passage %d about product %d and feature %d", i, i%17, i%29)
	}
	indexTexts(b, store, "bench", texts...)
	ctx := context.Background()

	b.Run("NoCache", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := search.Search(ctx, SearchRequest{Namespace: "bench", Query: "product 3 feature 7"}); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Cached", func(b *testing.B) {
		req := SearchRequest{Namespace: "bench", Query: "product 3 feature 7", UseCache: true}
		for i := 0; i < b.N; i++ {
			if _, err := search.Search(ctx, req); err != nil {
				b.Fatal(err)
			}
		}
	})
}
