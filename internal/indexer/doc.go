// Package indexer writes embedded chunks into a tenant's vector namespace.
//
// A rebuild is three calls. BeginRebuild stages a fresh generation,
// IndexBatches embeds and stores batches as they arrive, and Commit swaps the
// generation in:
//
//	idx := indexer.New(store, emb, indexer.Config{BatchSize: 100})
//
//	gen, err := idx.BeginRebuild(ctx, ns)
//	if err != nil {
//	    return err
//	}
//	stats, err := idx.IndexBatches(ctx, ns, gen, batches, func(r indexer.BatchResult) {
//	    log.Printf("stored %d chunks", r.ChunksIndexed)
//	})
//	if err != nil {
//	    return err // the previous knowledge base is still live
//	}
//	count, err := idx.Commit(ctx, ns, gen)
//
// IndexBatches is the single consumer of the batch channel. Every batch is
// embedded with the document task (breadcrumb followed by body) and written in
// one transaction before the next batch is read, so stored rows follow the
// order chunks were produced in.
//
// # Errors
//
// Embedding calls run under a per-batch timeout and are retried with
// exponential backoff. When the retry budget is spent the run stops with
// ErrEmbeddingUnavailable. Storage failures stop it with ErrNamespaceWrite.
// Cancellation returns the context error.
package indexer
