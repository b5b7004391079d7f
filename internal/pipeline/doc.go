// Package pipeline composes the embedder, the tiered store, and the
// cross-encoder into the two top-level flows: answering a search and
// ingesting documents.
//
// A search is two-stage when reranking is on: the store is oversampled by
// vector similarity, then the cross-encoder re-scores the survivors. The
// cross-encoder is strictly optional at runtime; if it fails, the search
// degrades to vector ranking and says so in the response instead of
// failing. Only the query embedding is load-bearing, since without it there
// is nothing to search with.
package pipeline
