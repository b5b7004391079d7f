// Package types provides shared type definitions for the recall retrieval engine.
//
// This package defines domain types used across multiple components of recall:
// vector records and their artifact kinds, search requests and results, and the
// error taxonomy surfaced to callers.
//
// # Core Types
//
// VectorRecord is the canonical unit of indexed data. Each record pairs one
// embedding with the metadata needed to return it as a search result:
//
//	rec := &types.VectorRecord{
//	    ProjectKey: "billing-service",
//	    Kind:       types.KindCode,
//	    SourceRef:  "com.acme.billing.InvoiceService#createInvoice",
//	    Embedding:  vec,
//	    Payload:    methodSummary,
//	}
//
// Records are immutable once written: re-embedding an updated source creates a
// new record and tombstones the old one, it never mutates in place.
//
// # Search Results
//
// SearchResult carries a similarity score normalized to [0, 1], with higher
// values indicating better matches, plus an optional rerank score when the
// cross-encoder stage ran:
//
//	result := types.SearchResult{
//	    SourceRef: "com.acme.billing.InvoiceService#createInvoice",
//	    Kind:      types.KindCode,
//	    Score:     0.92,
//	}
//
// Within one result list, ordering is by rerank score when reranking ran, else
// by vector similarity, descending; ties break by record ID ascending so that
// identical queries always return identical orderings.
package types
