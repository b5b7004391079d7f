// Package embedder turns text into dense vectors through a pluggable
// provider interface. The HTTP provider speaks the OpenAI-compatible
// /v1/embeddings wire format served by BGE-M3 deployments; the local
// provider produces deterministic hash-derived vectors and exists for tests
// and offline development.
//
// Providers share an LRU cache keyed by content hash, so re-embedding the
// same payload is free. Transient upstream failures are retried with
// bounded exponential backoff before the error is surfaced as
// types.ErrUpstreamUnavailable.
package embedder
