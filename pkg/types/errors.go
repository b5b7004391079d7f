package types

import "errors"

// Error taxonomy shared across the engine. Callers match with errors.Is;
// packages wrap these with context via fmt.Errorf("...: %w", ...).
var (
	// ErrConfigInvalid marks a construction-time configuration failure.
	// Fatal: the affected project index refuses to start.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrStorageFault marks a failed durable write. The upsert is not
	// considered applied and the index is left untouched.
	ErrStorageFault = errors.New("storage fault")

	// ErrIndexUnavailable marks a project index that failed to load or
	// rebuild. Searches fail fast instead of silently returning empty.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrUpstreamUnavailable marks an external service (embedding or rerank)
	// that exhausted its retry budget. Recoverable: queries degrade rerank,
	// ingestion reports per-record failures.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrDimensionMismatch marks an embedding whose length differs from the
	// project's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")
)
