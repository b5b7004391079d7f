package index

import (
	"fmt"
	"math"

	"github.com/smancode/recall/pkg/types"
)

// Parameter bounds. Values outside these ranges are a construction-time
// failure, never a silent clamp.
const (
	MinM              = 8
	MaxM              = 32
	MinEfConstruction = 50
	MaxEfConstruction = 200
	MinEfSearch       = 20
	MaxEfSearch       = 100
)

// Config contains the tuning parameters for a project's HNSW index.
type Config struct {
	Dimension         int     // Embedding dimension, fixed per project
	M                 int     // Max connections per node per layer
	EfConstruction    int     // Candidate breadth during build
	EfSearch          int     // Candidate breadth during query
	RerankerThreshold float64 // Default similarity floor for searches
}

// DefaultConfig returns the fast-preset defaults: good latency at acceptable
// recall for corpora in the tens of thousands of vectors.
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:         dimension,
		M:                 16,
		EfConstruction:    100,
		EfSearch:          50,
		RerankerThreshold: 0.3,
	}
}

// Validate checks every field against its documented range.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", types.ErrConfigInvalid, c.Dimension)
	}
	if c.M < MinM || c.M > MaxM {
		return fmt.Errorf("%w: M must be in [%d, %d], got %d", types.ErrConfigInvalid, MinM, MaxM, c.M)
	}
	if c.EfConstruction < MinEfConstruction || c.EfConstruction > MaxEfConstruction {
		return fmt.Errorf("%w: efConstruction must be in [%d, %d], got %d",
			types.ErrConfigInvalid, MinEfConstruction, MaxEfConstruction, c.EfConstruction)
	}
	if c.EfSearch < MinEfSearch || c.EfSearch > MaxEfSearch {
		return fmt.Errorf("%w: efSearch must be in [%d, %d], got %d",
			types.ErrConfigInvalid, MinEfSearch, MaxEfSearch, c.EfSearch)
	}
	if c.RerankerThreshold < 0.0 || c.RerankerThreshold > 1.0 {
		return fmt.Errorf("%w: rerankerThreshold must be in [0.0, 1.0], got %g",
			types.ErrConfigInvalid, c.RerankerThreshold)
	}
	return nil
}

// levelMultiplier is the 1/ln(M) factor used for random level assignment.
func (c Config) levelMultiplier() float64 {
	return 1.0 / math.Log(float64(c.M))
}
