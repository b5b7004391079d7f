package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// LocalProvider produces deterministic unit-length vectors derived from a
// content hash. It has no semantic value and exists for tests, offline
// development, and smoke deployments without an embedding service.
type LocalProvider struct {
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a local embedder with the given dimension.
func NewLocalProvider(dimension int, cache *Cache) *LocalProvider {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &LocalProvider{dimension: dimension, cache: cache}
}

func (l *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ComputeHash(l.Model(), text)
	if l.cache != nil {
		if v, ok := l.cache.Get(hash); ok {
			return v, nil
		}
	}

	vector := hashVector(text, l.dimension)
	if l.cache != nil {
		l.cache.Set(hash, vector)
	}
	return vector, nil
}

func (l *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateBatch(texts, 0); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := l.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Model() string {
	return "local-hash"
}

func (l *LocalProvider) Available(ctx context.Context) bool {
	return true
}

func (l *LocalProvider) Close() error {
	return nil
}

// hashVector expands a SHA-256 chain over the text into a normalized vector.
// Identical text always maps to the identical vector.
func hashVector(text string, dimension int) []float32 {
	vector := make([]float32, dimension)
	seed := sha256.Sum256([]byte(text))
	var counter [8]byte
	var sum float64
	for i := 0; i < dimension; i += 8 {
		binary.LittleEndian.PutUint64(counter[:], uint64(i))
		block := sha256.Sum256(append(seed[:], counter[:]...))
		for j := 0; j < 8 && i+j < dimension; j++ {
			bits := binary.LittleEndian.Uint32(block[j*4:])
			// Map to (-1, 1)
			v := float64(bits)/float64(math.MaxUint32)*2 - 1
			vector[i+j] = float32(v)
			sum += v * v
		}
	}
	if sum > 0 {
		inv := float32(1 / math.Sqrt(sum))
		for i := range vector {
			vector[i] *= inv
		}
	}
	return vector
}
