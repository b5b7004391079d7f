package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyText     = errors.New("text cannot be empty")
	ErrBatchTooLarge = errors.New("batch size exceeds limit")
)

// Embedder generates dense vectors for text. Implementations must be safe
// for concurrent use.
type Embedder interface {
	// Embed generates a single embedding for the given text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one upstream call
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Model returns the model name
	Model() string

	// Available reports whether the provider can serve requests right now
	Available(ctx context.Context) bool

	// Close releases any resources held by the embedder
	Close() error
}

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000 // Default: cache 10k embeddings
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		// Should never happen with positive size, but fallback to default
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{
		cache: cache,
	}
}

// Get retrieves a deep copy of an embedding from cache
// Returns a copy to prevent caller mutations from affecting cached values
func (c *Cache) Get(hash string) ([]float32, bool) {
	v, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores an embedding in cache with automatic LRU eviction
func (c *Cache) Set(hash string, vector []float32) {
	stored := make([]float32, len(vector))
	copy(stored, vector)
	c.cache.Add(hash, stored)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes SHA-256 hash of model and text for caching
func ComputeHash(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// validateBatch rejects empty batches and empty members before any
// upstream call is made.
func validateBatch(texts []string, maxBatch int) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	if maxBatch > 0 && len(texts) > maxBatch {
		return fmt.Errorf("%w: max %d texts allowed, got %d", ErrBatchTooLarge, maxBatch, len(texts))
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}
