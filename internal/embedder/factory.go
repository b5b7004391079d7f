package embedder

import (
	"fmt"
	"strings"
	"time"

	"github.com/smancode/recall/pkg/types"
)

// Provider names accepted in configuration.
const (
	ProviderHTTP  = "http"
	ProviderLocal = "local"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
	Timeout   time.Duration
	CacheSize int
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderHTTP, "":
		return NewHTTPProvider(HTTPConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
			Cache:     cache,
		})
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", types.ErrConfigInvalid, cfg.Provider)
	}
}
