// Package config provides configuration loading and structs for the recall server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smancode/recall/pkg/types"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reranker  RerankerConfig  `yaml:"reranker"`
	Search    SearchConfig    `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the data directory and cache sizing.
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	HotCacheSize int    `yaml:"hot_cache_size"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`
	TimeoutMs int    `yaml:"timeout_ms"`
	CacheSize int    `yaml:"cache_size"`
}

// RerankerConfig holds cross-encoder settings. An empty endpoint list
// disables reranking entirely.
type RerankerConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Model     string   `yaml:"model"`
	APIKey    string   `yaml:"api_key"`
	TimeoutMs int      `yaml:"timeout_ms"`
	MaxRounds int      `yaml:"max_rounds"`
}

// SearchConfig holds index tuning and ranking settings.
type SearchConfig struct {
	M                 int     `yaml:"m"`
	EfConstruction    int     `yaml:"ef_construction"`
	EfSearch          int     `yaml:"ef_search"`
	RerankerThreshold float64 `yaml:"reranker_threshold"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a fully defaulted configuration rooted at dataDir.
func Default(dataDir string) *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	return cfg
}

// ApplyDefaults fills in zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8432
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.HotCacheSize == 0 {
		cfg.Storage.HotCacheSize = 500
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "http"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "bge-m3"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 1024
	}
	if cfg.Embedding.TimeoutMs == 0 {
		cfg.Embedding.TimeoutMs = 30000
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Reranker.TimeoutMs == 0 {
		cfg.Reranker.TimeoutMs = 30000
	}
	if cfg.Reranker.MaxRounds == 0 {
		cfg.Reranker.MaxRounds = 2
	}
	if cfg.Search.M == 0 {
		cfg.Search.M = 16
	}
	if cfg.Search.EfConstruction == 0 {
		cfg.Search.EfConstruction = 100
	}
	if cfg.Search.EfSearch == 0 {
		cfg.Search.EfSearch = 50
	}
	if cfg.Search.RerankerThreshold == 0 {
		cfg.Search.RerankerThreshold = 0.3
	}
}

// Validate rejects configurations the components downstream would refuse
// anyway, so the failure happens at startup with a readable message.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", types.ErrConfigInvalid, c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("%w: storage data_dir is required", types.ErrConfigInvalid)
	}
	if c.Storage.HotCacheSize < 1 {
		return fmt.Errorf("%w: hot_cache_size must be positive", types.ErrConfigInvalid)
	}
	switch c.Embedding.Provider {
	case "http":
		if c.Embedding.BaseURL == "" {
			return fmt.Errorf("%w: embedding base_url is required with the http provider", types.ErrConfigInvalid)
		}
	case "local":
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", types.ErrConfigInvalid, c.Embedding.Provider)
	}
	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("%w: embedding dimension must be positive", types.ErrConfigInvalid)
	}
	return nil
}

// EmbeddingTimeout returns the embedding timeout as a duration.
func (c *Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutMs) * time.Millisecond
}

// RerankerTimeout returns the reranker timeout as a duration.
func (c *Config) RerankerTimeout() time.Duration {
	return time.Duration(c.Reranker.TimeoutMs) * time.Millisecond
}

// RerankerEnabled reports whether any cross-encoder endpoint is configured.
func (c *Config) RerankerEnabled() bool {
	return len(c.Reranker.Endpoints) > 0
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are left alone.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	return path
}
