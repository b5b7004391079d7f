package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smancode/recall/pkg/types"
)

const (
	// DefaultModel is the embedding model assumed when none is configured.
	DefaultModel = "bge-m3"

	// DefaultDimension matches the BGE-M3 output width.
	DefaultDimension = 1024

	// MaxBatchSize bounds one upstream call; larger ingests are split by
	// the caller.
	MaxBatchSize = 10

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
	Timeout   time.Duration
	Cache     *Cache
}

// HTTPProvider implements Embedder against an OpenAI-compatible
// /v1/embeddings endpoint.
type HTTPProvider struct {
	baseURL    string
	model      string
	apiKey     string
	dimension  int
	httpClient *http.Client
	cache      *Cache
}

// NewHTTPProvider creates an embedder for the given endpoint.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: embedder base URL is required", types.ErrConfigInvalid)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      model,
		apiKey:     cfg.APIKey,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cfg.Cache,
	}, nil
}

func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(p.model, text)
	if p.cache != nil {
		if v, ok := p.cache.Get(hash); ok {
			return v, nil
		}
	}

	// Use the batch path for a single wire format
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateBatch(texts, MaxBatchSize); err != nil {
		return nil, err
	}

	// Serve whatever the cache already has; only misses go upstream.
	vectors := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if p.cache != nil {
			if v, ok := p.cache.Get(ComputeHash(p.model, text)); ok {
				vectors[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return vectors, nil
	}

	fetched, err := retryWithBackoff(ctx, DefaultRetryConfig(), func() ([][]float32, error) {
		return p.callAPI(ctx, missTexts)
	})
	if err != nil {
		return nil, fmt.Errorf("embedding batch: %w", err)
	}

	for j, v := range fetched {
		i := missIdx[j]
		vectors[i] = v
		if p.cache != nil {
			p.cache.Set(ComputeHash(p.model, texts[i]), v)
		}
	}
	return vectors, nil
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": p.model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	// The service echoes an index per row; trust it over response order.
	vectors := make([][]float32, len(texts))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		if len(data.Embedding) != p.dimension {
			return nil, fmt.Errorf("%w: expected dimension %d, got %d",
				types.ErrDimensionMismatch, p.dimension, len(data.Embedding))
		}
		vectors[data.Index] = data.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return vectors, nil
}

// Available probes the service's health route.
func (p *HTTPProvider) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (p *HTTPProvider) Dimension() int {
	return p.dimension
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
