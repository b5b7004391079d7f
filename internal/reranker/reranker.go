// Package reranker scores query/document pairs with a cross-encoder service.
// Multiple endpoints are rotated round-robin; a request that fails on one
// endpoint moves to the next, and only after the configured number of full
// passes over the pool does the client give up.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/smancode/recall/pkg/types"
)

const (
	// DefaultModel is the cross-encoder model requested when none is set.
	DefaultModel = "bge-reranker-v2-m3"

	// DefaultMaxRounds is how many full passes over the endpoint pool are
	// attempted before the request fails.
	DefaultMaxRounds = 2
)

// Config configures a Client.
type Config struct {
	Endpoints []string
	Model     string
	APIKey    string
	Timeout   time.Duration
	MaxRounds int
}

// Client is a round-robin cross-encoder client. Safe for concurrent use.
type Client struct {
	endpoints  []string
	model      string
	apiKey     string
	maxRounds  int
	httpClient *http.Client
	next       atomic.Uint64
}

// New creates a reranker client. At least one endpoint is required.
func New(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: at least one reranker endpoint is required", types.ErrConfigInvalid)
	}
	endpoints := make([]string, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		if ep == "" {
			return nil, fmt.Errorf("%w: reranker endpoint %d is empty", types.ErrConfigInvalid, i)
		}
		endpoints[i] = strings.TrimRight(ep, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoints:  endpoints,
		model:      model,
		apiKey:     cfg.APIKey,
		maxRounds:  maxRounds,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Rerank scores every document against the query and returns the scores in
// document order. Endpoints are tried round-robin until one answers or
// MaxRounds passes over the pool are exhausted.
func (c *Client) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return []float64{}, nil
	}

	attempts := c.maxRounds * len(c.endpoints)
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		endpoint := c.endpoints[c.next.Add(1)%uint64(len(c.endpoints))]
		scores, err := c.callEndpoint(ctx, endpoint, query, documents)
		if err == nil {
			return scores, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: reranking after %d attempts: %v",
		types.ErrUpstreamUnavailable, attempts, lastErr)
}

func (c *Client) callEndpoint(ctx context.Context, endpoint, query string, documents []string) ([]float64, error) {
	reqBody := map[string]interface{}{
		"model":     c.model,
		"query":     query,
		"documents": documents,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
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
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Results) != len(documents) {
		return nil, fmt.Errorf("expected %d scores, got %d", len(documents), len(apiResp.Results))
	}

	scores := make([]float64, len(documents))
	seen := make([]bool, len(documents))
	for _, r := range apiResp.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("score index %d out of range", r.Index)
		}
		scores[r.Index] = r.RelevanceScore
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("missing score for document %d", i)
		}
	}
	return scores, nil
}

// Available reports whether any endpoint in the pool answers its health
// route.
func (c *Client) Available(ctx context.Context) bool {
	for _, endpoint := range c.endpoints {
		req, err := http.NewRequestWithContext(ctx, "GET", endpoint+"/health", nil)
		if err != nil {
			continue
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}
	return false
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
