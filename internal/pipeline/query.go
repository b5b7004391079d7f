package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/smancode/recall/internal/catalog"
	"github.com/smancode/recall/internal/embedder"
	"github.com/smancode/recall/internal/reranker"
	"github.com/smancode/recall/internal/store"
	"github.com/smancode/recall/pkg/types"
)

const (
	// DefaultTopK is the result width when the request leaves it unset.
	DefaultTopK = 10

	// MaxTopK caps the result width a single request may ask for.
	MaxTopK = 100

	// DefaultOversample is how many vector candidates are pulled per
	// requested result when the cross-encoder gets to re-score them.
	DefaultOversample = 3
)

// SearchRequest is one retrieval request. TopK sizes the vector recall
// stage; RerankTopN is the final result count after the second stage and
// defaults to TopK when unset.
type SearchRequest struct {
	ProjectKey    string           `json:"projectKey"`
	Query         string           `json:"query"`
	TopK          int              `json:"topK"`
	RerankTopN    int              `json:"rerankTopN,omitempty"`
	SearchType    types.SearchType `json:"searchType"`
	MinSimilarity *float64         `json:"minSimilarity,omitempty"`
	DisableRerank bool             `json:"disableRerank,omitempty"`
}

// SearchResponse carries the ranked results plus how they were produced.
type SearchResponse struct {
	Results       []types.SearchResult `json:"results"`
	RerankApplied bool                 `json:"rerankApplied"`
	CacheHit      bool                 `json:"cacheHit"`
	DurationMs    int64                `json:"durationMs"`
}

// Searcher runs the query flow. Safe for concurrent use.
type Searcher struct {
	store      *store.Store
	embedder   embedder.Embedder
	reranker   *reranker.Client // nil disables the second stage
	floor      float64
	oversample int
	logger     *zap.Logger
}

// NewSearcher wires the query pipeline. rr may be nil.
func NewSearcher(st *store.Store, emb embedder.Embedder, rr *reranker.Client, floor float64, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{
		store:      st,
		embedder:   emb,
		reranker:   rr,
		floor:      floor,
		oversample: DefaultOversample,
		logger:     logger,
	}
}

// Search answers one request end to end.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	if req.Query == "" {
		return nil, fmt.Errorf("%w: query text is required", types.ErrConfigInvalid)
	}
	if err := store.ValidateProjectKey(req.ProjectKey); err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		return nil, fmt.Errorf("%w: topK %d exceeds maximum %d", types.ErrConfigInvalid, topK, MaxTopK)
	}
	finalN := req.RerankTopN
	if finalN == 0 {
		finalN = topK
	}
	if finalN < 0 || finalN > MaxTopK {
		return nil, fmt.Errorf("%w: rerankTopN must be in [1, %d]", types.ErrConfigInvalid, MaxTopK)
	}
	searchType := req.SearchType
	if searchType == "" {
		searchType = types.SearchBoth
	}
	if !searchType.Valid() {
		return nil, fmt.Errorf("%w: unknown search type %q", types.ErrConfigInvalid, req.SearchType)
	}
	floor := s.floor
	if req.MinSimilarity != nil {
		if *req.MinSimilarity < 0 || *req.MinSimilarity > 1 {
			return nil, fmt.Errorf("%w: minSimilarity must be in [0.0, 1.0]", types.ErrConfigInvalid)
		}
		floor = *req.MinSimilarity
	}

	// The query embedding is the one upstream call a search cannot live
	// without.
	queryVec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	// Oversample whenever a later stage narrows the candidate set, be it
	// the cross-encoder or a kind restriction, so truncation to the final
	// width happens after that stage has seen enough candidates.
	rerankWanted := s.reranker != nil && !req.DisableRerank
	fetch := topK
	if rerankWanted || searchType != types.SearchBoth {
		fetch = topK * s.oversample
	}

	candidates, cacheHit, err := s.store.Search(ctx, req.ProjectKey, queryVec, fetch, floor)
	if err != nil {
		return nil, err
	}

	filtered := make([]types.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if searchType.Matches(c.Kind) {
			filtered = append(filtered, c)
		}
	}

	rerankApplied := false
	if rerankWanted && len(filtered) > 0 {
		if reranked, err := s.applyRerank(ctx, req.Query, filtered); err != nil {
			// Degrade to vector ranking rather than fail the search.
			s.logger.Warn("rerank failed, falling back to vector ranking",
				zap.String("project", req.ProjectKey), zap.Error(err))
		} else {
			filtered = reranked
			rerankApplied = true
		}
	}

	if len(filtered) > finalN {
		filtered = filtered[:finalN]
	}

	resp := &SearchResponse{
		Results:       filtered,
		RerankApplied: rerankApplied,
		CacheHit:      cacheHit,
		DurationMs:    time.Since(start).Milliseconds(),
	}

	// Tracing is observational; a failed trace never fails the search.
	if err := s.store.Trace(ctx, req.ProjectKey, catalog.TraceEntry{
		Fingerprint:   store.Fingerprint(queryVec, fetch),
		SearchType:    string(searchType),
		TopK:          topK,
		ResultCount:   len(filtered),
		Duration:      time.Since(start),
		RerankApplied: rerankApplied,
		CacheHit:      cacheHit,
	}); err != nil {
		s.logger.Warn("trace write failed",
			zap.String("project", req.ProjectKey), zap.Error(err))
	}

	return resp, nil
}

// applyRerank re-scores results with the cross-encoder and reorders them by
// that score, record ID breaking ties so equal scores stay deterministic.
func (s *Searcher) applyRerank(ctx context.Context, query string, results []types.SearchResult) ([]types.SearchResult, error) {
	documents := make([]string, len(results))
	for i, r := range results {
		documents[i] = r.Payload
	}
	scores, err := s.reranker.Rerank(ctx, query, documents)
	if err != nil {
		return nil, err
	}

	out := make([]types.SearchResult, len(results))
	copy(out, results)
	for i := range out {
		score := scores[i]
		out[i].RerankScore = &score
	}
	sort.SliceStable(out, func(i, j int) bool {
		if *out[i].RerankScore != *out[j].RerankScore {
			return *out[i].RerankScore > *out[j].RerankScore
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out, nil
}
