package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smancode/recall/internal/config"
	"github.com/smancode/recall/internal/embedder"
	"github.com/smancode/recall/internal/index"
	"github.com/smancode/recall/internal/pipeline"
	"github.com/smancode/recall/internal/reranker"
	"github.com/smancode/recall/internal/store"
	"github.com/smancode/recall/pkg/types"
)

const testDim = 32

func setupTestServerWithStore(t *testing.T, rr *reranker.Client) (http.Handler, *store.Store) {
	t.Helper()

	st, err := store.Open(store.Config{
		DataDir: t.TempDir(),
		Index: index.Config{
			Dimension:         testDim,
			M:                 8,
			EfConstruction:    50,
			EfSearch:          20,
			RerankerThreshold: 0.3,
		},
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	emb := embedder.NewLocalProvider(testDim, nil)
	searcher := pipeline.NewSearcher(st, emb, rr, -1, zap.NewNop())
	ingester := pipeline.NewIngester(st, emb, zap.NewNop())

	srv := NewServer(searcher, ingester, st, emb, rr, &config.ServerConfig{Host: "127.0.0.1", Port: 0}, zap.NewNop())
	return srv.Router(), st
}

func setupTestServer(t *testing.T) http.Handler {
	t.Helper()
	h, _ := setupTestServerWithStore(t, nil)
	return h
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func ingestPayload(docs ...pipeline.Document) map[string]interface{} {
	return map[string]interface{}{"documents": docs}
}

func TestHealth(t *testing.T) {
	h := setupTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","embedder":true}`, rec.Body.String())
}

func TestHealthReportsRerankerReachability(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	rr, err := reranker.New(reranker.Config{Endpoints: []string{upstream.URL}})
	require.NoError(t, err)
	defer rr.Close()

	h, _ := setupTestServerWithStore(t, rr)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","embedder":true,"reranker":true}`, rec.Body.String())

	// An unreachable reranker degrades the status without failing the probe.
	upstream.Close()
	rec = doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","embedder":true,"reranker":false}`, rec.Body.String())
}

func TestClosedStoreMapsToServiceUnavailable(t *testing.T) {
	h, st := setupTestServerWithStore(t, nil)
	require.NoError(t, st.Close())

	rec := doJSON(t, h, http.MethodGet, "/api/v1/projects/proj/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestAndSearchRoundTrip(t *testing.T) {
	h := setupTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/projects/myproj/ingest", ingestPayload(
		pipeline.Document{ID: "d1", SourceRef: "src/a.go", Kind: types.KindCode, Payload: "alpha handler logic"},
		pipeline.Document{ID: "d2", SourceRef: "notes/x.md", Kind: types.KindKnowledge, Payload: "beta design notes"},
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report pipeline.IngestReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Ingested)
	assert.Empty(t, report.Failed)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/search", pipeline.SearchRequest{
		ProjectKey: "myproj",
		Query:      "alpha handler logic",
		TopK:       5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp pipeline.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "d1", resp.Results[0].RecordID)
	assert.False(t, resp.RerankApplied)
}

func TestSearchValidationErrors(t *testing.T) {
	h := setupTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/search", pipeline.SearchRequest{
		ProjectKey: "proj",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString("{broken"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestValidationSurfacesInReport(t *testing.T) {
	h := setupTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/projects/proj/ingest", ingestPayload(
		pipeline.Document{ID: "bad", Kind: types.KindCode, Payload: "no source"},
	))
	require.Equal(t, http.StatusOK, rec.Code)

	var report pipeline.IngestReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Zero(t, report.Ingested)
	require.Len(t, report.Failed, 1)
}

func TestIngestInvalidProjectKey(t *testing.T) {
	h := setupTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/projects/bad!key/ingest", ingestPayload(
		pipeline.Document{ID: "d", SourceRef: "a", Kind: types.KindCode, Payload: "p"},
	))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndRebuild(t *testing.T) {
	h := setupTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/projects/proj/ingest", ingestPayload(
		pipeline.Document{ID: "d1", SourceRef: "a", Kind: types.KindCode, Payload: "payload one"},
	))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/projects/proj/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats store.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "proj", stats.ProjectKey)
	assert.Equal(t, 1, stats.LiveRecords)
	assert.Equal(t, 1, stats.IndexSize)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/projects/proj/rebuild", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClearProject(t *testing.T) {
	h := setupTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/projects/proj/ingest", ingestPayload(
		pipeline.Document{ID: "d1", SourceRef: "a", Kind: types.KindCode, Payload: "to be removed"},
	))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/projects/proj", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/projects/proj/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats store.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Zero(t, stats.LiveRecords)
}

func TestListProjects(t *testing.T) {
	h := setupTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"projects":[]}`, rec.Body.String())

	for _, proj := range []string{"one", "two"} {
		rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/v1/projects/%s/ingest", proj), ingestPayload(
			pipeline.Document{ID: "d", SourceRef: "a", Kind: types.KindCode, Payload: "p"},
		))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Projects []string `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.ElementsMatch(t, []string{"one", "two"}, listing.Projects)
}

func TestTracesEndpoint(t *testing.T) {
	h := setupTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/projects/proj/ingest", ingestPayload(
		pipeline.Document{ID: "d1", SourceRef: "a", Kind: types.KindCode, Payload: "traced payload"},
	))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/search", pipeline.SearchRequest{
		ProjectKey: "proj", Query: "traced payload",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/projects/proj/traces?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fingerprint")

	rec = doJSON(t, h, http.MethodGet, "/api/v1/projects/proj/traces?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
