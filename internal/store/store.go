package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/smancode/recall/internal/catalog"
	"github.com/smancode/recall/internal/index"
	"github.com/smancode/recall/pkg/types"
)

const (
	// DefaultHotCacheSize is the per-project result cache capacity.
	DefaultHotCacheSize = 500

	catalogFileName  = "catalog.db"
	snapshotFileName = "index.snapshot"
)

var projectKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Config configures a Store.
type Config struct {
	DataDir      string
	Index        index.Config
	HotCacheSize int
}

// Stats describes one project's tier occupancy.
type Stats struct {
	ProjectKey     string  `json:"projectKey"`
	LiveRecords    int     `json:"liveRecords"`
	IndexSize      int     `json:"indexSize"`
	TombstoneRatio float64 `json:"tombstoneRatio"`
	CachedQueries  int     `json:"cachedQueries"`
}

// project bundles one project's three tiers under a single lock. The lock
// is held for writing by anything that mutates, so searches see either the
// full effect of a write or none of it.
type project struct {
	key      string
	mu       sync.RWMutex
	catalog  *catalog.Catalog
	index    *index.Index
	hot      *lru.Cache[string, []types.SearchResult]
	snapshot string
}

// Store is the tiered vector store over every project.
type Store struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	projects map[string]*project
	closed   bool
}

// Open creates a store rooted at cfg.DataDir. Project catalogs are opened
// lazily on first use.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if err := cfg.Index.Validate(); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: data directory is required", types.ErrConfigInvalid)
	}
	if cfg.HotCacheSize <= 0 {
		cfg.HotCacheSize = DefaultHotCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating data directory: %v", types.ErrStorageFault, err)
	}
	return &Store{
		cfg:      cfg,
		logger:   logger,
		projects: make(map[string]*project),
	}, nil
}

// ValidateProjectKey reports whether key is usable as a project partition.
func ValidateProjectKey(key string) error {
	if !projectKeyPattern.MatchString(key) || len(key) > 128 {
		return fmt.Errorf("%w: invalid project key %q", types.ErrConfigInvalid, key)
	}
	return nil
}

// getProject returns the loaded project, opening and warming it if needed.
func (s *Store) getProject(ctx context.Context, key string) (*project, error) {
	if err := ValidateProjectKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: store is closed", types.ErrIndexUnavailable)
	}
	if p, ok := s.projects[key]; ok {
		return p, nil
	}

	dir := filepath.Join(s.cfg.DataDir, key)
	cat, err := catalog.Open(filepath.Join(dir, catalogFileName))
	if err != nil {
		return nil, err
	}

	hot, err := lru.New[string, []types.SearchResult](s.cfg.HotCacheSize)
	if err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("%w: creating result cache: %v", types.ErrIndexUnavailable, err)
	}

	p := &project{
		key:      key,
		catalog:  cat,
		hot:      hot,
		snapshot: filepath.Join(dir, snapshotFileName),
	}
	if err := s.warmProject(ctx, p); err != nil {
		_ = cat.Close()
		return nil, err
	}

	s.projects[key] = p
	return p, nil
}

// warmProject populates the in-memory index, preferring a snapshot over a
// full catalog replay when one matches the current configuration.
func (s *Store) warmProject(ctx context.Context, p *project) error {
	ix, ok, err := index.LoadSnapshot(p.snapshot, s.cfg.Index)
	if err != nil {
		s.logger.Warn("snapshot load failed, rebuilding from catalog",
			zap.String("project", p.key), zap.Error(err))
	}
	if ok {
		// The snapshot may trail the catalog by whatever was written after
		// the last save. Reconcile by replaying records the index lacks.
		live, err := p.catalog.ListLive(ctx)
		if err != nil {
			return err
		}
		stale := false
		for i := range live {
			if !ix.Contains(live[i].ID) {
				if err := ix.Add(live[i].ID, live[i].Embedding); err != nil {
					stale = true
					break
				}
			}
		}
		if !stale && ix.Size() == len(live) {
			p.index = ix
			s.logger.Info("project warmed from snapshot",
				zap.String("project", p.key), zap.Int("records", ix.Size()))
			return nil
		}
		s.logger.Warn("snapshot out of sync with catalog, rebuilding",
			zap.String("project", p.key))
	}

	ix, err = s.buildIndex(ctx, p.catalog)
	if err != nil {
		return err
	}
	p.index = ix
	s.logger.Info("project warmed from catalog",
		zap.String("project", p.key), zap.Int("records", ix.Size()))
	return nil
}

// buildIndex replays every live catalog record into a fresh index.
func (s *Store) buildIndex(ctx context.Context, cat *catalog.Catalog) (*index.Index, error) {
	ix, err := index.New(s.cfg.Index)
	if err != nil {
		return nil, err
	}
	live, err := cat.ListLive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range live {
		if err := ix.Add(live[i].ID, live[i].Embedding); err != nil {
			return nil, fmt.Errorf("%w: indexing record %s: %v",
				types.ErrIndexUnavailable, live[i].ID, err)
		}
	}
	return ix, nil
}

// Upsert writes one record. The catalog commit happens before the index
// insert, so a crash between the two loses visibility but never data.
func (s *Store) Upsert(ctx context.Context, projectKey string, rec *types.VectorRecord) error {
	if len(rec.Embedding) != s.cfg.Index.Dimension {
		return fmt.Errorf("%w: expected dimension %d, got %d",
			types.ErrDimensionMismatch, s.cfg.Index.Dimension, len(rec.Embedding))
	}
	if !rec.Kind.Valid() {
		return fmt.Errorf("%w: unknown record kind %q", types.ErrConfigInvalid, rec.Kind)
	}

	p, err := s.getProject(ctx, projectKey)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.catalog.UpsertRecord(ctx, rec); err != nil {
		return err
	}
	if err := p.index.Add(rec.ID, rec.Embedding); err != nil {
		return fmt.Errorf("%w: %v", types.ErrIndexUnavailable, err)
	}
	p.hot.Purge()
	return nil
}

// UpsertBatch writes a batch under one project lock and one catalog
// transaction.
func (s *Store) UpsertBatch(ctx context.Context, projectKey string, recs []types.VectorRecord) error {
	for i := range recs {
		if len(recs[i].Embedding) != s.cfg.Index.Dimension {
			return fmt.Errorf("%w: record %s: expected dimension %d, got %d",
				types.ErrDimensionMismatch, recs[i].ID, s.cfg.Index.Dimension, len(recs[i].Embedding))
		}
		if !recs[i].Kind.Valid() {
			return fmt.Errorf("%w: record %s: unknown kind %q",
				types.ErrConfigInvalid, recs[i].ID, recs[i].Kind)
		}
	}

	p, err := s.getProject(ctx, projectKey)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.catalog.UpsertBatch(ctx, recs); err != nil {
		return err
	}
	for i := range recs {
		if err := p.index.Add(recs[i].ID, recs[i].Embedding); err != nil {
			return fmt.Errorf("%w: %v", types.ErrIndexUnavailable, err)
		}
	}
	p.hot.Purge()
	return nil
}

// SupersedeSource retires every record that came from sourceRef, returning
// how many were removed.
func (s *Store) SupersedeSource(ctx context.Context, projectKey, sourceRef string) (int, error) {
	p, err := s.getProject(ctx, projectKey)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ids, err := p.catalog.SupersedeBySourceRef(ctx, sourceRef)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		p.index.Remove(id)
	}
	if len(ids) > 0 {
		p.hot.Purge()
	}
	return len(ids), nil
}

// Delete retires a single record by ID.
func (s *Store) Delete(ctx context.Context, projectKey, id string) error {
	p, err := s.getProject(ctx, projectKey)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.catalog.SupersedeByID(ctx, id); err != nil {
		return err
	}
	p.index.Remove(id)
	p.hot.Purge()
	return nil
}

// Search finds up to topK nearest records, hydrated with their payloads.
// Identical queries are answered from the result cache; the returned bool
// reports whether this one was. The cache holds the unfloored neighbor set
// and every call, hit or miss, filters it against its own floor, so one
// cached entry serves any floor a caller asks for.
func (s *Store) Search(ctx context.Context, projectKey string, embedding []float32, topK int, minSimilarity float64) ([]types.SearchResult, bool, error) {
	if len(embedding) != s.cfg.Index.Dimension {
		return nil, false, fmt.Errorf("%w: expected dimension %d, got %d",
			types.ErrDimensionMismatch, s.cfg.Index.Dimension, len(embedding))
	}
	if topK <= 0 {
		return []types.SearchResult{}, false, nil
	}

	p, err := s.getProject(ctx, projectKey)
	if err != nil {
		return nil, false, err
	}

	key := fingerprint(embedding, topK)

	p.mu.RLock()
	if cached, ok := p.hot.Get(key); ok {
		p.mu.RUnlock()
		return filterByFloor(cached, minSimilarity), true, nil
	}

	// The index is searched without a floor so the cached set holds
	// everything a later, looser query with the same fingerprint may need.
	hits, err := p.index.Search(ctx, embedding, topK, -1)
	if err != nil {
		p.mu.RUnlock()
		return nil, false, fmt.Errorf("%w: %v", types.ErrIndexUnavailable, err)
	}

	results := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		rec, err := p.catalog.GetRecord(ctx, h.ID)
		if err != nil {
			// The record was superseded between tiers; skip it rather than
			// fail the whole search.
			s.logger.Debug("hit without live catalog row",
				zap.String("project", projectKey), zap.String("record", h.ID))
			continue
		}
		results = append(results, types.SearchResult{
			RecordID:  rec.ID,
			SourceRef: rec.SourceRef,
			Kind:      rec.Kind,
			Payload:   rec.Payload,
			Score:     h.Score,
		})
	}
	// Equal scores come out of the graph in traversal order, which shifts
	// across rebuilds. Pin ties to record ID so identical queries stay stable.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].RecordID < results[j].RecordID
	})
	// Added under the read lock so a concurrent write's purge cannot land
	// between the search and the cache insert.
	p.hot.Add(key, results)
	p.mu.RUnlock()

	return filterByFloor(results, minSimilarity), false, nil
}

// Rebuild reconstructs the project's index from the catalog under the write
// lock, drops superseded rows, and refreshes the snapshot. Searches block
// for the duration. Rebuilding an already clean project is a no-op in
// effect and always safe.
func (s *Store) Rebuild(ctx context.Context, projectKey string) error {
	p, err := s.getProject(ctx, projectKey)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ix, err := s.buildIndex(ctx, p.catalog)
	if err != nil {
		return err
	}
	p.index = ix
	p.hot.Purge()

	if err := p.catalog.VacuumSuperseded(ctx); err != nil {
		return err
	}
	if err := p.index.SaveSnapshot(p.snapshot); err != nil {
		s.logger.Warn("snapshot save failed after rebuild",
			zap.String("project", projectKey), zap.Error(err))
	}
	s.logger.Info("project rebuilt",
		zap.String("project", projectKey), zap.Int("records", ix.Size()))
	return nil
}

// Clear removes the project's entire partition: catalog file, snapshot,
// and in-memory tiers. The next use of the key starts from an empty
// project.
func (s *Store) Clear(ctx context.Context, projectKey string) error {
	if err := ValidateProjectKey(projectKey); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: store is closed", types.ErrIndexUnavailable)
	}
	p := s.projects[projectKey]
	delete(s.projects, projectKey)
	s.mu.Unlock()

	if p != nil {
		p.mu.Lock()
		p.index.Clear()
		p.hot.Purge()
		err := p.catalog.Close()
		p.mu.Unlock()
		if err != nil {
			return err
		}
	}

	if err := os.RemoveAll(filepath.Join(s.cfg.DataDir, projectKey)); err != nil {
		return fmt.Errorf("%w: removing project partition: %v", types.ErrStorageFault, err)
	}
	return nil
}

// Stats reports the project's tier occupancy.
func (s *Store) Stats(ctx context.Context, projectKey string) (*Stats, error) {
	p, err := s.getProject(ctx, projectKey)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	live, err := p.catalog.CountLive(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		ProjectKey:     projectKey,
		LiveRecords:    live,
		IndexSize:      p.index.Size(),
		TombstoneRatio: p.index.TombstoneRatio(),
		CachedQueries:  p.hot.Len(),
	}, nil
}

// Trace appends a search trace row for the project.
func (s *Store) Trace(ctx context.Context, projectKey string, e catalog.TraceEntry) error {
	p, err := s.getProject(ctx, projectKey)
	if err != nil {
		return err
	}
	return p.catalog.TraceSearch(ctx, e)
}

// RecentTraces returns the project's newest trace rows.
func (s *Store) RecentTraces(ctx context.Context, projectKey string, limit int) ([]catalog.TraceEntry, error) {
	p, err := s.getProject(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	return p.catalog.RecentTraces(ctx, limit)
}

// ProjectKeys lists every project present on disk, loaded or not.
func (s *Store) ProjectKeys() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing data directory: %v", types.ErrStorageFault, err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() && ValidateProjectKey(e.Name()) == nil {
			keys = append(keys, e.Name())
		}
	}
	return keys, nil
}

// Fingerprint exposes the cache key derivation, mainly for tracing.
func Fingerprint(embedding []float32, topK int) string {
	return fingerprint(embedding, topK)
}

// Close snapshots and closes every loaded project.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for key, p := range s.projects {
		p.mu.Lock()
		if err := p.index.SaveSnapshot(p.snapshot); err != nil {
			s.logger.Warn("snapshot save failed on close",
				zap.String("project", key), zap.Error(err))
		}
		if err := p.catalog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.mu.Unlock()
	}
	s.projects = make(map[string]*project)
	return firstErr
}

// fingerprint hashes the query vector and result width into a cache key.
// The similarity floor is not part of the key: cached results carry their
// scores, so a hit is re-filtered instead of re-searched.
func fingerprint(embedding []float32, topK int) string {
	h := sha256.New()
	var buf [4]byte
	for _, x := range embedding {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint32(buf[:], uint32(topK))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

func filterByFloor(results []types.SearchResult, floor float64) []types.SearchResult {
	out := make([]types.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= floor {
			out = append(out, r)
		}
	}
	return out
}
