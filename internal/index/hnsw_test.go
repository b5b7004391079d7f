package index

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smancode/recall/pkg/types"
)

func testConfig(dim int) Config {
	return DefaultConfig(dim)
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero dimension", func(c *Config) { c.Dimension = 0 }, true},
		{"M too small", func(c *Config) { c.M = 4 }, true},
		{"M too large", func(c *Config) { c.M = 64 }, true},
		{"efConstruction too small", func(c *Config) { c.EfConstruction = 10 }, true},
		{"efConstruction too large", func(c *Config) { c.EfConstruction = 500 }, true},
		{"efSearch too small", func(c *Config) { c.EfSearch = 5 }, true},
		{"efSearch too large", func(c *Config) { c.EfSearch = 150 }, true},
		{"threshold negative", func(c *Config) { c.RerankerThreshold = -0.1 }, true},
		{"threshold above one", func(c *Config) { c.RerankerThreshold = 1.5 }, true},
		{"boundary M", func(c *Config) { c.M = 8 }, false},
		{"boundary threshold", func(c *Config) { c.RerankerThreshold = 1.0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(128)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, types.ErrConfigInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAddAndSearchSelfMatch(t *testing.T) {
	ix, err := New(testConfig(32))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	vectors := make(map[string][]float32)
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("rec-%03d", i)
		v := randomVector(rng, 32)
		vectors[id] = v
		require.NoError(t, ix.Add(id, v))
	}
	assert.Equal(t, 200, ix.Size())

	// Searching with a stored vector must return that vector first with
	// similarity ~1.0.
	for _, id := range []string{"rec-000", "rec-077", "rec-199"} {
		hits, err := ix.Search(context.Background(), vectors[id], 5, 0.0)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, id, hits[0].ID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	}
}

func TestSearchOrderingAndLimit(t *testing.T) {
	ix, err := New(testConfig(16))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		require.NoError(t, ix.Add(fmt.Sprintf("v%d", i), randomVector(rng, 16)))
	}

	query := randomVector(rng, 16)
	hits, err := ix.Search(context.Background(), query, 10, 0.0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(hits), 10)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestSearchMinSimilarityFloor(t *testing.T) {
	ix, err := New(testConfig(4))
	require.NoError(t, err)

	require.NoError(t, ix.Add("aligned", []float32{1, 0, 0, 0}))
	require.NoError(t, ix.Add("orthogonal", []float32{0, 1, 0, 0}))

	hits, err := ix.Search(context.Background(), []float32{1, 0, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "aligned", hits[0].ID)

	// An impossible floor yields an empty, non-nil slice.
	hits, err = ix.Search(context.Background(), []float32{1, 0, 0, 0}, 10, 1.1)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestDimensionMismatch(t *testing.T) {
	ix, err := New(testConfig(8))
	require.NoError(t, err)

	err = ix.Add("bad", make([]float32, 4))
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)

	_, err = ix.Search(context.Background(), make([]float32, 16), 3, 0.0)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestAddOverwritesLiveID(t *testing.T) {
	ix, err := New(testConfig(4))
	require.NoError(t, err)

	require.NoError(t, ix.Add("a", []float32{1, 0, 0, 0}))
	require.NoError(t, ix.Add("a", []float32{0, 1, 0, 0}))
	assert.Equal(t, 1, ix.Size())

	hits, err := ix.Search(context.Background(), []float32{0, 1, 0, 0}, 1, 0.0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestRemoveTombstones(t *testing.T) {
	ix, err := New(testConfig(16))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	vectors := make(map[string][]float32)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("v%d", i)
		v := randomVector(rng, 16)
		vectors[id] = v
		require.NoError(t, ix.Add(id, v))
	}

	ix.Remove("v10")
	ix.Remove("v10") // idempotent
	ix.Remove("never-existed")

	assert.Equal(t, 49, ix.Size())
	assert.False(t, ix.Contains("v10"))
	assert.InDelta(t, 1.0/50.0, ix.TombstoneRatio(), 1e-9)

	hits, err := ix.Search(context.Background(), vectors["v10"], 50, 0.0)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "v10", h.ID)
	}
}

func TestRemoveEntryPointReselects(t *testing.T) {
	ix, err := New(testConfig(4))
	require.NoError(t, err)

	require.NoError(t, ix.Add("first", []float32{1, 0, 0, 0}))
	require.NoError(t, ix.Add("second", []float32{0, 1, 0, 0}))

	// Deleting every node one at a time must never strand the entry point.
	ix.Remove("first")
	hits, err := ix.Search(context.Background(), []float32{0, 1, 0, 0}, 2, 0.0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "second", hits[0].ID)

	ix.Remove("second")
	hits, err = ix.Search(context.Background(), []float32{0, 1, 0, 0}, 2, 0.0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestClear(t *testing.T) {
	ix, err := New(testConfig(8))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		require.NoError(t, ix.Add(fmt.Sprintf("v%d", i), randomVector(rng, 8)))
	}
	ix.Clear()

	assert.Equal(t, 0, ix.Size())
	hits, err := ix.Search(context.Background(), randomVector(rng, 8), 5, 0.0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// The index stays usable after a clear.
	require.NoError(t, ix.Add("fresh", randomVector(rng, 8)))
	assert.Equal(t, 1, ix.Size())
}

func TestSearchEmptyIndex(t *testing.T) {
	ix, err := New(testConfig(8))
	require.NoError(t, err)

	hits, err := ix.Search(context.Background(), make([]float32, 8), 5, 0.0)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestSearchCancelledContext(t *testing.T) {
	ix, err := New(testConfig(8))
	require.NoError(t, err)
	require.NoError(t, ix.Add("a", make([]float32, 8)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ix.Search(ctx, make([]float32, 8), 1, 0.0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecallAgainstExactScan(t *testing.T) {
	const (
		dim   = 24
		count = 500
		k     = 10
	)
	ix, err := New(testConfig(dim))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(99))
	ids := make([]string, count)
	vecs := make([][]float32, count)
	for i := 0; i < count; i++ {
		ids[i] = fmt.Sprintf("v%d", i)
		vecs[i] = randomVector(rng, dim)
		require.NoError(t, ix.Add(ids[i], vecs[i]))
	}

	var found, total int
	for q := 0; q < 20; q++ {
		query := randomVector(rng, dim)
		exact := exactTopK(ids, vecs, query, k)

		hits, err := ix.Search(context.Background(), query, k, -1.0)
		require.NoError(t, err)

		got := make(map[string]bool, len(hits))
		for _, h := range hits {
			got[h.ID] = true
		}
		for _, id := range exact {
			total++
			if got[id] {
				found++
			}
		}
	}
	recall := float64(found) / float64(total)
	assert.Greater(t, recall, 0.85, "recall@%d was %.3f", k, recall)
}

func exactTopK(ids []string, vecs [][]float32, query []float32, k int) []string {
	nq := normalize(query)
	type scored struct {
		id  string
		sim float64
	}
	all := make([]scored, len(ids))
	for i := range ids {
		all[i] = scored{id: ids[i], sim: dot(normalize(vecs[i]), nq)}
	}
	for i := 0; i < k; i++ {
		best := i
		for j := i + 1; j < len(all); j++ {
			if all[j].sim > all[best].sim {
				best = j
			}
		}
		all[i], all[best] = all[best], all[i]
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = all[i].id
	}
	return out
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.snapshot")

	cfg := testConfig(16)
	ix, err := New(cfg)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(5))
	vectors := make(map[string][]float32)
	for i := 0; i < 80; i++ {
		id := fmt.Sprintf("v%d", i)
		v := randomVector(rng, 16)
		vectors[id] = v
		require.NoError(t, ix.Add(id, v))
	}
	ix.Remove("v7")

	require.NoError(t, ix.SaveSnapshot(path))

	restored, ok, err := LoadSnapshot(path, cfg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 79, restored.Size())
	assert.False(t, restored.Contains("v7"))

	hits, err := restored.Search(context.Background(), vectors["v33"], 1, 0.0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "v33", hits[0].ID)
}

func TestSnapshotMissingFile(t *testing.T) {
	_, ok, err := LoadSnapshot(filepath.Join(t.TempDir(), "nope.snapshot"), testConfig(8))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotCorruptFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.snapshot")
	require.NoError(t, os.WriteFile(path, []byte("not msgpack at all"), 0o644))

	_, ok, err := LoadSnapshot(path, testConfig(8))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotConfigMismatchFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.snapshot")

	ix, err := New(testConfig(16))
	require.NoError(t, err)
	require.NoError(t, ix.Add("a", make([]float32, 16)))
	require.NoError(t, ix.SaveSnapshot(path))

	other := testConfig(16)
	other.M = 32
	_, ok, err := LoadSnapshot(path, other)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)

	zero := normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, zero)
}
