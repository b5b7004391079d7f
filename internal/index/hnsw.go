package index

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/smancode/recall/pkg/types"
)

// node is a single vector in the graph. Vectors are stored normalized so
// cosine similarity reduces to a dot product.
type node struct {
	id        string
	vector    []float32
	neighbors [][]uint32 // per-layer adjacency, layer 0 is the base
	level     int
	deleted   bool
}

// Hit is a single nearest-neighbor result.
type Hit struct {
	ID    string
	Score float64 // cosine similarity in [-1, 1], higher is closer
}

// Index is an in-memory HNSW approximate nearest neighbor index.
// All exported methods are safe for concurrent use.
type Index struct {
	cfg Config

	mu       sync.RWMutex
	nodes    []*node
	byID     map[string]uint32
	entry    uint32
	hasEntry bool
	maxLevel int
	live     int

	rng *rand.Rand
}

// New creates an empty index. The config is validated eagerly.
func New(cfg Config) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Index{
		cfg:  cfg,
		byID: make(map[string]uint32),
		rng:  rand.New(rand.NewSource(rand.Int63())),
	}, nil
}

// Config returns the parameters the index was built with.
func (ix *Index) Config() Config {
	return ix.cfg
}

// Size returns the number of live (non-tombstoned) vectors.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.live
}

// TombstoneRatio reports the fraction of graph nodes that are deleted.
// Callers use it to decide when a rebuild is worth the cost.
func (ix *Index) TombstoneRatio() float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.nodes) == 0 {
		return 0
	}
	return float64(len(ix.nodes)-ix.live) / float64(len(ix.nodes))
}

// Add inserts a vector under the given ID. If the ID already exists and is
// live, the stored vector is overwritten in place and the graph links are
// left as-is; the small recall loss is recovered at the next rebuild.
func (ix *Index) Add(id string, vector []float32) error {
	if len(vector) != ix.cfg.Dimension {
		return fmt.Errorf("%w: index dimension %d, vector dimension %d",
			types.ErrDimensionMismatch, ix.cfg.Dimension, len(vector))
	}

	vec := normalize(vector)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if idx, ok := ix.byID[id]; ok && !ix.nodes[idx].deleted {
		ix.nodes[idx].vector = vec
		return nil
	}

	level := ix.randomLevel()
	n := &node{
		id:        id,
		vector:    vec,
		neighbors: make([][]uint32, level+1),
		level:     level,
	}
	idx := uint32(len(ix.nodes))
	ix.nodes = append(ix.nodes, n)
	ix.byID[id] = idx
	ix.live++

	if !ix.hasEntry {
		ix.entry = idx
		ix.hasEntry = true
		ix.maxLevel = level
		return nil
	}

	cur := ix.entry
	// Greedy descent through layers above the new node's level.
	for l := ix.maxLevel; l > level; l-- {
		cur = ix.greedyClosest(vec, cur, l)
	}

	// Link into every layer at or below the node's level.
	top := level
	if top > ix.maxLevel {
		top = ix.maxLevel
	}
	for l := top; l >= 0; l-- {
		candidates := ix.searchLayer(vec, cur, ix.cfg.EfConstruction, l)
		selected := ix.selectNeighbors(candidates, ix.layerCap(l))
		n.neighbors[l] = selected
		for _, nb := range selected {
			ix.linkBack(nb, idx, l)
		}
		if len(candidates) > 0 {
			cur = candidates[0].idx
		}
	}

	if level > ix.maxLevel {
		ix.maxLevel = level
		ix.entry = idx
	}
	return nil
}

// Remove tombstones the vector with the given ID. Removing an unknown or
// already-deleted ID is a no-op.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	idx, ok := ix.byID[id]
	if !ok || ix.nodes[idx].deleted {
		return
	}
	ix.nodes[idx].deleted = true
	ix.live--
	delete(ix.byID, id)

	if ix.entry == idx {
		ix.reselectEntry()
	}
}

// Clear drops every vector and resets the graph.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.nodes = nil
	ix.byID = make(map[string]uint32)
	ix.hasEntry = false
	ix.maxLevel = 0
	ix.live = 0
}

// Search returns up to k live vectors nearest to query, sorted by similarity
// descending, excluding anything below minSimilarity. Uses the configured
// EfSearch breadth.
func (ix *Index) Search(ctx context.Context, query []float32, k int, minSimilarity float64) ([]Hit, error) {
	return ix.SearchWithEf(ctx, query, k, minSimilarity, ix.cfg.EfSearch)
}

// SearchWithEf is Search with an explicit candidate breadth. The effective
// breadth is never below k.
func (ix *Index) SearchWithEf(ctx context.Context, query []float32, k int, minSimilarity float64, ef int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != ix.cfg.Dimension {
		return nil, fmt.Errorf("%w: index dimension %d, query dimension %d",
			types.ErrDimensionMismatch, ix.cfg.Dimension, len(query))
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	if ef < k {
		ef = k
	}

	vec := normalize(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !ix.hasEntry || ix.live == 0 {
		return []Hit{}, nil
	}

	cur := ix.entry
	for l := ix.maxLevel; l > 0; l-- {
		cur = ix.greedyClosest(vec, cur, l)
	}
	candidates := ix.searchLayer(vec, cur, ef, 0)

	hits := make([]Hit, 0, k)
	for _, c := range candidates {
		n := ix.nodes[c.idx]
		if n.deleted {
			continue
		}
		score := 1.0 - c.dist
		if score < minSimilarity {
			// Candidates are sorted closest-first, so nothing later passes.
			break
		}
		hits = append(hits, Hit{ID: n.id, Score: score})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Contains reports whether a live vector with the given ID exists.
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	idx, ok := ix.byID[id]
	return ok && !ix.nodes[idx].deleted
}

// --- internals, callers must hold ix.mu (read side is enough for the
// search helpers, which only walk the graph) ---

func (ix *Index) randomLevel() int {
	level := int(-math.Log(ix.rng.Float64()) * ix.cfg.levelMultiplier())
	const maxLevelCap = 16
	if level > maxLevelCap {
		level = maxLevelCap
	}
	return level
}

// layerCap is the connection budget: 2M on the base layer, M above it.
func (ix *Index) layerCap(layer int) int {
	if layer == 0 {
		return ix.cfg.M * 2
	}
	return ix.cfg.M
}

// dist is cosine distance over normalized vectors.
func (ix *Index) dist(a, b []float32) float64 {
	return 1.0 - dot(a, b)
}

// greedyClosest walks a single layer toward the query, one hop at a time.
func (ix *Index) greedyClosest(vec []float32, start uint32, layer int) uint32 {
	cur := start
	curDist := ix.dist(vec, ix.nodes[cur].vector)
	for {
		improved := false
		n := ix.nodes[cur]
		if layer < len(n.neighbors) {
			for _, nb := range n.neighbors[layer] {
				d := ix.dist(vec, ix.nodes[nb].vector)
				if d < curDist {
					cur = nb
					curDist = d
					improved = true
				}
			}
		}
		if !improved {
			return cur
		}
	}
}

// searchLayer is the beam search over one layer. Returns up to ef candidates
// sorted by distance ascending. Tombstoned nodes are traversed (their edges
// still hold the graph together) but never returned. The visited set is
// local to the call, so concurrent readers do not contend on scratch state.
func (ix *Index) searchLayer(vec []float32, start uint32, ef int, layer int) []candidate {
	visited := make(map[uint32]struct{}, ef*4)
	visited[start] = struct{}{}

	startDist := ix.dist(vec, ix.nodes[start].vector)

	// toVisit is closest-first, results is farthest-first for cheap eviction.
	toVisit := &minHeap{{idx: start, dist: startDist}}
	results := &maxHeap{}
	if !ix.nodes[start].deleted {
		results.push(candidate{idx: start, dist: startDist})
	}

	for toVisit.Len() > 0 {
		c := toVisit.pop()
		if results.Len() >= ef && c.dist > results.peek().dist {
			break
		}
		n := ix.nodes[c.idx]
		if layer >= len(n.neighbors) {
			continue
		}
		for _, nb := range n.neighbors[layer] {
			if _, ok := visited[nb]; ok {
				continue
			}
			visited[nb] = struct{}{}
			d := ix.dist(vec, ix.nodes[nb].vector)
			if results.Len() < ef || d < results.peek().dist {
				toVisit.push(candidate{idx: nb, dist: d})
				if !ix.nodes[nb].deleted {
					results.push(candidate{idx: nb, dist: d})
					if results.Len() > ef {
						results.pop()
					}
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = results.pop()
	}
	return out
}

// selectNeighbors keeps the closest candidates up to the connection budget.
func (ix *Index) selectNeighbors(candidates []candidate, max int) []uint32 {
	out := make([]uint32, 0, max)
	for _, c := range candidates {
		if len(out) == max {
			break
		}
		out = append(out, c.idx)
	}
	return out
}

// linkBack adds a reverse edge, pruning the target's neighbor list back to
// its budget by distance when it overflows.
func (ix *Index) linkBack(from, to uint32, layer int) {
	n := ix.nodes[from]
	for layer >= len(n.neighbors) {
		n.neighbors = append(n.neighbors, nil)
	}
	n.neighbors[layer] = append(n.neighbors[layer], to)

	cap := ix.layerCap(layer)
	if len(n.neighbors[layer]) <= cap {
		return
	}
	nbs := n.neighbors[layer]
	sort.Slice(nbs, func(i, j int) bool {
		return ix.dist(n.vector, ix.nodes[nbs[i]].vector) < ix.dist(n.vector, ix.nodes[nbs[j]].vector)
	})
	n.neighbors[layer] = nbs[:cap]
}

// reselectEntry picks any live node as the new entry point, preferring the
// highest level to keep descent cheap.
func (ix *Index) reselectEntry() {
	ix.hasEntry = false
	best := -1
	for i, n := range ix.nodes {
		if n.deleted {
			continue
		}
		if !ix.hasEntry || n.level > best {
			ix.entry = uint32(i)
			ix.hasEntry = true
			best = n.level
		}
	}
	if ix.hasEntry {
		ix.maxLevel = best
	} else {
		ix.maxLevel = 0
	}
}

// --- vector math ---

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalize returns a unit-length copy. Zero vectors are returned as a copy
// unchanged, they simply never score well.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := 1.0 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
