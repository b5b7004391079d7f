// Package index implements the in-memory approximate nearest neighbor index
// (the L2 tier) as a hierarchical navigable small world (HNSW) graph.
//
// Each insert probabilistically assigns the new node a layer, then links it to
// its M nearest neighbors per layer, exploring EfConstruction candidates while
// building and EfSearch candidates while querying. These three knobs trade
// recall against latency and memory and stay externally configurable.
//
// Vectors are normalized on insert, so cosine similarity reduces to a dot
// product and scores land in [0, 1] for non-degenerate inputs. Deletes are
// tombstones: cheap, but high-churn workloads degrade graph quality until the
// owning store rebuilds the index from the durable catalog.
//
// The index is safe for concurrent use: a RWMutex serializes writers while
// readers search concurrently.
package index
