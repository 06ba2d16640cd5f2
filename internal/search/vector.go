package search

import (
	"fmt"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndex is an in-memory HNSW graph keyed by indicator row id. It is
// rebuilt from the store's cached embeddings at startup and extended as new
// embeddings are computed.
type VectorIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int64]
	dims  int
	// valid tracks live keys; removal is lazy because deleting graph nodes
	// is unreliable in coder/hnsw.
	valid map[int64]bool
}

// NewVectorIndex creates an empty index for vectors of the given dimension.
func NewVectorIndex(dims int) *VectorIndex {
	graph := hnsw.NewGraph[int64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25
	return &VectorIndex{graph: graph, dims: dims, valid: make(map[int64]bool)}
}

// Add inserts or replaces the vector for an indicator id.
func (v *VectorIndex) Add(id int64, vector []float32) error {
	if len(vector) != v.dims {
		return fmt.Errorf("vector dimension %d, index expects %d", len(vector), v.dims)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.graph.Add(hnsw.MakeNode(id, vector))
	v.valid[id] = true
	return nil
}

// Remove drops an id from the result set. The node stays in the graph but
// is filtered from searches.
func (v *VectorIndex) Remove(id int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.valid, id)
}

// Len returns the number of live vectors.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.valid)
}

// vectorHit is one nearest-neighbor match.
type vectorHit struct {
	id    int64
	score float64
}

// Search returns up to k nearest ids with cosine similarity scores in
// [0,1], best first.
func (v *VectorIndex) Search(query []float32, k int) ([]vectorHit, error) {
	if len(query) != v.dims {
		return nil, fmt.Errorf("query dimension %d, index expects %d", len(query), v.dims)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph.Len() == 0 {
		return nil, nil
	}

	// Over-fetch to compensate for lazily removed nodes.
	nodes := v.graph.Search(query, k+len(v.valid)/4+1)
	hits := make([]vectorHit, 0, k)
	for _, node := range nodes {
		if !v.valid[node.Key] {
			continue
		}
		distance := v.graph.Distance(query, node.Value)
		hits = append(hits, vectorHit{id: node.Key, score: 1 - float64(distance)})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}
