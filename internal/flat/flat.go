// Package flat implements a brute-force exact index over float vectors.
// It exists as the ground-truth baseline for recall evaluation; every
// query is compared against every stored vector.
package flat

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wzb1005/ivf-hnsw/internal/space"
	"github.com/wzb1005/ivf-hnsw/internal/util"
)

// Index is a flat (brute-force) vector index.
type Index struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
	labels  []uint32
}

// New creates a flat index of the given dimension.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	return &Index{dim: dim}, nil
}

// Add stores a vector under a label.
func (idx *Index) Add(vec []float32, label uint32) error {
	if len(vec) != idx.dim {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(vec), idx.dim)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors = append(idx.vectors, append([]float32(nil), vec...))
	idx.labels = append(idx.labels, label)
	return nil
}

// Len returns the number of stored vectors.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// Search returns the exact k nearest labels by squared Euclidean
// distance, sorted ascending. k above the element count is clamped.
func (idx *Index) Search(q []float32, k int) ([]float32, []uint32, error) {
	if len(q) != idx.dim {
		return nil, nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(q), idx.dim)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if k > len(idx.vectors) {
		k = len(idx.vectors)
	}
	if k <= 0 {
		return nil, nil, nil
	}

	top := util.NewMaxHeap(k + 1)
	for i, vec := range idx.vectors {
		dist := space.L2Sqr(q, vec)
		if top.Len() < k {
			top.PushCandidate(&util.Candidate{ID: uint32(i), Distance: dist})
		} else if dist < top.Top().Distance {
			top.PushCandidate(&util.Candidate{ID: uint32(i), Distance: dist})
			top.PopCandidate()
		}
	}

	out := make([]*util.Candidate, top.Len())
	for i := top.Len() - 1; i >= 0; i-- {
		out[i] = top.PopCandidate()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })

	dists := make([]float32, len(out))
	labels := make([]uint32, len(out))
	for i, c := range out {
		dists[i] = c.Distance
		labels[i] = idx.labels[c.ID]
	}
	return dists, labels, nil
}
