package hnsw

import (
	"github.com/wzb1005/ivf-hnsw/internal/util"
)

// SearchKnn returns the k nearest labels to the query representation,
// sorted by ascending distance. ef below k is raised to k; k above the
// element count is clamped. allowed, when non-nil, restricts which nodes
// may enter the result set without restricting navigation.
func (g *Graph) SearchKnn(q []byte, k, ef int, allowed map[uint32]struct{}) []Result {
	g.globalMu.RLock()
	count := g.count
	enter := g.enterPoint
	maxLevel := g.maxLevel
	g.globalMu.RUnlock()

	if count == 0 || k <= 0 {
		return nil
	}
	if k > count {
		k = count
	}
	if ef < k {
		ef = k
	}

	distTo := func(id uint32) float32 {
		return g.space.Distance(q, g.nodes[id].payload)
	}

	// Greedy descent to layer 1.
	ep := uint32(enter)
	epDist := distTo(ep)
	for layer := maxLevel; layer > 0; layer-- {
		ep, epDist = g.greedyClosest(ep, epDist, layer, distTo)
	}

	// Bounded best-first search over the base layer.
	candidates := g.searchLayer(ep, epDist, ef, 0, distTo, allowed)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{Distance: c.Distance, Label: g.nodes[c.ID].label}
	}
	return results
}

// searchLayer runs the bounded best-first search at one layer: a min-heap
// of unexpanded candidates against a max-heap of up to ef current
// results. Returns the results sorted by ascending distance.
func (g *Graph) searchLayer(ep uint32, epDist float32, ef, layer int, distTo func(uint32) float32, allowed map[uint32]struct{}) []*util.Candidate {
	visited := g.visited.get()
	defer g.visited.put(visited)

	candidates := util.NewMinHeap(ef)
	results := util.NewMaxHeap(ef + 1)

	entry := &util.Candidate{ID: ep, Distance: epDist}
	candidates.PushCandidate(entry)
	visited.visit(ep)
	if g.admits(allowed, ep) {
		results.PushCandidate(entry)
	}

	for candidates.Len() > 0 {
		current := candidates.PopCandidate()
		if results.Len() >= ef && current.Distance > results.Top().Distance {
			break
		}

		for _, nb := range g.linkSnapshot(current.ID, layer) {
			if visited.seen(nb) {
				continue
			}
			visited.visit(nb)

			dist := distTo(nb)
			if results.Len() < ef || dist < results.Top().Distance {
				c := &util.Candidate{ID: nb, Distance: dist}
				candidates.PushCandidate(c)
				if g.admits(allowed, nb) {
					results.PushCandidate(c)
					if results.Len() > ef {
						results.PopCandidate()
					}
				}
			}
		}
	}

	// Draining the max-heap back to front leaves the slice sorted by
	// ascending distance.
	out := make([]*util.Candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = results.PopCandidate()
	}
	return out
}

func (g *Graph) admits(allowed map[uint32]struct{}, id uint32) bool {
	if allowed == nil {
		return true
	}
	_, ok := allowed[id]
	return ok
}
