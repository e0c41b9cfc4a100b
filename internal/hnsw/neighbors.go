package hnsw

import (
	"sort"

	"github.com/wzb1005/ivf-hnsw/internal/util"
)

// selectNeighbors applies the diversity heuristic to a candidate list
// sorted by ascending distance to the payload being linked: a candidate
// is kept only if it is closer to the payload than to every neighbor
// already kept. This favors geometrically spread neighbors over a tight
// cluster of near-duplicates.
func (g *Graph) selectNeighbors(payload []byte, candidates []*util.Candidate, maxM int) []uint32 {
	selected := make([]uint32, 0, maxM)
	for _, c := range candidates {
		if len(selected) >= maxM {
			break
		}
		keep := true
		for _, s := range selected {
			if g.space.PairDistance(g.nodes[c.ID].payload, g.nodes[s].payload) <= c.Distance {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c.ID)
		}
	}
	return selected
}

// pruneLinks shrinks a node's overflowed neighbor list back to maxM using
// the same heuristic, with distances measured from the node itself. The
// caller holds the node's lock.
func (g *Graph) pruneLinks(id uint32, layer int, maxM int) {
	n := &g.nodes[id]
	links := n.links[layer]

	candidates := make([]*util.Candidate, 0, len(links))
	for _, nb := range links {
		candidates = append(candidates, &util.Candidate{
			ID:       nb,
			Distance: g.space.PairDistance(n.payload, g.nodes[nb].payload),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})

	n.links[layer] = append(n.links[layer][:0], g.selectNeighbors(n.payload, candidates, maxM)...)
}
