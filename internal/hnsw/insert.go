package hnsw

import (
	"fmt"
)

// AddPoint inserts a payload with an external label. Safe for concurrent
// use; the resulting graph depends on interleaving but always satisfies
// the layer and symmetry invariants.
func (g *Graph) AddPoint(payload []byte, label uint32) error {
	if len(payload) != g.space.DataSize() {
		return fmt.Errorf("payload size %d does not match space data size %d",
			len(payload), g.space.DataSize())
	}

	g.globalMu.Lock()
	if g.count >= len(g.nodes) {
		g.globalMu.Unlock()
		return fmt.Errorf("graph is full: %d elements", len(g.nodes))
	}
	id := uint32(g.count)
	g.count++
	curEnter := g.enterPoint
	curMax := g.maxLevel
	g.globalMu.Unlock()

	level := g.assignLevel(int(id))

	n := &g.nodes[id]
	n.label = label
	n.level = level
	n.payload = append([]byte(nil), payload...)
	n.links = make([][]uint32, level+1)
	for l := 0; l <= level; l++ {
		n.links[l] = make([]uint32, 0, g.maxMForLayer(l))
	}

	if curEnter < 0 {
		g.globalMu.Lock()
		if g.enterPoint < 0 {
			g.enterPoint = int32(id)
			g.maxLevel = level
			g.globalMu.Unlock()
			return nil
		}
		// Another insert installed the enter point first.
		curEnter = g.enterPoint
		curMax = g.maxLevel
		g.globalMu.Unlock()
	}

	// Phase 1: greedy descent from the top layer down to level+1.
	ep := uint32(curEnter)
	epDist := g.space.PairDistance(payload, g.nodes[ep].payload)
	for layer := curMax; layer > level; layer-- {
		ep, epDist = g.greedyClosest(ep, epDist, layer, func(cand uint32) float32 {
			return g.space.PairDistance(payload, g.nodes[cand].payload)
		})
	}

	// Phase 2: link into every layer from min(level, curMax) down to 0.
	top := level
	if curMax < top {
		top = curMax
	}
	for layer := top; layer >= 0; layer-- {
		candidates := g.searchLayer(ep, epDist, g.efConstruction, layer, func(cand uint32) float32 {
			return g.space.PairDistance(payload, g.nodes[cand].payload)
		}, nil)

		selected := g.selectNeighbors(payload, candidates, g.maxMForLayer(layer))
		g.connect(id, selected, layer)

		if len(candidates) > 0 {
			ep, epDist = candidates[0].ID, candidates[0].Distance
		}
	}

	if level > curMax {
		g.globalMu.Lock()
		if level > g.maxLevel {
			g.maxLevel = level
			g.enterPoint = int32(id)
		}
		g.globalMu.Unlock()
	}

	return nil
}

// connect links id bidirectionally to the selected neighbors at a layer,
// re-pruning any neighbor whose list overflows its cap. Locks are taken
// one node at a time, the new node's before each neighbor's, so two
// concurrent inserts that select each other cannot wait on one another.
func (g *Graph) connect(id uint32, selected []uint32, layer int) {
	maxM := g.maxMForLayer(layer)

	g.locks[id].Lock()
	n := &g.nodes[id]
	n.links[layer] = append(n.links[layer], selected...)
	g.locks[id].Unlock()

	for _, nb := range selected {
		g.locks[nb].Lock()
		nbNode := &g.nodes[nb]
		if layer < len(nbNode.links) {
			nbNode.links[layer] = append(nbNode.links[layer], id)
			if len(nbNode.links[layer]) > maxM {
				g.pruneLinks(nb, layer, maxM)
			}
		}
		g.locks[nb].Unlock()
	}
}

// greedyClosest hops to the closest neighbor at a layer until no neighbor
// improves, returning the final node and its distance.
func (g *Graph) greedyClosest(ep uint32, epDist float32, layer int, distTo func(uint32) float32) (uint32, float32) {
	for {
		improved := false
		for _, nb := range g.linkSnapshot(ep, layer) {
			if d := distTo(nb); d < epDist {
				ep, epDist = nb, d
				improved = true
			}
		}
		if !improved {
			return ep, epDist
		}
	}
}

// linkSnapshot copies a node's neighbor list at a layer under its lock.
func (g *Graph) linkSnapshot(id uint32, layer int) []uint32 {
	g.locks[id].Lock()
	defer g.locks[id].Unlock()
	n := &g.nodes[id]
	if layer >= len(n.links) {
		return nil
	}
	out := make([]uint32, len(n.links[layer]))
	copy(out, n.links[layer])
	return out
}
