// Package hnsw implements a hierarchical navigable small world graph for
// approximate nearest neighbor search. Upper layers form sparse long-range
// skeletons; layer 0 holds every node. The graph is generic over distance
// spaces so it can index raw float vectors, byte vectors, or PQ codes.
package hnsw

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/wzb1005/ivf-hnsw/internal/space"
)

// Config holds HNSW construction parameters.
type Config struct {
	Space          space.Space
	MaxElements    int
	M              int // max bi-directional links per node on upper layers
	MaxM0          int // max links on the base layer, normally 2*M
	EfConstruction int // dynamic candidate list size during insertion
	RandomSeed     int64
}

func (c *Config) validate() error {
	if c.Space == nil {
		return fmt.Errorf("space cannot be nil")
	}
	if c.MaxElements <= 0 {
		return fmt.Errorf("max elements must be positive, got %d", c.MaxElements)
	}
	if c.M <= 1 {
		return fmt.Errorf("M must be greater than 1, got %d", c.M)
	}
	if c.EfConstruction <= 0 {
		return fmt.Errorf("efConstruction must be positive, got %d", c.EfConstruction)
	}
	return nil
}

// node is one graph element. Its neighbor lists are protected by the lock
// at the same index in the graph's lock arena.
type node struct {
	label   uint32
	level   int
	payload []byte
	links   [][]uint32 // links[l] holds neighbor ids at layer l
}

// Result is one search answer.
type Result struct {
	Distance float32
	Label    uint32
}

// Graph is the HNSW index. Nodes live in a flat arena with a parallel
// arena of mutexes; a separate global mutex guards the enter point and
// max level.
type Graph struct {
	space          space.Space
	m              int
	maxM           int
	maxM0          int
	efConstruction int
	mult           float64 // level multiplier, 1/ln(M)

	nodes []node
	locks []sync.Mutex

	globalMu   sync.RWMutex // enter point, max level, element count
	enterPoint int32
	maxLevel   int
	count      int

	levelMu      sync.Mutex
	rng          *rand.Rand
	presetLevels []int

	visited *visitedPool
}

// New creates an empty graph sized for config.MaxElements nodes.
func New(config *Config) (*Graph, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid HNSW config: %w", err)
	}

	maxM0 := config.MaxM0
	if maxM0 == 0 {
		maxM0 = 2 * config.M
	}

	return &Graph{
		space:          config.Space,
		m:              config.M,
		maxM:           config.M,
		maxM0:          maxM0,
		efConstruction: config.EfConstruction,
		mult:           1.0 / math.Log(float64(config.M)),
		nodes:          make([]node, config.MaxElements),
		locks:          make([]sync.Mutex, config.MaxElements),
		enterPoint:     -1,
		maxLevel:       -1,
		rng:            rand.New(rand.NewSource(config.RandomSeed)),
		visited:        newVisitedPool(config.MaxElements),
	}, nil
}

// Len returns the number of inserted elements.
func (g *Graph) Len() int {
	g.globalMu.RLock()
	defer g.globalMu.RUnlock()
	return g.count
}

// MaxElements returns the arena capacity.
func (g *Graph) MaxElements() int { return len(g.nodes) }

// Space returns the graph's distance space.
func (g *Graph) Space() space.Space { return g.space }

// EfConstruction returns the construction-time candidate list size.
func (g *Graph) EfConstruction() int { return g.efConstruction }

// Payload returns the stored payload of an internal id. The slice aliases
// graph memory and must not be modified.
func (g *Graph) Payload(id uint32) []byte {
	return g.nodes[id].payload
}

// Label returns the external label of an internal id.
func (g *Graph) Label(id uint32) uint32 {
	return g.nodes[id].label
}

// Level returns the assigned level of an internal id.
func (g *Graph) Level(id uint32) int {
	return g.nodes[id].level
}

// Neighbors returns a copy of a node's neighbor list at the given layer.
func (g *Graph) Neighbors(id uint32, layer int) []uint32 {
	g.locks[id].Lock()
	defer g.locks[id].Unlock()
	if layer >= len(g.nodes[id].links) {
		return nil
	}
	out := make([]uint32, len(g.nodes[id].links[layer]))
	copy(out, g.nodes[id].links[layer])
	return out
}

// SetElementLevels pre-assigns levels by insertion order, overriding the
// random draw. Used to rebuild a graph with a known layer structure.
func (g *Graph) SetElementLevels(levels []int) {
	g.levelMu.Lock()
	defer g.levelMu.Unlock()
	g.presetLevels = levels
}

// assignLevel draws the level for the element with the given insertion
// index: floor(-ln(U(0,1)) * mult) unless a preset level exists.
func (g *Graph) assignLevel(idx int) int {
	g.levelMu.Lock()
	defer g.levelMu.Unlock()
	if g.presetLevels != nil && idx < len(g.presetLevels) {
		return g.presetLevels[idx]
	}
	u := g.rng.Float64()
	for u == 0 {
		u = g.rng.Float64()
	}
	return int(-math.Log(u) * g.mult)
}

// maxMForLayer returns the neighbor cap at a layer.
func (g *Graph) maxMForLayer(layer int) int {
	if layer == 0 {
		return g.maxM0
	}
	return g.maxM
}
