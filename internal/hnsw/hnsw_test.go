package hnsw

import (
	"math/rand"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wzb1005/ivf-hnsw/internal/flat"
	"github.com/wzb1005/ivf-hnsw/internal/space"
)

func buildGraph(t *testing.T, vectors [][]float32, m, efc int, parallel bool) *Graph {
	t.Helper()
	dim := len(vectors[0])
	g, err := New(&Config{
		Space:          space.NewFloatL2(dim),
		MaxElements:    len(vectors),
		M:              m,
		EfConstruction: efc,
		RandomSeed:     7,
	})
	require.NoError(t, err)

	if !parallel {
		for i, vec := range vectors {
			require.NoError(t, g.AddPoint(space.EncodeFloats(nil, vec), uint32(i)))
		}
		return g
	}

	var wg sync.WaitGroup
	workers := runtime.GOMAXPROCS(0)
	next := make(chan int, len(vectors))
	for i := range vectors {
		next <- i
	}
	close(next)
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				if err := g.AddPoint(space.EncodeFloats(nil, vectors[i]), uint32(i)); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	return g
}

func gaussianVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func TestEmptyAndClampedSearch(t *testing.T) {
	g, err := New(&Config{Space: space.NewFloatL2(4), MaxElements: 10, M: 4, EfConstruction: 20})
	require.NoError(t, err)

	require.Empty(t, g.SearchKnn(space.EncodeFloats(nil, []float32{0, 0, 0, 0}), 5, 10, nil))

	require.NoError(t, g.AddPoint(space.EncodeFloats(nil, []float32{1, 0, 0, 0}), 0))
	require.NoError(t, g.AddPoint(space.EncodeFloats(nil, []float32{0, 1, 0, 0}), 1))

	// k above the element count clamps; ef below k is raised.
	results := g.SearchKnn(space.EncodeFloats(nil, []float32{1, 0, 0, 0}), 10, 1, nil)
	require.Len(t, results, 2)
	require.Equal(t, uint32(0), results[0].Label)
}

func TestSearchExactOnSmallSet(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	vectors := gaussianVectors(rng, 50, 8)
	g := buildGraph(t, vectors, 8, 100, false)

	for trial := 0; trial < 10; trial++ {
		target := rng.Intn(len(vectors))
		results := g.SearchKnn(space.EncodeFloats(nil, vectors[target]), 1, 50, nil)
		require.Len(t, results, 1)
		require.Equal(t, uint32(target), results[0].Label)
		require.Less(t, results[0].Distance, float32(1e-6))
	}
}

func TestResultsSortedAscending(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	vectors := gaussianVectors(rng, 200, 16)
	g := buildGraph(t, vectors, 16, 100, false)

	results := g.SearchKnn(space.EncodeFloats(nil, gaussianVectors(rng, 1, 16)[0]), 10, 100, nil)
	require.Len(t, results, 10)
	for i := 1; i < len(results); i++ {
		require.GreaterOrEqual(t, results[i].Distance, results[i-1].Distance)
	}
}

func TestLevelMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	vectors := gaussianVectors(rng, 500, 8)
	g := buildGraph(t, vectors, 8, 50, false)

	for id := uint32(0); int(id) < g.Len(); id++ {
		level := g.Level(id)
		require.Equal(t, level+1, len(g.nodes[id].links))
		for layer := 0; layer <= level; layer++ {
			for _, nb := range g.Neighbors(id, layer) {
				require.GreaterOrEqual(t, g.Level(nb), layer,
					"node %d links to %d at layer %d above its level", id, nb, layer)
			}
		}
	}
}

func TestSymmetricNeighborClosure(t *testing.T) {
	// Small enough that no list can overflow its cap, so no pruning ever
	// runs and the bidirectional link is exact.
	rng := rand.New(rand.NewSource(13))
	vectors := gaussianVectors(rng, 30, 8)
	g := buildGraph(t, vectors, 16, 50, false)

	for id := uint32(0); int(id) < g.Len(); id++ {
		for layer := 0; layer <= g.Level(id); layer++ {
			for _, nb := range g.Neighbors(id, layer) {
				back := g.Neighbors(nb, layer)
				found := false
				for _, b := range back {
					if b == id {
						found = true
						break
					}
				}
				require.True(t, found,
					"node %d missing back-link from %d at layer %d", id, nb, layer)
			}
		}
	}
}

func TestNeighborCapsAfterPruning(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	vectors := gaussianVectors(rng, 500, 8)
	m := 8
	g := buildGraph(t, vectors, m, 50, false)

	for id := uint32(0); int(id) < g.Len(); id++ {
		for layer := 0; layer <= g.Level(id); layer++ {
			maxM := m
			if layer == 0 {
				maxM = 2 * m
			}
			require.LessOrEqual(t, len(g.Neighbors(id, layer)), maxM)
		}
	}
}

func TestRecallFloorAgainstBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	const n, dim, k = 2000, 32, 10
	vectors := gaussianVectors(rng, n, dim)
	g := buildGraph(t, vectors, 16, 200, false)

	exact, err := flat.New(dim)
	require.NoError(t, err)
	for i, vec := range vectors {
		require.NoError(t, exact.Add(vec, uint32(i)))
	}

	queries := gaussianVectors(rng, 100, dim)
	hits, total := 0, 0
	for _, q := range queries {
		_, want, err := exact.Search(q, k)
		require.NoError(t, err)
		got := g.SearchKnn(space.EncodeFloats(nil, q), k, 200, nil)
		require.Len(t, got, k)

		wantSet := make(map[uint32]struct{}, k)
		for _, label := range want {
			wantSet[label] = struct{}{}
		}
		for _, r := range got {
			if _, ok := wantSet[r.Label]; ok {
				hits++
			}
		}
		total += k
	}

	recall := float64(hits) / float64(total)
	require.GreaterOrEqual(t, recall, 0.95, "recall %f below floor", recall)
}

func TestParallelBuildKeepsInvariantsAndRecall(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	const n, dim, k = 1000, 16, 10
	vectors := gaussianVectors(rng, n, dim)
	g := buildGraph(t, vectors, 16, 200, true)
	require.Equal(t, n, g.Len())

	// Invariants hold regardless of interleaving.
	for id := uint32(0); int(id) < g.Len(); id++ {
		for layer := 0; layer <= g.Level(id); layer++ {
			maxM := 16
			if layer == 0 {
				maxM = 32
			}
			require.LessOrEqual(t, len(g.Neighbors(id, layer)), maxM)
		}
	}

	exact, err := flat.New(dim)
	require.NoError(t, err)
	for i, vec := range vectors {
		require.NoError(t, exact.Add(vec, uint32(i)))
	}

	queries := gaussianVectors(rng, 50, dim)
	hits, total := 0, 0
	for _, q := range queries {
		_, want, err := exact.Search(q, k)
		require.NoError(t, err)
		got := g.SearchKnn(space.EncodeFloats(nil, q), k, 200, nil)

		wantSet := make(map[uint32]struct{}, k)
		for _, label := range want {
			wantSet[label] = struct{}{}
		}
		for _, r := range got {
			if _, ok := wantSet[r.Label]; ok {
				hits++
			}
		}
		total += k
	}
	require.GreaterOrEqual(t, float64(hits)/float64(total), 0.9)
}

func TestAllowedSetFilter(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	vectors := gaussianVectors(rng, 200, 8)
	g := buildGraph(t, vectors, 8, 100, false)

	allowed := map[uint32]struct{}{}
	for id := uint32(0); id < 50; id++ {
		allowed[id] = struct{}{}
	}

	results := g.SearchKnn(space.EncodeFloats(nil, vectors[10]), 10, 100, allowed)
	require.NotEmpty(t, results)
	for _, r := range results {
		// Labels equal internal ids in sequential builds.
		require.Less(t, r.Label, uint32(50))
	}
}

func TestSetElementLevels(t *testing.T) {
	vectors := gaussianVectors(rand.New(rand.NewSource(29)), 20, 4)
	g, err := New(&Config{Space: space.NewFloatL2(4), MaxElements: 20, M: 4, EfConstruction: 20})
	require.NoError(t, err)

	levels := make([]int, 20)
	levels[0] = 2
	levels[7] = 1
	g.SetElementLevels(levels)

	for i, vec := range vectors {
		require.NoError(t, g.AddPoint(space.EncodeFloats(nil, vec), uint32(i)))
	}

	require.Equal(t, 2, g.Level(0))
	require.Equal(t, 1, g.Level(7))
	require.Equal(t, 0, g.Level(3))
}

func TestPersistenceRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	const n, dim = 300, 8
	vectors := gaussianVectors(rng, n, dim)
	g := buildGraph(t, vectors, 8, 100, false)

	dir := t.TempDir()
	pathInfo := filepath.Join(dir, "graph.info")
	pathEdges := filepath.Join(dir, "graph.edges")
	require.NoError(t, g.SaveInfo(pathInfo))
	require.NoError(t, g.SaveEdges(pathEdges))

	loaded, err := Load(space.NewFloatL2(dim), pathInfo, pathEdges)
	require.NoError(t, err)
	require.Equal(t, g.Len(), loaded.Len())

	// Identical topology gives identical answers.
	queries := gaussianVectors(rng, 20, dim)
	for _, q := range queries {
		want := g.SearchKnn(space.EncodeFloats(nil, q), 5, 100, nil)
		got := loaded.SearchKnn(space.EncodeFloats(nil, q), 5, 100, nil)
		require.Equal(t, want, got)
	}

	for id := uint32(0); int(id) < g.Len(); id++ {
		require.Equal(t, g.Level(id), loaded.Level(id))
		require.Equal(t, g.Label(id), loaded.Label(id))
		require.Equal(t, g.Payload(id), loaded.Payload(id))
		for layer := 0; layer <= g.Level(id); layer++ {
			require.Equal(t, g.Neighbors(id, layer), loaded.Neighbors(id, layer))
		}
	}
}

func TestLoadRejectsWrongSpace(t *testing.T) {
	rng := rand.New(rand.NewSource(37))
	vectors := gaussianVectors(rng, 50, 8)
	g := buildGraph(t, vectors, 8, 50, false)

	dir := t.TempDir()
	pathInfo := filepath.Join(dir, "graph.info")
	pathEdges := filepath.Join(dir, "graph.edges")
	require.NoError(t, g.SaveInfo(pathInfo))
	require.NoError(t, g.SaveEdges(pathEdges))

	_, err := Load(space.NewFloatL2(16), pathInfo, pathEdges)
	require.Error(t, err)
}

func TestGraphFull(t *testing.T) {
	g, err := New(&Config{Space: space.NewFloatL2(2), MaxElements: 1, M: 4, EfConstruction: 10})
	require.NoError(t, err)
	require.NoError(t, g.AddPoint(space.EncodeFloats(nil, []float32{1, 2}), 0))
	require.Error(t, g.AddPoint(space.EncodeFloats(nil, []float32{3, 4}), 1))
}
