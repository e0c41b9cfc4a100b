package util

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMinHeapOrdering(t *testing.T) {
	h := NewMinHeap(8)
	for _, d := range []float32{3, 1, 4, 1.5, 9, 2.6} {
		h.PushCandidate(&Candidate{ID: uint32(d * 10), Distance: d})
	}

	prev := float32(math.Inf(-1))
	for h.Len() > 0 {
		c := h.PopCandidate()
		require.GreaterOrEqual(t, c.Distance, prev)
		prev = c.Distance
	}
}

func TestMaxHeapTopTracksWorst(t *testing.T) {
	h := NewMaxHeap(8)
	h.PushCandidate(&Candidate{ID: 1, Distance: 5})
	h.PushCandidate(&Candidate{ID: 2, Distance: 2})
	h.PushCandidate(&Candidate{ID: 3, Distance: 7})

	require.Equal(t, float32(7), h.Top().Distance)
	h.PopCandidate()
	require.Equal(t, float32(5), h.Top().Distance)
}

func TestResultHeapSentinels(t *testing.T) {
	h := NewResultHeap(3)
	require.True(t, math.IsInf(float64(h.WorstDistance()), 1))

	h.ReplaceTop(4, 40)

	dists, labels := h.Sorted()
	require.Len(t, dists, 3)
	require.Equal(t, float32(4), dists[0])
	require.Equal(t, int64(40), labels[0])
	require.Equal(t, int64(-1), labels[1])
	require.Equal(t, int64(-1), labels[2])
}

func TestResultHeapKeepsKSmallest(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const k, n = 10, 500

	h := NewResultHeap(k)
	all := make([]float32, n)
	for i := 0; i < n; i++ {
		d := rng.Float32() * 100
		all[i] = d
		if d < h.WorstDistance() {
			h.ReplaceTop(d, int64(i))
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	dists, _ := h.Sorted()
	for i := 0; i < k; i++ {
		require.Equal(t, all[i], dists[i])
	}
	for i := 1; i < k; i++ {
		require.LessOrEqual(t, dists[i-1], dists[i])
	}
}
