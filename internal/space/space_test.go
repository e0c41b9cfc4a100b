package space

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wzb1005/ivf-hnsw/internal/quant"
)

func TestFloatL2MatchesExact(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sp := NewFloatL2(16)

	for trial := 0; trial < 20; trial++ {
		a := randVec(rng, 16)
		b := randVec(rng, 16)
		got := sp.Distance(EncodeFloats(nil, a), EncodeFloats(nil, b))
		require.InDelta(t, L2Sqr(a, b), got, 1e-4)
		require.Equal(t, got, sp.PairDistance(EncodeFloats(nil, a), EncodeFloats(nil, b)))
	}
}

func TestFloatsRoundTrip(t *testing.T) {
	v := []float32{1.5, -2.25, 0, 3e7}
	b := EncodeFloats(nil, v)
	require.Len(t, b, 16)

	out := make([]float32, 4)
	DecodeFloats(out, b)
	require.Equal(t, v, out)
	require.Equal(t, float32(-2.25), FloatAt(b, 1))
}

func TestIntL2(t *testing.T) {
	sp := NewIntL2(4)
	a := []byte{0, 10, 255, 3}
	b := []byte{0, 13, 250, 3}
	// 9 + 25
	require.Equal(t, float32(34), sp.Distance(a, b))
	require.Equal(t, float32(34), sp.PairDistance(b, a))
	require.Equal(t, 4, sp.DataSize())
}

func TestPQADCTablesMatchDecodedDistance(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	const dim, m = 8, 4

	pq, err := quant.New(&quant.Config{Dim: dim, M: m, Nbits: 4, MaxIterations: 20, Tolerance: 1e-6, RandomSeed: 3})
	require.NoError(t, err)

	train := make([][]float32, 200)
	for i := range train {
		train[i] = randVec(rng, dim)
	}
	require.NoError(t, pq.Train(context.Background(), train))

	sp, err := NewPQADC(pq)
	require.NoError(t, err)
	require.Equal(t, m, sp.DataSize())

	queries := [][]float32{randVec(rng, dim), randVec(rng, dim)}
	require.NoError(t, sp.ComputeQueryTables(queries))

	code := make([]byte, m)
	decoded := make([]float32, dim)
	for qi, q := range queries {
		for trial := 0; trial < 10; trial++ {
			require.NoError(t, pq.Encode(randVec(rng, dim), code))
			require.NoError(t, pq.Decode(code, decoded))

			got := sp.Distance(sp.QueryRepr(qi), code)
			require.InDelta(t, L2Sqr(q, decoded), got, 1e-3)
		}
	}
}

func TestPQADCPairDistance(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	const dim, m = 8, 2

	pq, err := quant.New(&quant.Config{Dim: dim, M: m, Nbits: 4, MaxIterations: 20, Tolerance: 1e-6, RandomSeed: 5})
	require.NoError(t, err)

	train := make([][]float32, 100)
	for i := range train {
		train[i] = randVec(rng, dim)
	}
	require.NoError(t, pq.Train(context.Background(), train))

	sp, err := NewPQADC(pq)
	require.NoError(t, err)

	a, b := make([]byte, m), make([]byte, m)
	da, db := make([]float32, dim), make([]float32, dim)
	for trial := 0; trial < 10; trial++ {
		require.NoError(t, pq.Encode(randVec(rng, dim), a))
		require.NoError(t, pq.Encode(randVec(rng, dim), b))
		require.NoError(t, pq.Decode(a, da))
		require.NoError(t, pq.Decode(b, db))

		require.InDelta(t, L2Sqr(da, db), sp.PairDistance(a, b), 1e-3)
	}
}

func TestPQADCRequiresTrainedQuantizer(t *testing.T) {
	pq, err := quant.New(&quant.Config{Dim: 8, M: 2, Nbits: 4, MaxIterations: 5, Tolerance: 1e-6})
	require.NoError(t, err)

	_, err = NewPQADC(pq)
	require.Error(t, err)
}

func randVec(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}
