package quant

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

// ProductQuantizer implements product quantization: each subvector is
// assigned the index of its nearest codeword, so a vector compresses to M
// bytes. The same type serves as the 1-D norm quantizer when constructed
// with Dim=1, M=1.
type ProductQuantizer struct {
	config   *Config
	dsub     int // dimension of each subspace
	ksub     int // codewords per subquantizer, 2^nbits
	codeSize int // bytes per encoded vector

	// centroids[m] holds ksub codewords of dsub floats, flattened.
	centroids [][]float32
	trained   bool
	rng       *rand.Rand
}

// New creates an untrained product quantizer.
func New(config *Config) (*ProductQuantizer, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid quantizer config: %w", err)
	}

	return &ProductQuantizer{
		config:   config,
		dsub:     config.Dim / config.M,
		ksub:     1 << config.Nbits,
		codeSize: config.M,
		rng:      rand.New(rand.NewSource(config.RandomSeed)),
	}, nil
}

// M returns the number of subquantizers.
func (pq *ProductQuantizer) M() int { return pq.config.M }

// Ksub returns the number of codewords per subquantizer.
func (pq *ProductQuantizer) Ksub() int { return pq.ksub }

// DSub returns the per-subspace dimension.
func (pq *ProductQuantizer) DSub() int { return pq.dsub }

// Dim returns the full vector dimension.
func (pq *ProductQuantizer) Dim() int { return pq.config.Dim }

// CodeSize returns the number of bytes per encoded vector.
func (pq *ProductQuantizer) CodeSize() int { return pq.codeSize }

// Trained reports whether codebooks have been learned.
func (pq *ProductQuantizer) Trained() bool { return pq.trained }

// Centroid returns codeword c of subquantizer m.
func (pq *ProductQuantizer) Centroid(m, c int) []float32 {
	return pq.centroids[m][c*pq.dsub : (c+1)*pq.dsub]
}

// Train learns the per-subspace codebooks with k-means.
func (pq *ProductQuantizer) Train(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return fmt.Errorf("no training vectors provided")
	}
	for i, vec := range vectors {
		if len(vec) != pq.config.Dim {
			return fmt.Errorf("vector %d has dimension %d, expected %d", i, len(vec), pq.config.Dim)
		}
	}

	pq.centroids = make([][]float32, pq.config.M)
	for m := 0; m < pq.config.M; m++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		subvectors := make([][]float32, len(vectors))
		for i, vec := range vectors {
			subvectors[i] = vec[m*pq.dsub : (m+1)*pq.dsub]
		}

		centroids, err := pq.trainCodebook(ctx, subvectors)
		if err != nil {
			return fmt.Errorf("failed to train codebook for subquantizer %d: %w", m, err)
		}
		pq.centroids[m] = centroids
	}

	pq.trained = true
	return nil
}

// trainCodebook runs k-means over one subspace and returns ksub flattened
// centroids. With fewer distinct points than ksub the surplus codewords
// collapse onto training points, which keeps encode/decode well-defined.
func (pq *ProductQuantizer) trainCodebook(ctx context.Context, vectors [][]float32) ([]float32, error) {
	k := pq.ksub
	if k > len(vectors) {
		k = len(vectors)
	}

	centroids := make([]float32, pq.ksub*pq.dsub)
	perm := pq.rng.Perm(len(vectors))
	for i := 0; i < pq.ksub; i++ {
		src := vectors[perm[i%k]]
		copy(centroids[i*pq.dsub:(i+1)*pq.dsub], src)
	}

	assignments := make([]int, len(vectors))
	sums := make([]float32, pq.ksub*pq.dsub)
	counts := make([]int, pq.ksub)

	for iter := 0; iter < pq.config.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Assignment step
		for i, vec := range vectors {
			best := 0
			bestDist := float32(math.Inf(1))
			for c := 0; c < pq.ksub; c++ {
				dist := l2Sqr(vec, centroids[c*pq.dsub:(c+1)*pq.dsub])
				if dist < bestDist {
					bestDist = dist
					best = c
				}
			}
			assignments[i] = best
		}

		// Update step
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i, vec := range vectors {
			c := assignments[i]
			counts[c]++
			for d, v := range vec {
				sums[c*pq.dsub+d] += v
			}
		}

		shift := float64(0)
		for c := 0; c < pq.ksub; c++ {
			if counts[c] == 0 {
				// Reseed empty clusters from a random training point.
				src := vectors[pq.rng.Intn(len(vectors))]
				copy(centroids[c*pq.dsub:(c+1)*pq.dsub], src)
				continue
			}
			for d := 0; d < pq.dsub; d++ {
				mean := sums[c*pq.dsub+d] / float32(counts[c])
				diff := float64(centroids[c*pq.dsub+d] - mean)
				shift += diff * diff
				centroids[c*pq.dsub+d] = mean
			}
		}

		if shift < pq.config.Tolerance {
			break
		}
	}

	return centroids, nil
}

// Encode writes the M-byte code of vec into dst.
func (pq *ProductQuantizer) Encode(vec []float32, dst []byte) error {
	if !pq.trained {
		return fmt.Errorf("quantizer not trained")
	}
	if len(vec) != pq.config.Dim {
		return fmt.Errorf("vector dimension %d does not match expected %d", len(vec), pq.config.Dim)
	}
	if len(dst) < pq.codeSize {
		return fmt.Errorf("code buffer too small: %d < %d", len(dst), pq.codeSize)
	}

	for m := 0; m < pq.config.M; m++ {
		sub := vec[m*pq.dsub : (m+1)*pq.dsub]
		best := 0
		bestDist := float32(math.Inf(1))
		for c := 0; c < pq.ksub; c++ {
			dist := l2Sqr(sub, pq.centroids[m][c*pq.dsub:(c+1)*pq.dsub])
			if dist < bestDist {
				bestDist = dist
				best = c
			}
		}
		dst[m] = byte(best)
	}
	return nil
}

// Decode reconstructs the codeword concatenation of code into dst.
func (pq *ProductQuantizer) Decode(code []byte, dst []float32) error {
	if !pq.trained {
		return fmt.Errorf("quantizer not trained")
	}
	if len(code) < pq.codeSize {
		return fmt.Errorf("code too short: %d < %d", len(code), pq.codeSize)
	}
	if len(dst) < pq.config.Dim {
		return fmt.Errorf("output buffer too small: %d < %d", len(dst), pq.config.Dim)
	}

	for m := 0; m < pq.config.M; m++ {
		c := int(code[m])
		copy(dst[m*pq.dsub:(m+1)*pq.dsub], pq.centroids[m][c*pq.dsub:(c+1)*pq.dsub])
	}
	return nil
}

// ComputeCodes encodes n vectors into a contiguous n*codeSize buffer.
func (pq *ProductQuantizer) ComputeCodes(vectors [][]float32, dst []byte) error {
	if len(dst) < len(vectors)*pq.codeSize {
		return fmt.Errorf("code buffer too small: %d < %d", len(dst), len(vectors)*pq.codeSize)
	}
	for i, vec := range vectors {
		if err := pq.Encode(vec, dst[i*pq.codeSize:]); err != nil {
			return err
		}
	}
	return nil
}

// ComputeInnerProdTable fills table, of length M*ksub, with the inner
// products between each query subvector and each codeword. Entry
// table[m*ksub+c] = <q_m, centroid_m[c]>.
func (pq *ProductQuantizer) ComputeInnerProdTable(q []float32, table []float32) error {
	if !pq.trained {
		return fmt.Errorf("quantizer not trained")
	}
	if len(q) != pq.config.Dim {
		return fmt.Errorf("query dimension %d does not match expected %d", len(q), pq.config.Dim)
	}
	if len(table) < pq.config.M*pq.ksub {
		return fmt.Errorf("table too small: %d < %d", len(table), pq.config.M*pq.ksub)
	}

	for m := 0; m < pq.config.M; m++ {
		sub := q[m*pq.dsub : (m+1)*pq.dsub]
		for c := 0; c < pq.ksub; c++ {
			cent := pq.centroids[m][c*pq.dsub : (c+1)*pq.dsub]
			var dot float32
			for d := range sub {
				dot += sub[d] * cent[d]
			}
			table[m*pq.ksub+c] = dot
		}
	}
	return nil
}

// ComputeDistanceTable fills table, of length M*ksub, with squared L2
// distances between each query subvector and each codeword, so a code's
// asymmetric distance is the sum of its M table entries.
func (pq *ProductQuantizer) ComputeDistanceTable(q []float32, table []float32) error {
	if !pq.trained {
		return fmt.Errorf("quantizer not trained")
	}
	if len(q) != pq.config.Dim {
		return fmt.Errorf("query dimension %d does not match expected %d", len(q), pq.config.Dim)
	}
	if len(table) < pq.config.M*pq.ksub {
		return fmt.Errorf("table too small: %d < %d", len(table), pq.config.M*pq.ksub)
	}

	for m := 0; m < pq.config.M; m++ {
		sub := q[m*pq.dsub : (m+1)*pq.dsub]
		for c := 0; c < pq.ksub; c++ {
			table[m*pq.ksub+c] = l2Sqr(sub, pq.centroids[m][c*pq.dsub:(c+1)*pq.dsub])
		}
	}
	return nil
}

func l2Sqr(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
