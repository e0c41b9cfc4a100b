package ivfhnsw

import (
	"context"
	"time"

	"github.com/wzb1005/ivf-hnsw/internal/space"
	"github.com/wzb1005/ivf-hnsw/internal/util"
)

// Search returns the k nearest labels to q by squared Euclidean distance,
// evaluated asymmetrically over the compressed codes. Results come back
// sorted ascending; when fewer than k codes were scanned the tail is
// padded with +Inf distances and -1 labels.
//
// For a database vector y ~ centroid_l + r, the identity
//
//	||q - y||^2 = ||q - centroid_l||^2 - ||centroid_l||^2 + ||y||^2 - 2<q, r>
//
// is evaluated with the coarse term from the HNSW search, the centroid
// norm from the precomputed table, ||y||^2 from the norm quantizer, and
// <q, r> from the per-query ADC table.
func (idx *Index) Search(ctx context.Context, q []float32, k int) ([]float32, []int64, error) {
	start := time.Now()
	if idx.metrics != nil {
		idx.metrics.SearchQueries.Inc()
	}

	dists, labels, err := idx.search(ctx, q, k)
	if err != nil && idx.metrics != nil {
		idx.metrics.SearchErrors.Inc()
	}
	if idx.metrics != nil {
		idx.metrics.SearchLatency.Observe(time.Since(start).Seconds())
	}
	return dists, labels, err
}

func (idx *Index) search(ctx context.Context, q []float32, k int) ([]float32, []int64, error) {
	if idx.quantizer == nil {
		return nil, nil, ErrNoQuantizer
	}
	if !idx.pq.Trained() || !idx.normPQ.Trained() {
		return nil, nil, ErrNotTrained
	}
	if idx.centroidNorms == nil {
		if err := idx.ComputeCentroidNorms(); err != nil {
			return nil, nil, err
		}
	}
	if k <= 0 {
		return nil, nil, nil
	}

	// Coarse step: nprobe nearest centroids with their squared distances.
	coarse := idx.quantizer.SearchKnn(space.EncodeFloats(nil, q), idx.nprobe, idx.efSearch, nil)

	// Per-query scratch: the ADC table and the decoded-norms buffer are
	// local so concurrent searches never share state.
	m, ksub := idx.pq.M(), idx.pq.Ksub()
	queryTable := make([]float32, m*ksub)
	if err := idx.pq.ComputeInnerProdTable(q, queryTable); err != nil {
		return nil, nil, err
	}

	heap := util.NewResultHeap(k)
	var normScratch []float32

	ncode := 0
	probes := 0
	for _, probe := range coarse {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		key := probe.Label
		list := idx.ids[key]
		if len(list) == 0 {
			probes++
			continue
		}

		term1 := probe.Distance - idx.centroidNorms[key]
		codes := idx.codes[key]
		normCodes := idx.normCodes[key]

		if cap(normScratch) < len(list) {
			normScratch = make([]float32, len(list))
		}
		normScratch = normScratch[:len(list)]
		idx.decodeNorms(normCodes, normScratch)

		for j := range list {
			qr := idx.adcDistance(queryTable, codes[j*idx.codeSize:(j+1)*idx.codeSize])
			dist := term1 - 2*qr + normScratch[j]
			if dist < heap.WorstDistance() {
				heap.ReplaceTop(dist, int64(list[j]))
			}
		}

		ncode += len(list)
		probes++
		if idx.maxCodes > 0 && ncode >= idx.maxCodes {
			break
		}
	}

	if idx.metrics != nil {
		idx.metrics.CodesScanned.Observe(float64(ncode))
		idx.metrics.ProbesUsed.Observe(float64(probes))
	}

	dists, labels := heap.Sorted()
	return dists, labels, nil
}

// adcDistance sums the query-table entries selected by the code bytes,
// unrolled by four.
func (idx *Index) adcDistance(table []float32, code []byte) float32 {
	ksub := idx.pq.Ksub()
	var sum float32
	m := 0
	for ; m+4 <= idx.codeSize; m += 4 {
		sum += table[m*ksub+int(code[m])]
		sum += table[(m+1)*ksub+int(code[m+1])]
		sum += table[(m+2)*ksub+int(code[m+2])]
		sum += table[(m+3)*ksub+int(code[m+3])]
	}
	for ; m < idx.codeSize; m++ {
		sum += table[m*ksub+int(code[m])]
	}
	return sum
}

// decodeNorms expands norm codes into squared norms via the 1-D
// codebook.
func (idx *Index) decodeNorms(codes []byte, out []float32) {
	for j, c := range codes {
		out[j] = idx.normPQ.Centroid(0, int(c))[0]
	}
}
